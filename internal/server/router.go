package server

import (
	"net/http"
)

// Handler returns an http.Handler implementing the object API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Objects
	mux.HandleFunc("PUT /lanes/{lane}/objects", s.handleObjectPut)
	mux.HandleFunc("GET /objects/{hash}", s.handleObjectGet)
	mux.HandleFunc("DELETE /objects/{hash}", s.handleObjectDelete)
	mux.HandleFunc("GET /objects/{hash}/manifest", s.handleManifestGet)
	mux.HandleFunc("GET /objects/{hash}/receipt", s.handleReceiptGet)
	mux.HandleFunc("POST /objects/{hash}/repair", s.handleObjectRepair)
	mux.HandleFunc("GET /manifests", s.handleListManifests)

	// Providers and maintenance
	mux.HandleFunc("GET /providers", s.handleListProviders)
	mux.HandleFunc("PUT /providers/{id}/maintenance", s.handleProviderMaintenance)
	mux.HandleFunc("POST /admin/sweep", s.handleSweep)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return LogRequest(Recoverer(RequireAuthentication(s.auth)(SlashFix(mux))))
}
