package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"shardvault/internal/auth"
	"shardvault/internal/digest"
	"shardvault/internal/metrics"
	"shardvault/internal/pipeline"
	"shardvault/internal/profile"
	"shardvault/internal/provider"
)

// DefaultMaxObjectSize bounds request bodies accepted by object uploads.
const DefaultMaxObjectSize = 1 << 30

// Server exposes a Pipeline over HTTP with JSON responses.
type Server struct {
	pipe          *pipeline.Pipeline
	registry      *provider.Registry
	metrics       *metrics.Metrics
	auth          auth.AuthEngine
	maxObjectSize int64
}

type Option func(*Server)

func WithAuthEngine(engine auth.AuthEngine) Option {
	return func(s *Server) {
		s.auth = engine
	}
}

// WithRegistry lets GET /providers report catalog status next to profiles.
func WithRegistry(registry *provider.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithMaxObjectSize(n int64) Option {
	return func(s *Server) {
		s.maxObjectSize = n
	}
}

func New(pipe *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{
		pipe:          pipe,
		auth:          auth.Open{},
		maxObjectSize: DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, r *http.Request, code string, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Code:      code,
		Message:   message,
		Resource:  r.URL.Path,
		RequestID: r.Header.Get(RequestIDHeader),
	})
}

// writePipelineError maps a pipeline error onto an HTTP status.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code   string
		status int
	)

	switch {
	case errors.Is(err, pipeline.ErrManifestNotFound):
		code, status = "NoSuchObject", http.StatusNotFound
	case errors.Is(err, pipeline.ErrQuotaExceeded):
		code, status = "QuotaExceeded", http.StatusPaymentRequired
	case errors.Is(err, pipeline.ErrNoProviders):
		code, status = "NoProviders", http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrDispatchFailure):
		code, status = "DispatchFailed", http.StatusBadGateway
	case errors.Is(err, pipeline.ErrCorruptManifest):
		code, status = "CorruptManifest", http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrCorruptChunk):
		code, status = "CorruptChunk", http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrCodingFailure):
		code, status = "CodingFailure", http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrEncryptionFailure):
		code, status = "EncryptionFailure", http.StatusInternalServerError
	default:
		code, status = "InternalError", http.StatusInternalServerError
	}

	writeError(w, r, code, err.Error(), status)
}

// writeJSONResponse encodes v as JSON and writes it to w with status.
func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// parseHash reads the {hash} path value, writing a 400 on failure.
func parseHash(w http.ResponseWriter, r *http.Request) (digest.Hash, bool) {
	hash, err := digest.Parse(r.PathValue("hash"))
	if err != nil {
		writeError(w, r, "InvalidHash", fmt.Sprintf("invalid object hash: %v", err), http.StatusBadRequest)
		return digest.Hash{}, false
	}
	return hash, true
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request) {
	lane := r.PathValue("lane")
	if lane == "" {
		writeError(w, r, "InvalidLane", "lane must not be empty", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxObjectSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, "EntityTooLarge", fmt.Sprintf("object exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, r, "IncompleteBody", err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := s.pipe.Put(r.Context(), lane, body)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	w.Header().Set("Location", "/objects/"+receipt.ManifestHash.String())
	writeJSONResponse(w, http.StatusCreated, receipt)
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}

	payload, err := s.pipe.Get(r.Context(), hash)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("ETag", fmt.Sprintf("\"%s\"", hash))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleManifestGet(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}

	m, err := s.pipe.Manifest(hash)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, m)
}

func (s *Server) handleReceiptGet(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}

	receipt, err := s.pipe.Receipt(hash)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, receipt)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}

	if err := s.pipe.Delete(hash); err != nil {
		writePipelineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleObjectRepair(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}

	report, err := s.pipe.Repair(r.Context(), hash)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, report)
}

func (s *Server) handleListManifests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, "InvalidArgument", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	summaries, err := s.pipe.Manifests(limit)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ListManifestsResult{Manifests: summaries})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.pipe.Profiles()
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	profiles := make(map[string]profile.Profile, len(snapshots))
	for _, snap := range snapshots {
		profiles[snap.Provider] = snap.Profile
	}

	result := ListProvidersResult{Providers: make([]ProviderView, 0)}
	if s.registry != nil {
		for _, status := range s.registry.Statuses() {
			view := ProviderView{ID: status.ID, Status: &status}
			if p, ok := profiles[status.ID]; ok {
				view.Profile = &p
				delete(profiles, status.ID)
			}
			result.Providers = append(result.Providers, view)
		}
	}

	// Profiles of providers no longer in the catalog.
	for _, snap := range snapshots {
		if p, ok := profiles[snap.Provider]; ok {
			result.Providers = append(result.Providers, ProviderView{ID: snap.Provider, Profile: &p})
		}
	}

	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleProviderMaintenance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req MaintenanceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, r, "MalformedJSON", fmt.Sprintf("invalid maintenance request: %v", err), http.StatusBadRequest)
		return
	}

	if s.registry != nil {
		if _, ok := s.registry.Get(id); !ok {
			writeError(w, r, "NoSuchProvider", fmt.Sprintf("unknown provider %q", id), http.StatusNotFound)
			return
		}
	}

	if err := s.pipe.SetMaintenance(id, req.Maintenance); err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, req)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipe.Sweep()
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, report)
}
