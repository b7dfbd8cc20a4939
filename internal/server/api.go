package server

import (
	"shardvault/internal/manifest"
	"shardvault/internal/profile"
	"shardvault/internal/provider"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Resource  string `json:"resource"`
	RequestID string `json:"request_id,omitempty"`
}

type ListManifestsResult struct {
	Manifests []manifest.Summary `json:"manifests"`
}

// ProviderView joins the catalog's status for a provider with its stored
// profile. Either side may be missing.
type ProviderView struct {
	ID      string           `json:"id"`
	Status  *provider.Status `json:"status,omitempty"`
	Profile *profile.Profile `json:"profile,omitempty"`
}

type ListProvidersResult struct {
	Providers []ProviderView `json:"providers"`
}

type MaintenanceRequest struct {
	Maintenance bool `json:"maintenance"`
}
