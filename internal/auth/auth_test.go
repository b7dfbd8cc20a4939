package auth_test

import (
	"net/http"
	"net/http/httptest"
	"shardvault/internal/auth"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	AccessKeyID     = "vaultadmin"
	SecretAccessKey = "vaultsecret"
)

func TestBasicAuthEngine(t *testing.T) {
	t.Parallel()

	engine := auth.NewBasicAuthEngine(AccessKeyID, SecretAccessKey)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  bool
	}{
		{name: "valid", setup: func(r *http.Request) { r.SetBasicAuth(AccessKeyID, SecretAccessKey) }, want: true},
		{name: "wrong secret", setup: func(r *http.Request) { r.SetBasicAuth(AccessKeyID, "nope") }},
		{name: "wrong user", setup: func(r *http.Request) { r.SetBasicAuth("someone", SecretAccessKey) }},
		{name: "missing header", setup: func(*http.Request) {}},
		{name: "bearer token", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }},
		{name: "bad base64", setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic !!!") }},
		{name: "no colon", setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic dmF1bHRhZG1pbg==") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/manifests", nil)
			tc.setup(r)

			ok, err := engine.AuthenticateRequest(t.Context(), r)
			require.NoError(t, err, "AuthenticateRequest error")
			require.Equal(t, tc.want, ok, "authenticated")
		})
	}
}

func TestFromCredentials(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/manifests", nil)

	ok, err := auth.FromCredentials("", "").AuthenticateRequest(t.Context(), r)
	require.NoError(t, err, "AuthenticateRequest error")
	require.True(t, ok, "no credentials means open access")

	ok, err = auth.FromCredentials(AccessKeyID, SecretAccessKey).AuthenticateRequest(t.Context(), r)
	require.NoError(t, err, "AuthenticateRequest error")
	require.False(t, ok, "configured credentials must be presented")
}
