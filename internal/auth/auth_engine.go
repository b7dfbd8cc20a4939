package auth

import (
	"context"
	"net/http"
)

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for valid
	// authentication credentials. If valid, it returns true; otherwise, it
	// returns false. An error is returned if there was an issue processing
	// the authentication.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (bool, error)
}

// Open accepts every request. It is used when no credentials are
// configured.
type Open struct{}

func (Open) AuthenticateRequest(context.Context, *http.Request) (bool, error) {
	return true, nil
}

// FromCredentials returns a BasicAuthEngine for the pair, or Open when
// accessKeyID is empty.
func FromCredentials(accessKeyID string, secretAccessKey string) AuthEngine {
	if accessKeyID == "" {
		return Open{}
	}
	return NewBasicAuthEngine(accessKeyID, secretAccessKey)
}
