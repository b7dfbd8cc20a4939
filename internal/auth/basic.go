package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

type BasicAuthEngine struct {
	AccessKeyID     string
	SecretAccessKey string
}

const (
	BasicAuthPrefix = "Basic "
)

// NewBasicAuthEngine creates a new BasicAuthEngine with the given access key ID
// and secret access key.
func NewBasicAuthEngine(accessKeyID string, secretAccessKey string) *BasicAuthEngine {
	return &BasicAuthEngine{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	}
}

// AuthenticateRequest checks the Authorization header for valid Basic Auth
// credentials. It returns true if the credentials are valid, false otherwise.
func (e *BasicAuthEngine) AuthenticateRequest(_ context.Context, r *http.Request) (bool, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, BasicAuthPrefix) {
		return false, nil
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(BasicAuthPrefix):]))
	if err != nil {
		return false, nil
	}

	user, secret, ok := strings.Cut(string(payload), ":")
	if !ok {
		return false, nil
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(e.AccessKeyID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(e.SecretAccessKey)) == 1
	return userOK && secretOK, nil
}
