package handler

import (
	"context"
	"crypto/subtle"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/auth"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

// ErrUnauthorized is returned for any API key that does not authenticate.
var ErrUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates admin requests via HMAC-SHA256 hashed API
// keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HandleAPIKey hashes key, looks the hash up and compares it with the stored
// one in constant time.
func (s *SecurityHandler) HandleAPIKey(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := auth.HashAPIKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hash)
	switch {
	case errors.Is(err, auth.ErrKeyNotFound):
		return nil, ErrUnauthorized
	case err != nil:
		return nil, errors.Wrap(err, "find api key")
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, ErrUnauthorized
	}
	return info, nil
}
