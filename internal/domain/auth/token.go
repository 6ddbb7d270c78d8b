package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenVerifier validates HMAC-signed customer bearer tokens. Tokens are
// issued by the account service; the customer id is read from the "sub"
// claim, falling back to "user.id".
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a TokenVerifier for secret.
func NewTokenVerifier(secret []byte) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	return &TokenVerifier{secret: secret}, nil
}

// CustomerID parses token and returns the customer it was issued to.
func (v *TokenVerifier) CustomerID(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || parsed == nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if user, ok := claims["user"].(map[string]any); ok {
		if id, ok := user["id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", ErrInvalidToken
}

// Issue signs a token for customerID valid for ttl. It serves local tooling
// and tests.
func (v *TokenVerifier) Issue(customerID string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   customerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}
