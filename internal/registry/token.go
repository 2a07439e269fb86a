package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenLifetime   = 5 * time.Minute
	tokenRefreshGap = 30 * time.Second
)

// TokenSource issues HS256 client-assertion tokens for the registry and
// reuses one until shortly before it expires.
type TokenSource struct {
	clientID string
	audience string
	secret   []byte
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSource(clientID, secret, audience string) (*TokenSource, error) {
	if clientID == "" {
		return nil, errors.New("registry client id is required")
	}
	if secret == "" {
		return nil, errors.New("registry client secret is required")
	}
	return &TokenSource{
		clientID: clientID,
		audience: audience,
		secret:   []byte(secret),
		now:      time.Now,
	}, nil
}

// Token returns a valid bearer token.
func (t *TokenSource) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.token != "" && now.Before(t.expires.Add(-tokenRefreshGap)) {
		return t.token, nil
	}

	expires := now.Add(tokenLifetime)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    t.clientID,
		Subject:   t.clientID,
		Audience:  []string{t.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign registry token: %w", err)
	}
	t.token = signed
	t.expires = expires
	return signed, nil
}

// Invalidate drops the cached token so the next call signs a fresh one.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}
