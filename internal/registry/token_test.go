package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSourceCachesUntilRefreshGap(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := NewTokenSource("client", "secret", "https://registry")
	require.NoError(t, err)
	ts.now = func() time.Time { return now }

	first, err := ts.Token()
	require.NoError(t, err)

	now = now.Add(tokenLifetime - tokenRefreshGap - time.Second)
	same, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, first, same)

	now = now.Add(2 * time.Second)
	fresh, err := ts.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
}

func TestTokenSourceInvalidate(t *testing.T) {
	ts, err := NewTokenSource("client", "secret", "aud")
	require.NoError(t, err)

	first, err := ts.Token()
	require.NoError(t, err)
	ts.Invalidate()
	second, err := ts.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "jti differs per signed token")
}

func TestNewTokenSourceValidates(t *testing.T) {
	_, err := NewTokenSource("", "secret", "aud")
	assert.Error(t, err)
	_, err = NewTokenSource("client", "", "aud")
	assert.Error(t, err)
}
