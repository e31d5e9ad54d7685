package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDenylist(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	d := NewMemoryDenylist()
	d.now = func() time.Time { return now }

	require.NoError(t, d.Revoke(ctx, "live", now.Add(time.Hour)))
	require.NoError(t, d.Revoke(ctx, "already-expired", now.Add(-time.Second)))

	revoked, err := d.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, _ = d.IsRevoked(ctx, "already-expired")
	assert.False(t, revoked, "a token past its expiry needs no entry")

	revoked, _ = d.IsRevoked(ctx, "never-seen")
	assert.False(t, revoked)

	// Once the token itself would have expired the entry is irrelevant.
	now = now.Add(2 * time.Hour)
	revoked, _ = d.IsRevoked(ctx, "live")
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "other", now.Add(time.Minute)))
	assert.NotContains(t, d.revoked, "live", "expired entries are swept on write")
}
