package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (ActivityTracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisTrackerWithClient(rdb, ""), mr
}

func TestTracker_TouchAndLastSeen(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, tr.Touch(ctx, "access-token-value", 15*time.Minute))

	seen, ok, err := tr.LastSeen(ctx, "access-token-value")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, seen.After(before))
}

func TestTracker_UnknownToken(t *testing.T) {
	tr, _ := newTestTracker(t)

	_, ok, err := tr.LastSeen(context.Background(), "never-seen")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTracker_RecordExpiresWithTTL(t *testing.T) {
	tr, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Touch(ctx, "short-lived", time.Minute))

	mr.FastForward(2 * time.Minute)

	_, ok, err := tr.LastSeen(ctx, "short-lived")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTracker_RawTokenNotStored(t *testing.T) {
	tr, mr := newTestTracker(t)
	ctx := context.Background()

	const token = "eyJhbGciOiJIUzI1NiJ9.secret-part.sig"
	require.NoError(t, tr.Touch(ctx, token, time.Minute))

	// В Redis попадает только хэш токена.
	for _, k := range mr.Keys() {
		require.NotContains(t, k, "secret-part")
	}

	_, ok, err := tr.LastSeen(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
}
