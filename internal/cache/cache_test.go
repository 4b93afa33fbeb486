package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewWithClient(client, "2", nil)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestKeyNamespacing(t *testing.T) {
	c, _ := newTestCache(t)
	assert.Equal(t, "ai_search:v2:trust:domain:example.com:ratio", c.Key("trust:domain:example.com:ratio"))
}

func TestGetSetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	key := c.Key("answer:abc")
	require.NoError(t, c.Set(ctx, key, "cached answer", time.Minute))

	val, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "cached answer", val)
}

func TestGetMissing(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Get(context.Background(), c.Key("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPermanentTTLNeverExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	key := c.Key("trust:domain:example.com:ratio")
	require.NoError(t, c.Set(ctx, key, "0.5", PermanentTTL))

	// No TTL set on the underlying key.
	assert.Equal(t, time.Duration(0), mr.TTL(key))

	mr.FastForward(24 * time.Hour)
	val, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "0.5", val)
}

func TestZeroTTLAppliesDefault(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	key := c.Key("answer:xyz")
	require.NoError(t, c.Set(ctx, key, "v", 0))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	mr.FastForward(2 * time.Hour)
	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		RunID string  `json:"run_id"`
		Score float64 `json:"score"`
	}
	key := c.Key("run:r1")
	require.NoError(t, c.SetJSON(ctx, key, payload{RunID: "r1", Score: 0.75}, PermanentTTL))

	var got payload
	require.NoError(t, c.GetJSON(ctx, key, &got))
	assert.Equal(t, payload{RunID: "r1", Score: 0.75}, got)
}

func TestGetJSONCorruptValue(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	key := c.Key("run:bad")
	require.NoError(t, c.Set(ctx, key, "{not json", time.Minute))

	var got map[string]string
	assert.Error(t, c.GetJSON(ctx, key, &got))
}

func TestPushRecentCapsAndOrders(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	key := c.Key("runs:index")
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		require.NoError(t, c.PushRecent(ctx, key, id, 3))
	}

	got, err := c.Recent(ctx, key, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"r4", "r3", "r2"}, got, "newest first, capped at 3")
}
