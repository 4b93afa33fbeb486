package trust

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citelab/citepipe/internal/cache"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewWithClient(client, "1", nil)
	t.Cleanup(func() { c.Close() })
	return NewRedisStore(c), mr
}

func TestDomainReliabilityBounds(t *testing.T) {
	store, _ := newTestStore(t)
	prior := NewPrior(store, zap.NewNop())
	ctx := context.Background()

	// Sweep the whole ratio range; the smoothed prior must stay in
	// [MinReliability, MaxReliability].
	for _, ratio := range []float64{0.0, 0.1, 0.25, 0.5, 0.75, 0.9, 1.0} {
		require.NoError(t, store.SetRatio(ctx, "example.com", ratio))
		got := prior.DomainReliability(ctx, "example.com")
		assert.GreaterOrEqual(t, got, MinReliability, "ratio %f", ratio)
		assert.LessOrEqual(t, got, MaxReliability, "ratio %f", ratio)
	}
}

func TestDomainReliabilityMapping(t *testing.T) {
	store, _ := newTestStore(t)
	prior := NewPrior(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SetRatio(ctx, "always.com", 1.0))
	assert.Equal(t, MaxReliability, prior.DomainReliability(ctx, "always.com"))

	require.NoError(t, store.SetRatio(ctx, "half.com", 0.5))
	assert.InDelta(t, 0.65, prior.DomainReliability(ctx, "half.com"), 1e-9)

	// Unknown domain reads ratio 0, the floor of the range.
	assert.Equal(t, MinReliability, prior.DomainReliability(ctx, "unknown.com"))
}

func TestDomainReliabilityEmptyDomainNeutral(t *testing.T) {
	store, _ := newTestStore(t)
	prior := NewPrior(store, zap.NewNop())
	assert.Equal(t, NeutralReliability, prior.DomainReliability(context.Background(), ""))
}

func TestDomainReliabilityCaseInsensitive(t *testing.T) {
	store, _ := newTestStore(t)
	prior := NewPrior(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SetRatio(ctx, "example.com", 1.0))
	assert.Equal(t, MaxReliability, prior.DomainReliability(ctx, "Example.COM"))
}

func TestGetRatioUnparseableDegradesToZero(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Set("ai_search:v1:trust:domain:bad.com:ratio", "not-a-float")

	ratio, err := store.GetRatio(context.Background(), "bad.com")
	require.NoError(t, err)
	assert.Equal(t, 0.0, ratio)
}

func TestUpdateDomainReliability(t *testing.T) {
	store, _ := newTestStore(t)
	prior := NewPrior(store, zap.NewNop())
	ctx := context.Background()

	prior.UpdateDomainReliability(ctx, map[string]DomainStats{
		"cited.com":   {Appearances: 4, Cited: 2},
		"ignored.com": {Appearances: 3, Cited: 0},
		"skipped.com": {Appearances: 0, Cited: 1},
	})

	ratio, err := store.GetRatio(ctx, "cited.com")
	require.NoError(t, err)
	assert.Equal(t, 0.5, ratio)

	ratio, err = store.GetRatio(ctx, "ignored.com")
	require.NoError(t, err)
	assert.Equal(t, 0.0, ratio)

	// Zero appearances writes nothing; the domain reads back as absent.
	ratio, err = store.GetRatio(ctx, "skipped.com")
	require.NoError(t, err)
	assert.Equal(t, 0.0, ratio)
}

func TestUpdateDomainReliabilityClampsRatio(t *testing.T) {
	store, _ := newTestStore(t)
	prior := NewPrior(store, zap.NewNop())
	ctx := context.Background()

	// Cited can exceed appearances when a source supports several claims.
	prior.UpdateDomainReliability(ctx, map[string]DomainStats{
		"busy.com": {Appearances: 2, Cited: 5},
	})

	ratio, err := store.GetRatio(ctx, "busy.com")
	require.NoError(t, err)
	assert.Equal(t, 1.0, ratio)
}

type failingStore struct{}

func (failingStore) GetRatio(ctx context.Context, domain string) (float64, error) {
	return 0, errors.New("store down")
}

func (failingStore) SetRatio(ctx context.Context, domain string, ratio float64) error {
	return errors.New("store down")
}

func TestStoreFailuresDegrade(t *testing.T) {
	prior := NewPrior(failingStore{}, zap.NewNop())
	ctx := context.Background()

	// Read failure degrades to the floor, never an error or panic.
	assert.Equal(t, MinReliability, prior.DomainReliability(ctx, "example.com"))

	// Write failure is swallowed.
	prior.UpdateDomainReliability(ctx, map[string]DomainStats{
		"example.com": {Appearances: 1, Cited: 1},
	})
}

func TestPersistedKeyShape(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, store.SetRatio(context.Background(), "example.com", 0.25))

	val, err := mr.Get("ai_search:v1:trust:domain:example.com:ratio")
	require.NoError(t, err)
	assert.Equal(t, "0.25", val)
	// Trust priors are permanent.
	assert.Equal(t, int64(0), int64(mr.TTL("ai_search:v1:trust:domain:example.com:ratio")))
}
