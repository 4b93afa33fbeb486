// Package trust maintains the learned per-domain reliability prior: a rolling
// citations-over-appearances ratio fed back from each run's outcome. This is
// the only feedback loop that lets domain trust adapt across runs, and it is
// intentionally decoupled from any static authority table.
package trust

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/citelab/citepipe/internal/cache"
	"github.com/citelab/citepipe/internal/metrics"
)

// Bounds of the smoothed prior. The raw ratio in [0,1] is compressed into the
// upper middle of the range so an unknown domain is never punished hard and a
// perfect record never dominates content signals.
const (
	MinReliability     = 0.4
	MaxReliability     = 0.9
	NeutralReliability = 0.5
)

// Store reads and writes the persisted per-domain ratio. Backed by the Redis
// cache layer in production; injected so the selector stays testable.
type Store interface {
	GetRatio(ctx context.Context, domain string) (float64, error)
	SetRatio(ctx context.Context, domain string, ratio float64) error
}

// DomainStats is one domain's outcome for a finished run.
type DomainStats struct {
	Appearances int
	Cited       int
}

// Prior exposes the smoothed reliability value and the end-of-run feedback
// update.
type Prior struct {
	store  Store
	logger *zap.Logger
}

// NewPrior creates a Prior over the given store.
func NewPrior(store Store, logger *zap.Logger) *Prior {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prior{store: store, logger: logger}
}

// DomainReliability returns the smoothed prior in [0.4, 0.9]. Empty domain is
// neutral 0.5. Store or parse failures degrade to ratio 0 — a missing prior
// must never fail a selection.
func (p *Prior) DomainReliability(ctx context.Context, domain string) float64 {
	if domain == "" {
		return NeutralReliability
	}
	ratio, err := p.store.GetRatio(ctx, strings.ToLower(domain))
	if err != nil {
		ratio = 0.0
	}
	compressed := ratio * 0.5
	if compressed < 0 {
		compressed = 0
	}
	if compressed > 0.5 {
		compressed = 0.5
	}
	return MinReliability + compressed
}

// UpdateDomainReliability writes back clamp(cited/appearances, 0, 1) for each
// domain with at least one appearance. Called once per run; last write wins.
// Write failures are logged and dropped, never propagated.
func (p *Prior) UpdateDomainReliability(ctx context.Context, stats map[string]DomainStats) {
	for domain, s := range stats {
		if s.Appearances <= 0 {
			continue
		}
		ratio := float64(s.Cited) / float64(s.Appearances)
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		if err := p.store.SetRatio(ctx, strings.ToLower(domain), ratio); err != nil {
			p.logger.Warn("Failed to update domain reliability",
				zap.String("domain", domain),
				zap.Error(err),
			)
			metrics.TrustStoreErrors.WithLabelValues("set").Inc()
			continue
		}
		metrics.TrustPriorsUpdated.Inc()
	}
}

// RedisStore persists ratios as string-encoded floats under
// trust:domain:{domain}:ratio with no expiry.
type RedisStore struct {
	cache *cache.Cache
}

// NewRedisStore creates a Store over the shared cache layer.
func NewRedisStore(c *cache.Cache) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) key(domain string) string {
	return s.cache.Key(fmt.Sprintf("trust:domain:%s:ratio", domain))
}

// GetRatio reads the stored ratio. A missing key reads as 0 with no error;
// an unparseable value also degrades to 0.
func (s *RedisStore) GetRatio(ctx context.Context, domain string) (float64, error) {
	val, err := s.cache.Get(ctx, s.key(domain))
	if errors.Is(err, cache.ErrNotFound) {
		return 0.0, nil
	}
	if err != nil {
		metrics.TrustStoreErrors.WithLabelValues("get").Inc()
		return 0.0, err
	}
	ratio, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0.0, nil
	}
	return ratio, nil
}

// SetRatio writes the ratio permanently.
func (s *RedisStore) SetRatio(ctx context.Context, domain string, ratio float64) error {
	return s.cache.Set(ctx, s.key(domain), strconv.FormatFloat(ratio, 'f', -1, 64), cache.PermanentTTL)
}
