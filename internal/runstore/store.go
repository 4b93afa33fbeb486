// Package runstore persists the full trace of a pipeline run: SQL rows for
// queryable run/source/claim/evidence records, plus the complete JSON bundle
// and a recent-runs index in Redis for cheap retrieval.
package runstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/citelab/citepipe/internal/cache"
	"github.com/citelab/citepipe/internal/metrics"
	"github.com/citelab/citepipe/internal/models"
	"github.com/citelab/citepipe/internal/trust"
)

const recentRunsKey = "runs:recent"

// Store writes and reads run bundles.
type Store struct {
	db            *sqlx.DB
	cache         *cache.Cache
	logger        *zap.Logger
	recentRunsMax int64
}

// Open connects to the SQL database, ensures the schema, and wires the cache.
func Open(driver, dsn string, c *cache.Cache, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, cache: c, logger: logger, recentRunsMax: 100}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps existing handles; used by tests.
func NewWithDB(db *sqlx.DB, c *cache.Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, cache: c, logger: logger, recentRunsMax: 100}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		query       TEXT NOT NULL,
		subject     TEXT,
		created_at  TIMESTAMP NOT NULL,
		total_ms    BIGINT,
		answer_text TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		source_id     TEXT PRIMARY KEY,
		run_id        TEXT NOT NULL,
		url           TEXT,
		canonical_url TEXT,
		domain        TEXT,
		title         TEXT,
		author        TEXT,
		published_at  TIMESTAMP,
		word_count    INTEGER,
		raw_text      TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS claims (
		claim_id              TEXT PRIMARY KEY,
		run_id                TEXT NOT NULL,
		text                  TEXT NOT NULL,
		importance            REAL,
		answer_sentence_index INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS evidence (
		claim_id             TEXT NOT NULL,
		source_id            TEXT NOT NULL,
		coverage_score       REAL,
		stance               TEXT,
		snippet              TEXT,
		start_offset         INTEGER,
		end_offset           INTEGER,
		alignment_confidence REAL
	)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateRun persists a bundle and returns its run id, generating one if the
// bundle has none. The SQL rows are the queryable record; the JSON blob in
// Redis is the full trace handed back by GetRun.
func (s *Store) CreateRun(ctx context.Context, bundle *models.RunBundle) (string, error) {
	if bundle.Run.RunID == "" {
		bundle.Run.RunID = uuid.New().String()
	}
	runID := bundle.Run.RunID

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO runs (run_id, query, subject, created_at, total_ms, answer_text) VALUES (?, ?, ?, ?, ?, ?)`),
		runID, bundle.Run.Query, bundle.Run.Subject, bundle.Run.CreatedAt, bundle.Run.TotalMillis, bundle.Run.AnswerText,
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, src := range bundle.Sources {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO sources (source_id, run_id, url, canonical_url, domain, title, author, published_at, word_count, raw_text)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			src.SourceID, runID, src.URL, src.CanonicalURL, src.Domain, src.Title, src.Author, src.PublishedAt, src.WordCount, src.RawText,
		); err != nil {
			return "", fmt.Errorf("insert source %s: %w", src.SourceID, err)
		}
	}

	for _, c := range bundle.Claims {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO claims (claim_id, run_id, text, importance, answer_sentence_index) VALUES (?, ?, ?, ?, ?)`),
			c.ClaimID, runID, c.Text, c.Importance, c.AnswerSentenceIndex,
		); err != nil {
			return "", fmt.Errorf("insert claim %s: %w", c.ClaimID, err)
		}
	}

	for _, ev := range bundle.Evidence {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO evidence (claim_id, source_id, coverage_score, stance, snippet, start_offset, end_offset, alignment_confidence)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			ev.ClaimID, ev.SourceID, ev.CoverageScore, ev.Stance, ev.Snippet, ev.StartOffset, ev.EndOffset, ev.AlignmentConfidence,
		); err != nil {
			return "", fmt.Errorf("insert evidence %s/%s: %w", ev.ClaimID, ev.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run %s: %w", runID, err)
	}

	// Cache failures degrade: the SQL record is the durable copy.
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, s.runKey(runID), bundle, cache.PermanentTTL); err != nil {
			s.logger.Warn("Failed to cache run bundle", zap.String("run_id", runID), zap.Error(err))
		}
		if err := s.cache.PushRecent(ctx, s.cache.Key(recentRunsKey), runID, s.recentRunsMax); err != nil {
			s.logger.Warn("Failed to index recent run", zap.String("run_id", runID), zap.Error(err))
		}
	}

	metrics.RunsCreated.Inc()
	s.logger.Info("Persisted run bundle",
		zap.String("run_id", runID),
		zap.Int("sources", len(bundle.Sources)),
		zap.Int("claims", len(bundle.Claims)),
		zap.Int("evidence", len(bundle.Evidence)),
	)
	return runID, nil
}

// GetRun loads the full trace bundle for a run id from the cache.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.RunBundle, error) {
	if s.cache == nil {
		return nil, fmt.Errorf("run %s: no cache configured", runID)
	}
	var bundle models.RunBundle
	if err := s.cache.GetJSON(ctx, s.runKey(runID), &bundle); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &bundle, nil
}

// RecentRuns returns up to n newest run ids.
func (s *Store) RecentRuns(ctx context.Context, n int64) ([]string, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.Recent(ctx, s.cache.Key(recentRunsKey), n)
}

func (s *Store) runKey(runID string) string {
	return s.cache.Key("run:" + runID)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DomainStatsFromBundle derives the trust-prior feedback for a finished run:
// every fetched source counts as an appearance for its domain, and domains of
// sources referenced by at least one evidence record count as cited.
func DomainStatsFromBundle(fetched []models.Source, bundle *models.RunBundle) map[string]trust.DomainStats {
	citedSourceIDs := make(map[string]struct{}, len(bundle.Evidence))
	for _, ev := range bundle.Evidence {
		citedSourceIDs[ev.SourceID] = struct{}{}
	}

	stats := make(map[string]trust.DomainStats)
	for _, src := range fetched {
		if src.Domain == "" {
			continue
		}
		d := stats[src.Domain]
		d.Appearances++
		if _, cited := citedSourceIDs[src.SourceID]; cited {
			d.Cited++
		}
		stats[src.Domain] = d
	}
	return stats
}
