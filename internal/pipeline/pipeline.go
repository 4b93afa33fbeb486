// Package pipeline wires the citation stages end to end: provider fan-out,
// consensus merging, fetch, deduplication, selection, answer composition,
// snippet alignment, and trace persistence. Search providers, the fetcher,
// and the composer are external collaborators injected as interfaces; the
// pipeline only requires their outputs to be fully materialized before the
// scoring stages run.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/citelab/citepipe/internal/align"
	"github.com/citelab/citepipe/internal/cache"
	"github.com/citelab/citepipe/internal/consensus"
	"github.com/citelab/citepipe/internal/dedup"
	"github.com/citelab/citepipe/internal/metrics"
	"github.com/citelab/citepipe/internal/models"
	"github.com/citelab/citepipe/internal/runstore"
	"github.com/citelab/citepipe/internal/selection"
	"github.com/citelab/citepipe/internal/trust"
)

// SearchProvider proposes candidate URLs for a query. A failing provider
// degrades to an empty result list.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]models.ProviderResult, error)
}

// Document is the fetch collaborator's extraction of one web page.
type Document struct {
	Text        string
	Title       string
	Author      string
	PublishedAt *time.Time
}

// Fetcher retrieves and parses a URL. A nil document means the page could not
// be extracted and the candidate is skipped.
type Fetcher interface {
	FetchAndParse(ctx context.Context, url string) (*Document, error)
}

// Sentence is one composed answer sentence with its supporting source ids.
type Sentence struct {
	Text      string
	SourceIDs []string
}

// Composer turns selected sources into a cited natural-language answer.
type Composer interface {
	ComposeAnswer(ctx context.Context, query string, sources []models.Source) (string, []Sentence, error)
}

// Options configures a Pipeline.
type Options struct {
	Providers       []SearchProvider
	Fetcher         Fetcher
	Composer        Composer
	SearchLimit     int
	FetchMaxDocs    int
	PipelineVersion string
	Subject         string
}

// Pipeline orchestrates one query end to end.
type Pipeline struct {
	opts     Options
	dedup    *dedup.Deduplicator
	selector *selection.Selector
	prior    *trust.Prior
	store    *runstore.Store
	cache    *cache.Cache
	logger   *zap.Logger
}

// New assembles a Pipeline. prior, store, and cache may be nil for offline
// use; the corresponding side effects are skipped.
func New(opts Options, d *dedup.Deduplicator, sel *selection.Selector, prior *trust.Prior, store *runstore.Store, c *cache.Cache, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}
	if opts.FetchMaxDocs <= 0 {
		opts.FetchMaxDocs = 20
	}
	if opts.PipelineVersion == "" {
		opts.PipelineVersion = "1"
	}
	return &Pipeline{
		opts:     opts,
		dedup:    d,
		selector: sel,
		prior:    prior,
		store:    store,
		cache:    c,
		logger:   logger,
	}
}

// Run executes the full pipeline for a query and returns the persisted run
// id. Unless force is set, a repeated query within the cache window returns
// the previous run id without re-searching.
func (p *Pipeline) Run(ctx context.Context, query string, force bool) (string, error) {
	start := time.Now()

	qhash := p.queryHash(query)
	if !force && p.cache != nil {
		if existing, err := p.cache.Get(ctx, p.cache.Key("query_hash:"+qhash)); err == nil && existing != "" {
			p.logger.Info("Returning cached run for repeated query",
				zap.String("run_id", existing))
			return existing, nil
		}
	}

	results := p.searchAll(ctx, query)
	merged := consensus.Merge(results)
	metrics.ProviderResultsMerged.Add(float64(len(results)))
	for _, m := range merged {
		metrics.ConsensusGroups.Observe(float64(len(m.DiscoveredBy)))
	}

	fetched := p.fetchTop(ctx, merged)
	sources := p.dedup.Deduplicate(fetched)

	selected := p.selector.SelectCitations(ctx, query, sources, selection.DefaultTargetCount)

	bundle := &models.RunBundle{
		Run: models.Run{
			RunID:            uuid.New().String(),
			Query:            query,
			Subject:          p.opts.Subject,
			CreatedAt:        time.Now().UTC(),
			PipelineVersion:  p.opts.PipelineVersion,
			ProvidersEnabled: p.providerNames(),
		},
		Sources: selected,
	}

	if p.opts.Composer != nil && len(selected) > 0 {
		p.compose(ctx, query, selected, bundle)
	}

	bundle.Run.TotalMillis = time.Since(start).Milliseconds()

	runID := bundle.Run.RunID
	if p.store != nil {
		persisted, err := p.store.CreateRun(ctx, bundle)
		if err != nil {
			return "", fmt.Errorf("persist run: %w", err)
		}
		runID = persisted

		// Feed citation outcomes back into the trust prior. Best effort,
		// end of run, last write wins.
		if p.prior != nil {
			p.prior.UpdateDomainReliability(ctx, runstore.DomainStatsFromBundle(fetched, bundle))
		}
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, p.cache.Key("query_hash:"+qhash), runID, 0); err != nil {
			p.logger.Warn("Failed to cache query hash", zap.Error(err))
		}
	}

	p.logger.Info("Pipeline run complete",
		zap.String("run_id", runID),
		zap.Int("provider_results", len(results)),
		zap.Int("merged", len(merged)),
		zap.Int("fetched", len(fetched)),
		zap.Int("deduplicated", len(sources)),
		zap.Int("selected", len(selected)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return runID, nil
}

func (p *Pipeline) queryHash(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query)) + p.opts.PipelineVersion))
	return hex.EncodeToString(sum[:])
}

func (p *Pipeline) providerNames() []string {
	names := make([]string, 0, len(p.opts.Providers))
	for _, prov := range p.opts.Providers {
		names = append(names, prov.Name())
	}
	return names
}

// searchAll fans out to every provider concurrently. Provider failures
// degrade to empty lists; a query must never fail because one engine did.
func (p *Pipeline) searchAll(ctx context.Context, query string) []models.ProviderResult {
	timer := stageTimer("search")
	defer timer()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out []models.ProviderResult
	)
	for _, prov := range p.opts.Providers {
		wg.Add(1)
		go func(prov SearchProvider) {
			defer wg.Done()
			results, err := prov.Search(ctx, query, p.opts.SearchLimit)
			if err != nil {
				p.logger.Warn("Search provider failed",
					zap.String("provider", prov.Name()),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			out = append(out, results...)
			mu.Unlock()
		}(prov)
	}
	wg.Wait()
	return out
}

// fetchTop fetches and parses the highest-consensus candidates concurrently,
// preserving merge order, and builds run-scoped Source records.
func (p *Pipeline) fetchTop(ctx context.Context, merged []models.ConsensusResult) []models.Source {
	timer := stageTimer("fetch")
	defer timer()

	if p.opts.Fetcher == nil {
		return nil
	}
	if len(merged) > p.opts.FetchMaxDocs {
		merged = merged[:p.opts.FetchMaxDocs]
	}

	docs := make([]*Document, len(merged))
	var wg sync.WaitGroup
	for i := range merged {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := p.opts.Fetcher.FetchAndParse(ctx, merged[i].URL)
			if err != nil {
				p.logger.Debug("Fetch failed",
					zap.String("url", merged[i].URL),
					zap.Error(err),
				)
				return
			}
			docs[i] = doc
		}(i)
	}
	wg.Wait()

	now := time.Now().UTC()
	sources := make([]models.Source, 0, len(merged))
	for i, m := range merged {
		doc := docs[i]
		if doc == nil || doc.Text == "" {
			continue
		}

		title := doc.Title
		if title == "" {
			title = m.Title
		}
		publishedAt := doc.PublishedAt
		if publishedAt == nil {
			publishedAt = m.PublishedAt
		}
		domain := hostOf(m.URL)

		sources = append(sources, models.Source{
			SourceID:       fmt.Sprintf("src_%02d_%s", len(sources)+1, uuid.New().String()[:8]),
			URL:            m.URL,
			Domain:         domain,
			Title:          title,
			Author:         doc.Author,
			Publisher:      publisherOf(domain),
			PublishedAt:    publishedAt,
			AccessedAt:     &now,
			RawText:        doc.Text,
			WordCount:      len(strings.Fields(doc.Text)),
			SearchProvider: m.PrimaryProvider,
			DiscoveredBy:   m.DiscoveredBy,
			ProviderScores: m.ProviderScores,
			ConsensusBoost: m.ConsensusBoost,
			// Neutral placeholder: selection is content-based, not
			// domain-based.
			Credibility: models.Credibility{
				Score:     0.5,
				Band:      "N/A",
				Rationale: "Content-based scoring in citation selector",
			},
		})
	}
	return sources
}

func (p *Pipeline) compose(ctx context.Context, query string, selected []models.Source, bundle *models.RunBundle) {
	timer := stageTimer("compose")
	defer timer()

	answerText, sentences, err := p.opts.Composer.ComposeAnswer(ctx, query, selected)
	if err != nil {
		p.logger.Warn("Composer failed, persisting run without answer", zap.Error(err))
		return
	}
	bundle.Run.AnswerText = answerText

	for idx, sent := range sentences {
		claimID := fmt.Sprintf("c%d_%s", idx+1, uuid.New().String()[:8])
		bundle.Claims = append(bundle.Claims, models.Claim{
			ClaimID:             claimID,
			RunID:               bundle.Run.RunID,
			Text:                sent.Text,
			Importance:          0.7,
			AnswerSentenceIndex: idx,
		})
		for _, sid := range sent.SourceIDs {
			bundle.Evidence = append(bundle.Evidence, models.Evidence{
				ClaimID:       claimID,
				SourceID:      sid,
				CoverageScore: 0.6,
				Stance:        "supports",
			})
		}
	}

	bundle.Evidence = align.AlignEvidence(bundle.Claims, selected, bundle.Evidence)
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func publisherOf(domain string) string {
	if domain == "" {
		return ""
	}
	first, _, _ := strings.Cut(domain, ".")
	if first == "" {
		return ""
	}
	return strings.ToUpper(first[:1]) + first[1:]
}
