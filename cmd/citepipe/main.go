// citepipe runs the citation pipeline in offline replay mode: provider
// results and fetched documents are supplied as JSON on stdin, the core
// stages (consensus merge, dedup, selection, alignment) run exactly as in
// production, and the resulting trace bundle is persisted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/citelab/citepipe/internal/cache"
	"github.com/citelab/citepipe/internal/config"
	"github.com/citelab/citepipe/internal/dedup"
	"github.com/citelab/citepipe/internal/models"
	"github.com/citelab/citepipe/internal/pipeline"
	"github.com/citelab/citepipe/internal/runstore"
	"github.com/citelab/citepipe/internal/selection"
	"github.com/citelab/citepipe/internal/trust"
)

// replayInput is the offline input bundle: what the provider and fetch
// collaborators would have produced for the query.
type replayInput struct {
	Query     string                  `json:"query"`
	Results   []models.ProviderResult `json:"results"`
	Documents map[string]replayDoc    `json:"documents"` // keyed by URL
}

type replayDoc struct {
	Text        string     `json:"text"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type replayProvider struct {
	name    string
	results []models.ProviderResult
}

func (p *replayProvider) Name() string { return p.name }

func (p *replayProvider) Search(_ context.Context, _ string, limit int) ([]models.ProviderResult, error) {
	out := make([]models.ProviderResult, 0, limit)
	for _, r := range p.results {
		if r.Provider != p.name {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type replayFetcher struct {
	docs map[string]replayDoc
}

func (f *replayFetcher) FetchAndParse(_ context.Context, url string) (*pipeline.Document, error) {
	doc, ok := f.docs[url]
	if !ok {
		return nil, fmt.Errorf("no document for %s", url)
	}
	return &pipeline.Document{
		Text:        doc.Text,
		Title:       doc.Title,
		Author:      doc.Author,
		PublishedAt: doc.PublishedAt,
	}, nil
}

func main() {
	force := flag.Bool("force", false, "re-run even if the query was seen recently")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var input replayInput
	if err := json.NewDecoder(os.Stdin).Decode(&input); err != nil {
		logger.Fatal("Failed to decode replay input", zap.Error(err))
	}
	if input.Query == "" {
		logger.Fatal("Replay input has no query")
	}

	ctx := context.Background()

	c, err := cache.New(ctx, cache.Options{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		PipelineVersion: cfg.Pipeline.Version,
		DefaultTTL:      cfg.Redis.DefaultTTL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer c.Close()

	store, err := runstore.Open(cfg.Database.Driver, cfg.Database.DSN, c, logger)
	if err != nil {
		logger.Fatal("Failed to open run store", zap.Error(err))
	}
	defer store.Close()

	prior := trust.NewPrior(trust.NewRedisStore(c), logger)

	selector := selection.New(selection.Config{
		TrustPrior:       cfg.Selection.TrustPrior,
		MaxPerDomainType: cfg.Selection.MaxPerDomainType,
		TypeEnforceAfter: cfg.Selection.TypeEnforceAfter,
	}, prior, logger)

	deduplicator := dedup.New(dedup.Thresholds{
		TitleSimilarity:   cfg.Dedup.TitleSimilarity,
		ContentSimilarity: cfg.Dedup.ContentSimilarity,
		MinSnippetLength:  cfg.Dedup.MinSnippetLength,
	}, logger)

	p := pipeline.New(pipeline.Options{
		Providers:       buildProviders(input.Results),
		Fetcher:         &replayFetcher{docs: input.Documents},
		SearchLimit:     cfg.Pipeline.SearchLimit,
		FetchMaxDocs:    cfg.Pipeline.FetchMaxDocs,
		PipelineVersion: cfg.Pipeline.Version,
	}, deduplicator, selector, prior, store, c, logger)

	runID, err := p.Run(ctx, input.Query, *force)
	if err != nil {
		logger.Fatal("Pipeline run failed", zap.Error(err))
	}
	fmt.Println(runID)
}

func buildProviders(results []models.ProviderResult) []pipeline.SearchProvider {
	seen := make(map[string]struct{})
	var providers []pipeline.SearchProvider
	for _, r := range results {
		if _, ok := seen[r.Provider]; ok {
			continue
		}
		seen[r.Provider] = struct{}{}
		providers = append(providers, &replayProvider{name: r.Provider, results: results})
	}
	return providers
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
