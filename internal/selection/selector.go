// Package selection is the citation selector: it scores every candidate
// source against the query on content signals alone, blends the sub-scores
// into one composite, and picks a domain-diverse top-K. No static per-domain
// authority table is consulted; the only domain-level input is the optional
// learned trust prior.
package selection

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/citelab/citepipe/internal/metrics"
	"github.com/citelab/citepipe/internal/models"
	"github.com/citelab/citepipe/internal/passage"
	"github.com/citelab/citepipe/internal/trust"
)

// DefaultTargetCount makes the selector derive K from query intent.
const DefaultTargetCount = 0

// Composite score weights. Relevance always dominates: the selector is
// content-first and domain category never multiplies the score.
const (
	weightRelevance      = 0.45
	weightPassage        = 0.25
	weightQuality        = 0.20
	weightConsensus      = 0.10
	trustWeightRelevance = 0.40
	trustWeightPassage   = 0.25
	trustWeightQuality   = 0.20
	trustWeightTrust     = 0.15
)

// passageScale normalizes raw best-passage scores into [0,1].
const passageScale = 6.0

var (
	tokenRe = regexp.MustCompile(`\w+`)

	recencyTerms = []string{"latest", "today", "breaking", "now", "2024", "2025", "news", "update"}
	howToTerms   = []string{"how to", "guide", "setup", "implement", "api", "error", "fix", "configure"}
	compareTerms = []string{"compare", "vs", "pros", "cons", "which", "best"}

	structureSignals = []string{
		"step", "1.", "2.", "•", "how to", "guide", "tutorial",
		"comparison", "vs", "analysis", "research", "study", "findings",
	}
	explanatoryMarkers = []string{"how", "what", "why", "guide", "analysis"}
	clickbaitMarkers   = []string{
		"shocking", "unbelievable", "you won't believe", "this one trick",
		"doctors hate", "amazing", "incredible", "must see",
	}
)

// Config tunes the selector.
type Config struct {
	// TrustPrior enables the learned domain-reliability blend in the
	// composite score.
	TrustPrior bool
	// MaxPerDomainType caps selections sharing a diversity bucket once the
	// enforcement threshold is reached.
	MaxPerDomainType int
	// TypeEnforceAfter is how many sources must be accepted before the
	// domain-type cap applies.
	TypeEnforceAfter int
}

// DefaultConfig returns the shipped tuning.
func DefaultConfig() Config {
	return Config{
		TrustPrior:       false,
		MaxPerDomainType: 4,
		TypeEnforceAfter: 3,
	}
}

// Scores holds the sub-scores and composite for one candidate. Exposed for
// trace analysis; selection itself only orders by Composite.
type Scores struct {
	Relevance float64
	Quality   float64
	Consensus float64
	Passage   float64
	Trust     float64
	Composite float64
}

// Selector picks citations for a query from a pool of fetched sources.
type Selector struct {
	cfg    Config
	prior  *trust.Prior
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Selector. prior may be nil when trust mode is disabled.
func New(cfg Config, prior *trust.Prior, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPerDomainType == 0 {
		cfg.MaxPerDomainType = 4
	}
	if cfg.TypeEnforceAfter == 0 {
		cfg.TypeEnforceAfter = 3
	}
	return &Selector{cfg: cfg, prior: prior, logger: logger, now: time.Now}
}

// TargetCount derives the intent-dependent citation count K for a query.
func TargetCount(query string) int {
	q := strings.ToLower(query)
	switch {
	case containsAnyTerm(q, recencyTerms):
		return 5
	case containsAnyTerm(q, howToTerms):
		return 4
	case containsAnyTerm(q, compareTerms):
		return 4
	default:
		return 3
	}
}

func containsAnyTerm(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

type scoredSource struct {
	source models.Source
	scores Scores
}

// SelectCitations scores all sources and returns a diversity-constrained
// top-K as annotated copies, each carrying its best passage for the composer.
// targetCount of DefaultTargetCount derives K from query intent. Empty input
// returns an empty slice, never an error.
func (s *Selector) SelectCitations(ctx context.Context, query string, sources []models.Source, targetCount int) []models.Source {
	if len(sources) == 0 {
		return nil
	}
	if targetCount <= DefaultTargetCount {
		targetCount = TargetCount(query)
	}

	scored := make([]scoredSource, 0, len(sources))
	for _, src := range sources {
		sc, best := s.score(ctx, query, src)
		annotated := src
		if best.Score > 0 || best.Text != "" {
			bp := models.BestPassage(best)
			annotated.BestPassage = &bp
		}
		scored = append(scored, scoredSource{source: annotated, scores: sc})
		metrics.SourcesScored.Inc()
		metrics.CompositeScore.Observe(sc.Composite)
	}

	selected := s.enforceDiversity(scored, targetCount)
	metrics.SourcesSelected.Add(float64(len(selected)))

	s.logger.Debug("Selected citations",
		zap.String("query", query),
		zap.Int("candidates", len(sources)),
		zap.Int("target", targetCount),
		zap.Int("selected", len(selected)),
		zap.Bool("trust_prior", s.cfg.TrustPrior),
	)
	return selected
}

// Score computes the sub-scores for one source without selecting. Used by the
// pipeline's trace output.
func (s *Selector) Score(ctx context.Context, query string, src models.Source) Scores {
	sc, _ := s.score(ctx, query, src)
	return sc
}

func (s *Selector) score(ctx context.Context, query string, src models.Source) (Scores, passage.Result) {
	best := passage.BestPassage(query, src.RawText)

	sc := Scores{
		Relevance: relevanceScore(query, src),
		Quality:   s.qualityScore(src),
		Consensus: consensusScore(src),
		Passage:   math.Min(1.0, best.Score/passageScale),
	}

	if s.cfg.TrustPrior && s.prior != nil {
		reliability := s.prior.DomainReliability(ctx, src.Domain)
		sc.Trust = math.Min(0.95, reliability*0.6+sc.Consensus*0.4)
		sc.Composite = sc.Relevance*trustWeightRelevance +
			sc.Passage*trustWeightPassage +
			sc.Quality*trustWeightQuality +
			sc.Trust*trustWeightTrust
	} else {
		sc.Composite = sc.Relevance*weightRelevance +
			sc.Passage*weightPassage +
			sc.Quality*weightQuality +
			sc.Consensus*weightConsensus
	}
	return sc, best
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		out[t] = struct{}{}
	}
	return out
}

func overlapFraction(query, text map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	overlap := 0
	for t := range query {
		if _, ok := text[t]; ok {
			overlap++
		}
	}
	return math.Min(1.0, float64(overlap)/float64(len(query)))
}

// relevanceScore is token overlap between the query and the source's title,
// body head, and URL, each channel normalized by query token count and capped
// before weighting.
func relevanceScore(query string, src models.Source) float64 {
	queryTokens := tokens(query)
	if len(queryTokens) == 0 {
		return 0
	}

	body := src.RawText
	if len(body) > 2000 {
		body = body[:2000]
	}

	titleScore := overlapFraction(queryTokens, tokens(src.Title)) * 0.5
	contentScore := overlapFraction(queryTokens, tokens(body)) * 0.3
	urlScore := overlapFraction(queryTokens, tokens(src.URL)) * 0.2

	return titleScore + contentScore + urlScore
}

// qualityScore evaluates content signals only: depth, structure, title
// quality, freshness. Neutral base 0.5, clamped to [0,1].
func (s *Selector) qualityScore(src models.Source) float64 {
	score := 0.5

	switch n := len(src.RawText); {
	case n >= 3000:
		score += 0.15
	case n >= 1500:
		score += 0.10
	case n >= 500:
		score += 0.05
	case n < 200:
		score -= 0.10
	}

	content := strings.ToLower(src.RawText)
	structureCount := 0
	for _, signal := range structureSignals {
		if strings.Contains(content, signal) {
			structureCount++
		}
	}
	score += math.Min(0.15, float64(structureCount)*0.03)

	if src.Title != "" {
		title := strings.ToLower(src.Title)
		if containsAnyTerm(title, explanatoryMarkers) {
			score += 0.05
		}
		if containsAnyTerm(title, clickbaitMarkers) {
			score -= 0.15
		}
	}

	if src.PublishedAt != nil {
		age := s.now().Sub(*src.PublishedAt)
		switch {
		case age <= 90*24*time.Hour:
			score += 0.05
		case age <= 365*24*time.Hour:
			score += 0.02
		}
	}

	return math.Max(0.0, math.Min(1.0, score))
}

// consensusScore rewards multi-provider discovery: 1.0 for three or more
// providers, 0.75 for two, 0.5 for one.
func consensusScore(src models.Source) float64 {
	switch n := len(src.DiscoveredBy); {
	case n >= 3:
		return 1.0
	case n == 2:
		return 0.75
	default:
		return 0.5
	}
}

// PerDomainCap scales the exact-domain cap down for small K so one domain can
// never fill a short answer.
func PerDomainCap(targetCount int) int {
	c := targetCount - 1
	if c > 3 {
		c = 3
	}
	if c < 1 {
		c = 1
	}
	return c
}

// enforceDiversity greedily walks the score-sorted candidates under the
// per-domain and per-type caps, then fills remaining slots ignoring the caps
// when the pool is too thin. Some answer beats strict diversity on scarcity.
func (s *Selector) enforceDiversity(scored []scoredSource, targetCount int) []models.Source {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].scores.Composite > scored[j].scores.Composite
	})

	domainCap := PerDomainCap(targetCount)
	domainCounts := make(map[string]int)
	typeCounts := make(map[string]int)
	selectedIDs := make(map[string]struct{})

	selected := make([]models.Source, 0, targetCount)
	for _, cand := range scored {
		if len(selected) >= targetCount {
			break
		}
		domain := strings.ToLower(cand.source.Domain)
		domainType := DomainType(domain)

		if domainCounts[domain] >= domainCap {
			continue
		}
		if len(selected) >= s.cfg.TypeEnforceAfter && typeCounts[domainType] >= s.cfg.MaxPerDomainType {
			continue
		}

		selected = append(selected, cand.source)
		selectedIDs[cand.source.SourceID] = struct{}{}
		domainCounts[domain]++
		typeCounts[domainType]++
	}

	// Scarcity override: fill from the best remaining candidates, ignoring
	// the type cap. The exact-domain cap stays binding so one domain can
	// never fill an answer on its own; a thin pool simply comes back short.
	if len(selected) < targetCount {
		for _, cand := range scored {
			if len(selected) >= targetCount {
				break
			}
			if _, taken := selectedIDs[cand.source.SourceID]; taken {
				continue
			}
			domain := strings.ToLower(cand.source.Domain)
			if domainCounts[domain] >= domainCap {
				continue
			}
			selected = append(selected, cand.source)
			selectedIDs[cand.source.SourceID] = struct{}{}
			domainCounts[domain]++
		}
	}

	if len(selected) > targetCount {
		selected = selected[:targetCount]
	}
	return selected
}
