package models

import "time"

// ProviderResult is one candidate found by one search provider for one query
// variant. Ephemeral: created per search call and consumed by the consensus
// merger immediately.
type ProviderResult struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Provider    string     `json:"provider"`
	Score       float64    `json:"score"`
}

// AuthoritySignals is a diagnostic bag derived during consensus merging.
// Used only for offline research analysis, never for ranking.
type AuthoritySignals struct {
	Domain        string  `json:"domain"`
	TLD           string  `json:"tld"`
	IsGov         bool    `json:"is_gov"`
	IsEdu         bool    `json:"is_edu"`
	IsOrg         bool    `json:"is_org"`
	ProviderCount int     `json:"provider_count"`
	MaxScore      float64 `json:"max_score"`
	AvgScore      float64 `json:"avg_score"`
	ScoreVariance float64 `json:"score_variance"`
}

// ConsensusResult is one candidate URL merged across providers.
// DiscoveredBy carries distinct provider names in first-seen order.
type ConsensusResult struct {
	Title           string             `json:"title"`
	URL             string             `json:"url"`
	Snippet         string             `json:"snippet,omitempty"`
	PublishedAt     *time.Time         `json:"published_at,omitempty"`
	DiscoveredBy    []string           `json:"discovered_by"`
	ProviderScores  map[string]float64 `json:"provider_scores"`
	ConsensusBoost  float64            `json:"consensus_boost"`
	PrimaryProvider string             `json:"primary_provider"`
	Signals         AuthoritySignals   `json:"authority_signals"`
}

// BestPassage is the single window of a document's text judged most relevant
// to a query. Computed lazily by the selector and cached on the source so the
// composer can reuse it without recomputing.
type BestPassage struct {
	Score  float64 `json:"score"`
	Offset int     `json:"offset"`
	Text   string  `json:"text"`
}

// Credibility carries the neutral credibility placeholder attached at source
// build time. Scoring is content-based in the selector, not domain-based here.
type Credibility struct {
	Score     float64 `json:"score"`
	Band      string  `json:"band"`
	Rationale string  `json:"rationale"`
}

// Source is a fetched-and-parsed document attached to a run. Immutable after
// the categorization stage except for the BestPassage scratch field.
type Source struct {
	SourceID       string             `json:"source_id"`
	RunID          string             `json:"run_id,omitempty"`
	URL            string             `json:"url"`
	CanonicalURL   string             `json:"canonical_url,omitempty"`
	Domain         string             `json:"domain"`
	Title          string             `json:"title"`
	Author         string             `json:"author,omitempty"`
	Publisher      string             `json:"publisher,omitempty"`
	PublishedAt    *time.Time         `json:"published_at,omitempty"`
	AccessedAt     *time.Time         `json:"accessed_at,omitempty"`
	RawText        string             `json:"raw_text"`
	WordCount      int                `json:"word_count,omitempty"`
	Category       string             `json:"category,omitempty"`
	Credibility    Credibility        `json:"credibility"`
	SearchProvider string             `json:"search_provider,omitempty"`
	DiscoveredBy   []string           `json:"discovered_by,omitempty"`
	ProviderScores map[string]float64 `json:"provider_scores,omitempty"`
	ConsensusBoost float64            `json:"consensus_boost,omitempty"`

	// SimilarURLs records near-duplicate URLs folded into this source by the
	// deduplicator, kept for traceability.
	SimilarURLs []string `json:"similar_urls,omitempty"`

	// BestPassage is the passage-ranker scratch field, populated by the
	// selector for reuse by the answer composer.
	BestPassage *BestPassage `json:"best_passage,omitempty"`
}

// Claim is one sentence-level statement in the composed answer.
type Claim struct {
	ClaimID             string  `json:"claim_id"`
	RunID               string  `json:"run_id,omitempty"`
	Text                string  `json:"text"`
	Importance          float64 `json:"importance,omitempty"`
	AnswerSentenceIndex int     `json:"answer_sentence_index"`
}

// Evidence links a claim to a supporting source, annotated by snippet
// alignment with the literal supporting substring and offsets.
type Evidence struct {
	ClaimID             string  `json:"claim_id"`
	SourceID            string  `json:"source_id"`
	CoverageScore       float64 `json:"coverage_score,omitempty"`
	Stance              string  `json:"stance,omitempty"`
	Snippet             string  `json:"snippet"`
	StartOffset         int     `json:"start_offset"`
	EndOffset           int     `json:"end_offset"`
	AlignmentConfidence float64 `json:"alignment_confidence,omitempty"`
}

// Run is the per-request metadata block of a trace bundle.
type Run struct {
	RunID            string            `json:"run_id"`
	Query            string            `json:"query"`
	Subject          string            `json:"subject,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Params           map[string]string `json:"params,omitempty"`
	TotalMillis      int64             `json:"total_ms"`
	PipelineVersion  string            `json:"pipeline_version,omitempty"`
	ProvidersEnabled []string          `json:"providers_enabled,omitempty"`
	AnswerText       string            `json:"answer_text,omitempty"`
}

// RunBundle is the full persisted trace for one query: selected sources,
// composed claims, aligned evidence.
type RunBundle struct {
	Run      Run        `json:"run"`
	Sources  []Source   `json:"sources"`
	Claims   []Claim    `json:"claims"`
	Evidence []Evidence `json:"evidence"`
}
