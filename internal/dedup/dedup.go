// Package dedup removes near-duplicate fetched documents before scoring.
// Two stages: URL canonicalization (tracking parameters, slashes, fragments)
// and content-similarity hashing with pairwise fuzzy comparison. Output is
// always an order-preserving subsequence of the input.
package dedup

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/citelab/citepipe/internal/metrics"
	"github.com/citelab/citepipe/internal/models"
	"github.com/citelab/citepipe/internal/textsim"
)

// Thresholds are the heuristic similarity constants. Named and tunable rather
// than inline literals; callers should only rely on the filter/idempotence
// properties, not on a particular similarity algorithm.
type Thresholds struct {
	TitleSimilarity   float64
	ContentSimilarity float64
	MinSnippetLength  int
}

// DefaultThresholds mirror the tuning the pipeline ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TitleSimilarity:   0.9,
		ContentSimilarity: 0.85,
		MinSnippetLength:  50,
	}
}

// trackingParams are stripped during URL canonicalization. Matched
// case-insensitively against the parameter name.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_content": {}, "utm_term": {},
	"fbclid": {}, "gclid": {}, "msclkid": {}, "dclid": {},
	"ref": {}, "source": {}, "campaign_id": {}, "ad_id": {},
	"_ga": {}, "_gac": {}, "_gl": {}, "mc_cid": {}, "mc_eid": {},
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	cookieRe      = regexp.MustCompile(`(?i)\bcookie\s+policy\b.*?\n`)
	privacyRe     = regexp.MustCompile(`(?i)\bprivacy\s+policy\b.*?\n`)
	termsRe       = regexp.MustCompile(`(?i)\bterms\s+of\s+(use|service)\b.*?\n`)
	slashDateRe   = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	isoDateRe     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	shareCountRe  = regexp.MustCompile(`(?i)\b\d+\s+(shares?|likes?|views?|comments?)\b`)
)

// Deduplicator filters a fetched source list down to unique documents.
type Deduplicator struct {
	thresholds Thresholds
	logger     *zap.Logger
}

// New creates a Deduplicator. A nil logger disables logging.
func New(thresholds Thresholds, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{thresholds: thresholds, logger: logger}
}

// Deduplicate removes URL and content duplicates, first occurrence wins.
// Survivors get CanonicalURL attached; near-duplicate URLs are recorded on the
// surviving source for traceability.
func (d *Deduplicator) Deduplicate(sources []models.Source) []models.Source {
	if len(sources) == 0 {
		return sources
	}
	byURL := d.dedupByURL(sources)
	out := d.dedupByContent(byURL)
	if removed := len(sources) - len(out); removed > 0 {
		d.logger.Info("Removed duplicate sources",
			zap.Int("input", len(sources)),
			zap.Int("removed", removed),
		)
	}
	return out
}

func (d *Deduplicator) dedupByURL(sources []models.Source) []models.Source {
	seen := make(map[string]struct{}, len(sources))
	out := make([]models.Source, 0, len(sources))

	for _, src := range sources {
		if src.URL == "" {
			out = append(out, src)
			continue
		}
		canonical := CanonicalizeURL(src.URL)
		if _, dup := seen[canonical]; dup {
			d.logger.Debug("URL duplicate filtered", zap.String("url", src.URL))
			metrics.DedupRemoved.WithLabelValues("url").Inc()
			continue
		}
		seen[canonical] = struct{}{}
		src.CanonicalURL = canonical
		out = append(out, src)
	}
	return out
}

func (d *Deduplicator) dedupByContent(sources []models.Source) []models.Source {
	if len(sources) <= 1 {
		return sources
	}

	out := make([]models.Source, 0, len(sources))
	signatures := make(map[string]struct{}, len(sources))

	for _, src := range sources {
		sig := ContentSignature(src.RawText, src.Title)
		if _, dup := signatures[sig]; dup {
			d.logger.Debug("Exact content duplicate filtered", zap.String("url", src.URL))
			metrics.DedupRemoved.WithLabelValues("content_exact").Inc()
			continue
		}

		similarIdx := -1
		for i := range out {
			if d.isSimilar(src, out[i]) {
				similarIdx = i
				break
			}
		}
		if similarIdx >= 0 {
			out[similarIdx].SimilarURLs = append(out[similarIdx].SimilarURLs, src.URL)
			d.logger.Debug("Similar content filtered",
				zap.String("url", src.URL),
				zap.String("kept", out[similarIdx].URL),
			)
			metrics.DedupRemoved.WithLabelValues("content_similar").Inc()
			continue
		}

		signatures[sig] = struct{}{}
		out = append(out, src)
	}
	return out
}

func (d *Deduplicator) isSimilar(a, b models.Source) bool {
	if a.Title != "" && b.Title != "" {
		titleSim := textsim.Ratio(strings.ToLower(a.Title), strings.ToLower(b.Title))
		if titleSim > d.thresholds.TitleSimilarity {
			return true
		}
	}

	if a.RawText == "" || b.RawText == "" {
		return false
	}
	// Article openings are the most discriminative part; comparing the first
	// 500 normalized chars keeps the pairwise pass cheap.
	snippetA := NormalizeContent(head(a.RawText, 500))
	snippetB := NormalizeContent(head(b.RawText, 500))
	if len(snippetA) < d.thresholds.MinSnippetLength || len(snippetB) < d.thresholds.MinSnippetLength {
		return false
	}
	return textsim.Ratio(snippetA, snippetB) >= d.thresholds.ContentSimilarity
}

// CanonicalizeURL strips tracking parameters, sorts the rest for determinism,
// normalizes the trailing slash, and drops the fragment. Unparseable URLs are
// returned lowercased and otherwise untouched.
func CanonicalizeURL(raw string) string {
	if raw == "" {
		return raw
	}
	lowered := strings.ToLower(raw)
	parsed, err := url.Parse(lowered)
	if err != nil {
		return lowered
	}

	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}

	kept := url.Values{}
	for key, vals := range parsed.Query() {
		if _, tracking := trackingParams[strings.ToLower(key)]; tracking {
			continue
		}
		if len(vals) > 0 && vals[0] != "" {
			kept[key] = vals[:1]
		}
	}
	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var query strings.Builder
	for i, k := range keys {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(k)
		query.WriteByte('=')
		query.WriteString(kept.Get(k))
	}

	path := strings.TrimRight(parsed.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	canonical := scheme + "://" + parsed.Host + path
	if query.Len() > 0 {
		canonical += "?" + query.String()
	}
	return canonical
}

// ContentSignature hashes normalized title plus the first 1000 body chars.
// Two documents differing only in boilerplate, dates, or share counters hash
// identically.
func ContentSignature(rawText, title string) string {
	normalizedText := NormalizeContent(rawText)
	normalizedTitle := NormalizeContent(title)
	combined := normalizedTitle + "|||" + head(normalizedText, 1000)
	sum := md5.Sum([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// NormalizeContent lowercases, collapses whitespace, and strips boilerplate
// lines, date-like substrings, and share/like/view/comment counters.
func NormalizeContent(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToLower(text)
	// Boilerplate patterns anchor on line ends, so strip them before
	// newlines are collapsed away.
	text = cookieRe.ReplaceAllString(text, "")
	text = privacyRe.ReplaceAllString(text, "")
	text = termsRe.ReplaceAllString(text, "")
	text = slashDateRe.ReplaceAllString(text, "")
	text = isoDateRe.ReplaceAllString(text, "")
	text = shareCountRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
