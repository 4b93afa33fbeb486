// Package consensus merges raw provider results by canonical URL, preserving
// cross-provider agreement as an explicit signal instead of losing it to
// naive deduplication.
package consensus

import (
	"net/url"
	"sort"
	"strings"

	"github.com/citelab/citepipe/internal/models"
)

// Boost values for cross-provider agreement. A URL surfaced independently by
// several providers is a relevance signal that needs no provider to be
// authoritative on its own.
const (
	BoostSingle = 0.0
	BoostDual   = 0.15
	BoostStrong = 0.25
)

// CanonicalURL normalizes a URL into a deduplication key: https scheme,
// lowercase host without www., trailing path slash stripped (root stays "/"),
// fragment dropped, query kept verbatim. A URL that cannot be parsed falls
// back to its lowercased trimmed raw string so one malformed candidate never
// aborts the batch.
func CanonicalURL(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return trimmed
	}

	host := parsed.Hostname()
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimRight(parsed.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	canonical := "https://" + host + path
	if parsed.RawQuery != "" {
		canonical += "?" + parsed.RawQuery
	}
	return canonical
}

// ConsensusBoost maps the number of discovering providers to a boost value.
func ConsensusBoost(providerCount int) float64 {
	switch {
	case providerCount >= 3:
		return BoostStrong
	case providerCount == 2:
		return BoostDual
	default:
		return BoostSingle
	}
}

// Merge deduplicates provider results by canonical URL and merges each group
// into a single record carrying consensus metadata. Output is sorted by
// (consensus boost, max provider score) descending: agreement dominates raw
// score.
func Merge(results []models.ProviderResult) []models.ConsensusResult {
	groups := make(map[string][]models.ProviderResult)
	var order []string
	for _, r := range results {
		key := CanonicalURL(r.URL)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	merged := make([]models.ConsensusResult, 0, len(groups))
	for _, key := range order {
		merged = append(merged, mergeGroup(key, groups[key]))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].ConsensusBoost != merged[j].ConsensusBoost {
			return merged[i].ConsensusBoost > merged[j].ConsensusBoost
		}
		return maxScore(merged[i].ProviderScores) > maxScore(merged[j].ProviderScores)
	})
	return merged
}

func maxScore(scores map[string]float64) float64 {
	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	return max
}

func mergeGroup(canonicalURL string, group []models.ProviderResult) models.ConsensusResult {
	// Primary pick: longest title, then highest score. Its URL and
	// published_at carry through to the merged record.
	primary := group[0]
	for _, r := range group[1:] {
		if len(r.Title) > len(primary.Title) ||
			(len(r.Title) == len(primary.Title) && r.Score > primary.Score) {
			primary = r
		}
	}

	var discoveredBy []string
	providerScores := make(map[string]float64, len(group))
	for _, r := range group {
		if _, seen := providerScores[r.Provider]; !seen {
			discoveredBy = append(discoveredBy, r.Provider)
			providerScores[r.Provider] = r.Score
		}
	}

	primaryProvider := discoveredBy[0]
	for _, p := range discoveredBy[1:] {
		if providerScores[p] > providerScores[primaryProvider] {
			primaryProvider = p
		}
	}

	return models.ConsensusResult{
		Title:           bestTitle(group),
		URL:             primary.URL,
		Snippet:         bestSnippet(group),
		PublishedAt:     primary.PublishedAt,
		DiscoveredBy:    discoveredBy,
		ProviderScores:  providerScores,
		ConsensusBoost:  ConsensusBoost(len(discoveredBy)),
		PrimaryProvider: primaryProvider,
		Signals:         extractSignals(group, canonicalURL),
	}
}

func bestTitle(group []models.ProviderResult) string {
	title := ""
	for _, r := range group {
		if t := strings.TrimSpace(r.Title); t != "" && len(r.Title) > len(title) {
			title = r.Title
		}
	}
	if title == "" {
		return "Untitled"
	}
	return title
}

func bestSnippet(group []models.ProviderResult) string {
	snippet := ""
	for _, r := range group {
		if s := strings.TrimSpace(r.Snippet); s != "" && len(r.Snippet) > len(snippet) {
			snippet = r.Snippet
		}
	}
	return snippet
}

func extractSignals(group []models.ProviderResult, canonicalURL string) models.AuthoritySignals {
	domain := ""
	if parsed, err := url.Parse(canonicalURL); err == nil {
		domain = parsed.Hostname()
	}

	tld := ""
	if idx := strings.LastIndex(domain, "."); idx != -1 {
		tld = domain[idx+1:]
	}

	max, sum := 0.0, 0.0
	for _, r := range group {
		if r.Score > max {
			max = r.Score
		}
		sum += r.Score
	}
	avg := sum / float64(len(group))

	variance := 0.0
	if len(group) > 1 {
		for _, r := range group {
			d := r.Score - avg
			variance += d * d
		}
		variance /= float64(len(group))
	}

	return models.AuthoritySignals{
		Domain:        domain,
		TLD:           tld,
		IsGov:         strings.HasSuffix(domain, ".gov"),
		IsEdu:         strings.HasSuffix(domain, ".edu") || strings.Contains(domain, ".edu."),
		IsOrg:         strings.HasSuffix(domain, ".org"),
		ProviderCount: len(group),
		MaxScore:      max,
		AvgScore:      avg,
		ScoreVariance: variance,
	}
}
