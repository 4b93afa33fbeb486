// Package align maps claim/citation pairs back to the literal supporting
// substring in the source text. Three strategies are tried in decreasing
// order of trust: verbatim phrase match, key-term concentration, and fuzzy
// sliding-window similarity. Offsets mapped back from normalized text are
// approximate by design; the output is a display snippet, not an input to
// further computation.
package align

import (
	"regexp"
	"strings"

	"github.com/citelab/citepipe/internal/models"
	"github.com/citelab/citepipe/internal/textsim"
)

const (
	// ContextWindow is how many characters of surrounding context wrap the
	// final snippet.
	ContextWindow = 200
	// minPhraseWords is the shortest claim phrase searched verbatim.
	minPhraseWords = 3
	// fuzzyChunkSize bounds the sliding-window comparison chunks.
	fuzzyChunkSize = 300
	fuzzyOverlap   = 50

	directConfidenceCap  = 0.95
	conceptConfidenceCap = 0.7
	fuzzyConfidenceCap   = 0.6
	fuzzyMinSimilarity   = 0.3

	directThreshold  = 0.8
	conceptThreshold = 0.6
)

var (
	citationArtifactRe = regexp.MustCompile(`\[[\d,\s\-]+\]`)
	yearParenRe        = regexp.MustCompile(`\(\d{4}\)`)
	spaceRe            = regexp.MustCompile(`\s+`)
	keyTermRe          = regexp.MustCompile(`\b[A-Za-z]{4,}\b`)
	sentenceSplitRe    = regexp.MustCompile(`[.!?]+`)
)

var stopTerms = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "they": {}, "were": {},
	"been": {}, "have": {}, "will": {}, "would": {}, "could": {}, "should": {},
}

// Match is one aligned snippet with approximate offsets and a confidence in
// [0,1] reflecting which strategy produced it.
type Match struct {
	Snippet     string
	StartOffset int
	EndOffset   int
	Confidence  float64
}

// BestMatch finds the source substring that best supports a claim. Empty
// claim or source yields a zero match, never an error.
func BestMatch(claimText, sourceText string) Match {
	if claimText == "" || sourceText == "" {
		return Match{}
	}

	claim := normalize(claimText)
	source := normalize(sourceText)

	direct := directPhraseMatch(claim, source, sourceText)
	if direct.Confidence > directThreshold {
		return direct
	}
	concept := conceptMatch(claim, sourceText)
	if concept.Confidence > conceptThreshold {
		return concept
	}
	fuzzy := fuzzyMatch(claim, source, sourceText)

	best := direct
	if concept.Confidence > best.Confidence {
		best = concept
	}
	if fuzzy.Confidence > best.Confidence {
		best = fuzzy
	}
	return best
}

// AlignEvidence annotates each evidence record with the best supporting
// snippet from its source. Records whose claim or source is missing from the
// lookup maps pass through unmodified.
func AlignEvidence(claims []models.Claim, sources []models.Source, evidence []models.Evidence) []models.Evidence {
	claimMap := make(map[string]models.Claim, len(claims))
	for _, c := range claims {
		claimMap[c.ClaimID] = c
	}
	sourceMap := make(map[string]models.Source, len(sources))
	for _, s := range sources {
		sourceMap[s.SourceID] = s
	}

	out := make([]models.Evidence, 0, len(evidence))
	for _, ev := range evidence {
		claim, haveClaim := claimMap[ev.ClaimID]
		source, haveSource := sourceMap[ev.SourceID]
		if !haveClaim || !haveSource {
			out = append(out, ev)
			continue
		}

		m := BestMatch(claim.Text, source.RawText)
		ev.Snippet = m.Snippet
		ev.StartOffset = m.StartOffset
		ev.EndOffset = m.EndOffset
		ev.AlignmentConfidence = m.Confidence
		out = append(out, ev)
	}
	return out
}

func normalize(text string) string {
	text = citationArtifactRe.ReplaceAllString(text, "")
	text = yearParenRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.ToLower(text)
}

// directPhraseMatch searches for contiguous claim phrases of at least three
// words verbatim in the normalized source. Longer matched phrases earn higher
// confidence, capped at 0.95.
func directPhraseMatch(claim, source, originalSource string) Match {
	var best Match
	for _, phrase := range meaningfulPhrases(claim) {
		idx := strings.Index(source, phrase)
		if idx == -1 {
			continue
		}
		start := mapToOriginal(idx, source, originalSource)
		end := mapToOriginal(idx+len(phrase), source, originalSource)
		confidence := float64(len(phrase)) / float64(len(claim))
		if confidence > directConfidenceCap {
			confidence = directConfidenceCap
		}
		if confidence > best.Confidence {
			best = Match{
				Snippet:     contextSnippet(originalSource, start, end),
				StartOffset: start,
				EndOffset:   end,
				Confidence:  confidence,
			}
		}
	}
	return best
}

// conceptMatch finds the sentence with the highest concentration of claim key
// terms. Confidence is term coverage capped at 0.7.
func conceptMatch(claim, originalSource string) Match {
	terms := keyTerms(claim)
	if len(terms) == 0 {
		return Match{}
	}

	var best Match
	for _, sentence := range splitSentences(originalSource) {
		normalized := normalize(sentence)
		matching := 0
		for _, term := range terms {
			if strings.Contains(normalized, term) {
				matching++
			}
		}
		if matching == 0 {
			continue
		}
		confidence := float64(matching) / float64(len(terms)) * conceptConfidenceCap
		if confidence <= best.Confidence {
			continue
		}
		start := strings.Index(originalSource, sentence)
		if start == -1 {
			continue
		}
		end := start + len(sentence)
		best = Match{
			Snippet:     contextSnippet(originalSource, start, end),
			StartOffset: start,
			EndOffset:   end,
			Confidence:  confidence,
		}
	}
	return best
}

// fuzzyMatch compares the claim against overlapping source chunks by
// similarity ratio, for paraphrased content. Confidence capped at 0.6.
func fuzzyMatch(claim, source, originalSource string) Match {
	chunkSize := len(claim) * 2
	if chunkSize > fuzzyChunkSize {
		chunkSize = fuzzyChunkSize
	}
	if chunkSize <= fuzzyOverlap {
		chunkSize = fuzzyOverlap + 1
	}

	var best Match
	bestSim := 0.0
	step := chunkSize - fuzzyOverlap
	for i := 0; i < len(source); i += step {
		end := i + chunkSize
		if end > len(source) {
			end = len(source)
		}
		chunk := source[i:end]
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		sim := textsim.Ratio(claim, chunk)
		if sim <= bestSim || sim <= fuzzyMinSimilarity {
			continue
		}
		bestSim = sim
		start := mapToOriginal(i, source, originalSource)
		chunkEnd := mapToOriginal(end, source, originalSource)
		best = Match{
			Snippet:     contextSnippet(originalSource, start, chunkEnd),
			StartOffset: start,
			EndOffset:   chunkEnd,
			Confidence:  sim * fuzzyConfidenceCap,
		}
	}
	return best
}

func meaningfulPhrases(text string) []string {
	words := strings.Fields(text)
	if len(words) < minPhraseWords {
		return nil
	}
	phrases := make([]string, 0, len(words))
	for i := 0; i+minPhraseWords <= len(words); i++ {
		phrase := strings.Join(words[i:i+minPhraseWords], " ")
		if len(phrase) > 10 {
			phrases = append(phrases, phrase)
		}
	}
	return phrases
}

func keyTerms(text string) []string {
	var terms []string
	for _, w := range keyTermRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopTerms[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplitRe.Split(text, -1) {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contextSnippet(original string, start, end int) string {
	cs := start - ContextWindow/2
	if cs < 0 {
		cs = 0
	}
	ce := end + ContextWindow/2
	if ce > len(original) {
		ce = len(original)
	}
	if cs > len(original) {
		cs = len(original)
	}
	if ce < cs {
		ce = cs
	}
	return strings.TrimSpace(original[cs:ce])
}

// mapToOriginal maps a normalized-text position back to the original text by
// length ratio. Approximate, and kept that way: exact mapping would require
// carrying an offset table through normalization for no display benefit.
func mapToOriginal(pos int, normalized, original string) int {
	if len(normalized) == 0 {
		return 0
	}
	mapped := int(float64(pos) / float64(len(normalized)) * float64(len(original)))
	if mapped > len(original) {
		mapped = len(original)
	}
	return mapped
}
