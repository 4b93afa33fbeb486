// Package passage finds the single best-matching window of a document for a
// query. Corpus-free BM25-style scoring: per-window term frequency with log
// dampening plus a coverage bonus for distinct query terms.
package passage

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// WindowSize is the passage window length in characters.
	WindowSize = 400
	// Stride is the window step, giving ~45% overlap between windows.
	Stride = 220
	// MinWindow discards tiny trailing windows that carry no useful signal.
	MinWindow = 80
	// MaxPassageText caps the returned passage text length.
	MaxPassageText = 800
)

var wordRe = regexp.MustCompile(`\w+`)

// Result is the best passage found for one (query, text) pair.
type Result struct {
	Score  float64 `json:"score"`
	Offset int     `json:"offset"`
	Text   string  `json:"text"`
}

func tokenize(s string) []string {
	return wordRe.FindAllString(strings.ToLower(s), -1)
}

type window struct {
	offset int
	text   string
}

func splitWindows(text string) []window {
	if text == "" {
		return nil
	}
	var out []window
	for i := 0; i < len(text); i += Stride {
		end := i + WindowSize
		if end > len(text) {
			end = len(text)
		}
		chunk := text[i:end]
		if len(chunk) > MinWindow {
			out = append(out, window{offset: i, text: chunk})
		}
	}
	return out
}

// BestPassage scores every overlapping window of text against the query and
// returns the highest-scoring one. Ties keep the earliest offset. Empty query
// or text yields a zero-score empty result, never an error.
func BestPassage(query, text string) Result {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || text == "" {
		return Result{}
	}

	uniq := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		uniq[t] = struct{}{}
	}

	best := Result{}
	for _, w := range splitWindows(text) {
		toks := tokenize(w.text)
		if len(toks) == 0 {
			continue
		}
		counts := make(map[string]int, len(toks))
		for _, t := range toks {
			counts[t]++
		}

		tf := 0
		covered := 0
		for q := range uniq {
			if c := counts[q]; c > 0 {
				tf += c
				covered++
			}
		}
		coverage := float64(covered) / float64(len(uniq))
		score := math.Log(1+float64(tf)) * (1 + math.Min(1.0, coverage))

		if score > best.Score {
			best = Result{Score: score, Offset: w.offset, Text: w.text}
		}
	}

	if len(best.Text) > MaxPassageText {
		best.Text = best.Text[:MaxPassageText]
	}
	best.Text = trimPartialRunes(best.Text)
	return best
}

// trimPartialRunes drops any multibyte rune split at either edge by the
// byte-offset windowing, so the returned text is always valid UTF-8.
func trimPartialRunes(s string) string {
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
