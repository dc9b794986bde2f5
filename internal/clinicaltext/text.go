// Package clinicaltext contains pure string heuristics over clinical note
// text. Nothing here keeps state; all functions are safe for concurrent use.
package clinicaltext

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// ContainsAny reports whether lower contains any of terms. lower must
// already be lower-cased; terms are expected lower-case.
func ContainsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// CountMatches returns how many distinct terms occur in lower.
func CountMatches(lower string, terms []string) int {
	seen := make(map[string]bool, len(terms))
	n := 0
	for _, t := range terms {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// Words splits text into lower-case alphanumeric tokens.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// WordSet returns the distinct lower-case words of text.
func WordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Words(text) {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |A∩B| / |A∪B| over the word sets of a and b. Two empty
// texts have similarity 0.
func Jaccard(a, b string) float64 {
	sa, sb := WordSet(a), WordSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// Sentences splits text at terminal punctuation followed by whitespace.
// Terminal punctuation stays attached to its sentence.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		end := loc[0]
		for end < loc[1] && !unicode.IsSpace(rune(text[end])) {
			end++
		}
		if s := strings.TrimSpace(text[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

var levelNotation = regexp.MustCompile(`(?i)\b([ctls])([1-9]|1[0-2])\b`)

var levelRegion = map[byte]string{
	'c': "cervical",
	't': "thoracic",
	'l': "lumbar",
	's': "sacral",
}

// SpinalRegions returns the distinct spinal regions documented in text,
// found through region keywords and vertebral level notation (C5, L4-L5).
// The result is sorted and holds at most max entries.
func SpinalRegions(text string, keywords map[string][]string, max int) []string {
	lower := strings.ToLower(text)
	found := make(map[string]bool)
	for region, terms := range keywords {
		if ContainsAny(lower, terms) {
			found[region] = true
		}
	}
	for _, m := range levelNotation.FindAllStringSubmatch(lower, -1) {
		if region, ok := levelRegion[m[1][0]]; ok {
			found[region] = true
		}
	}
	regions := make([]string, 0, len(found))
	for r := range found {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	if max > 0 && len(regions) > max {
		regions = regions[:max]
	}
	return regions
}
