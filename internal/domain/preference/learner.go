package preference

import (
	"regexp"
	"sort"
	"strings"

	"github.com/chiro/chiro/internal/clinicaltext"
	"github.com/chiro/chiro/internal/soap"
)

var (
	bulletLine   = regexp.MustCompile(`(?m)^\s*[-•*]\s+\S`)
	numberedLine = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+\S`)
	listMarker   = regexp.MustCompile(`(?m)^[ \t]*(?:[-•*]|\d+[.)])[ \t]+`)
)

// closingPatterns recognise the sign-off sentences providers add to plans.
var closingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(follow[- ]?up|return|re-?evaluate|recheck)\b.{0,20}\b(in|within)\s+\d+\s+(days?|weeks?|months?|visits?)\b`),
	regexp.MustCompile(`(?i)\bpatient (tolerated|responded to) (the )?(treatment|adjustment|care) well\b`),
	regexp.MustCompile(`(?i)\bcontinue (with )?(the )?(current )?(treatment|care) plan\b`),
	regexp.MustCompile(`(?i)\b(call|contact) (the office|us|clinic) if\b`),
	regexp.MustCompile(`(?i)\bpatient (was )?(instructed|advised|educated) (on|to|regarding)\b`),
	regexp.MustCompile(`(?i)\bhome (care|exercise) (instructions|program) (given|provided|reviewed)\b`),
}

const maxLearnedPhrases = 5

// AnalyzeEdit compares the generated text of one section with the provider's
// edit and returns what the edit says about their style. Each detector
// contributes at most one observation.
func AnalyzeEdit(section soap.Section, original, edited string) []Observation {
	var out []Observation
	if o, ok := terminologyChange(original, edited); ok {
		out = append(out, o)
	}
	if o, ok := listStyleChange(original, edited); ok {
		out = append(out, o)
	}
	if o, ok := phraseAdditions(section, original, edited); ok {
		out = append(out, o)
	}
	return out
}

// wordCounts counts words longer than three characters, remembering the
// order in which they first appear.
func wordCounts(text string) (map[string]int, []string) {
	counts := make(map[string]int)
	var order []string
	for _, w := range clinicaltext.Words(text) {
		if len([]rune(w)) <= 3 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	return counts, order
}

// terminologyChange pairs each word the provider removed with the first
// unused added word of similar length. Pairing ignores meaning.
func terminologyChange(original, edited string) (Observation, bool) {
	before, beforeOrder := wordCounts(original)
	after, afterOrder := wordCounts(edited)

	var removed, added []string
	for _, w := range beforeOrder {
		if after[w] < before[w] {
			removed = append(removed, w)
		}
	}
	for _, w := range afterOrder {
		if after[w] > before[w] {
			added = append(added, w)
		}
	}

	used := make([]bool, len(added))
	replacements := make(map[string]string)
	for _, r := range removed {
		rl := len([]rune(r))
		for i, a := range added {
			if used[i] {
				continue
			}
			d := len([]rune(a)) - rl
			if d >= -3 && d <= 3 {
				replacements[r] = a
				used[i] = true
				break
			}
		}
	}
	if len(replacements) == 0 {
		return Observation{}, false
	}
	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Observation{
		Category: CategoryTerminology,
		Key:      "replace:" + strings.Join(keys, ","),
		Value:    TerminologyValue{Replacements: replacements},
	}, true
}

func listStyleChange(original, edited string) (Observation, bool) {
	ob, eb := bulletLine.MatchString(original), bulletLine.MatchString(edited)
	if ob != eb {
		return Observation{Category: CategoryStyle, Key: KeyBulletPoints, Value: StyleValue{Enabled: eb}}, true
	}
	on, en := numberedLine.MatchString(original), numberedLine.MatchString(edited)
	if on != en {
		return Observation{Category: CategoryStyle, Key: KeyNumberedLists, Value: StyleValue{Enabled: en}}, true
	}
	return Observation{}, false
}

func phraseAdditions(section soap.Section, original, edited string) (Observation, bool) {
	lowerOrig := strings.ToLower(original)
	var v PhrasesValue
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" || seen[key] || len(v.Phrases) >= maxLearnedPhrases {
			return
		}
		seen[key] = true
		v.Phrases = append(v.Phrases, p)
	}

	for _, s := range clinicaltext.Sentences(stripListMarkers(edited)) {
		if !strings.Contains(lowerOrig, strings.ToLower(s)) {
			add(s)
		}
	}
	for _, re := range closingPatterns {
		if m := re.FindString(edited); m != "" && !re.MatchString(original) {
			add(m)
			if section == soap.Plan && v.ClosingPhrase == "" {
				v.ClosingPhrase = sentenceContaining(edited, m)
			}
		}
	}
	if len(v.Phrases) == 0 {
		return Observation{}, false
	}
	key := "added:" + string(section)
	if v.ClosingPhrase != "" {
		key = KeyClosingPhrase
	}
	return Observation{Category: CategoryPhrases, Key: key, Value: v}, true
}

func stripListMarkers(text string) string {
	return listMarker.ReplaceAllString(text, "")
}

func sentenceContaining(text, fragment string) string {
	for _, s := range clinicaltext.Sentences(stripListMarkers(text)) {
		if strings.Contains(s, fragment) {
			return s
		}
	}
	return fragment
}

// abbreviationPairs are the abbreviation/full-form pairs whose usage is
// counted when bootstrapping from historical notes.
var abbreviationPairs = []struct{ Abbr, Full string }{
	{"ROM", "range of motion"},
	{"SLR", "straight leg raise"},
	{"CMT", "chiropractic manipulative treatment"},
	{"HEP", "home exercise program"},
	{"ADL", "activities of daily living"},
	{"SI", "sacroiliac"},
	{"LBP", "low back pain"},
	{"TP", "trigger point"},
	{"Pt", "patient"},
	{"Tx", "treatment"},
	{"Dx", "diagnosis"},
	{"Hx", "history"},
}

const (
	minHistoricalNotes = 3
	minFormUses        = 3
	frequentShare      = 0.3
)

// Depth tiers by average total words per note.
const (
	DepthBrief         = "brief"
	DepthStandard      = "standard"
	DepthDetailed      = "detailed"
	DepthComprehensive = "comprehensive"
)

func DepthLevelFor(words int) string {
	switch {
	case words < 100:
		return DepthBrief
	case words < 200:
		return DepthStandard
	case words < 350:
		return DepthDetailed
	default:
		return DepthComprehensive
	}
}

func countTerm(lower, term string) int {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(term)) + `\b`)
	return len(re.FindAllStringIndex(lower, -1))
}

// AnalyzeHistoricalStyle bootstraps preferences from a provider's past
// notes. Fewer than three notes yield nothing.
func AnalyzeHistoricalStyle(notes []soap.Sections) []Observation {
	if len(notes) < minHistoricalNotes {
		return nil
	}
	var out []Observation
	n := float64(len(notes))

	bullets, numbered := 0, 0
	for _, note := range notes {
		all := joinSections(note)
		if bulletLine.MatchString(all) {
			bullets++
		}
		if numberedLine.MatchString(all) {
			numbered++
		}
	}
	if float64(bullets)/n > 0.5 {
		out = append(out, Observation{Category: CategoryStyle, Key: KeyBulletPoints, Value: StyleValue{Enabled: true}})
	}
	if float64(numbered)/n > 0.5 {
		out = append(out, Observation{Category: CategoryStyle, Key: KeyNumberedLists, Value: StyleValue{Enabled: true}})
	}

	var corpus strings.Builder
	for _, note := range notes {
		corpus.WriteString(strings.ToLower(joinSections(note)))
		corpus.WriteString("\n")
	}
	lower := corpus.String()
	for _, pair := range abbreviationPairs {
		abbr, full := countTerm(lower, pair.Abbr), countTerm(lower, pair.Full)
		switch {
		case abbr >= minFormUses && abbr > full:
			out = append(out, Observation{
				Category: CategoryTerminology,
				Key:      "abbreviation:" + pair.Abbr,
				Value:    TerminologyValue{Replacements: map[string]string{pair.Full: pair.Abbr}},
			})
		case full >= minFormUses && full > abbr:
			out = append(out, Observation{
				Category: CategoryTerminology,
				Key:      "abbreviation:" + pair.Abbr,
				Value:    TerminologyValue{Replacements: map[string]string{pair.Abbr: pair.Full}},
			})
		}
	}

	total := 0.0
	for _, sec := range soap.Order {
		words, present := 0, 0
		for _, note := range notes {
			if note.Has(sec) {
				words += clinicaltext.WordCount(note.Get(sec))
				present++
			}
		}
		if present > 0 {
			total += float64(words) / float64(present)
		}
	}
	avg := int(total + 0.5)
	out = append(out, Observation{
		Category: CategoryDepth,
		Key:      KeyNoteDepth,
		Value:    DepthValue{Level: DepthLevelFor(avg), AverageWords: avg},
	})

	threshold := frequentShare * n
	if phrase, ok := frequent(notes, threshold, func(note soap.Sections) string {
		s := clinicaltext.Sentences(stripListMarkers(note.Get(soap.Plan)))
		if len(s) == 0 {
			return ""
		}
		return s[len(s)-1]
	}); ok {
		out = append(out, Observation{Category: CategoryPhrases, Key: KeyClosingPhrase, Value: PhrasesValue{ClosingPhrase: phrase}})
	}
	if phrase, ok := frequent(notes, threshold, func(note soap.Sections) string {
		s := clinicaltext.Sentences(note.Get(soap.Subjective))
		if len(s) == 0 {
			return ""
		}
		return s[0]
	}); ok {
		out = append(out, Observation{Category: CategoryPhrases, Key: KeyOpeningPhrase, Value: PhrasesValue{OpeningPhrase: phrase}})
	}
	return out
}

// frequent returns the most common non-empty sentence picked from each note
// when it occurs in at least threshold notes. Ties go to the sentence seen
// first.
func frequent(notes []soap.Sections, threshold float64, pick func(soap.Sections) string) (string, bool) {
	counts := make(map[string]int)
	first := make(map[string]string)
	var order []string
	for _, note := range notes {
		s := strings.TrimSpace(pick(note))
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := first[key]; !ok {
			first[key] = s
			order = append(order, key)
		}
		counts[key]++
	}
	best := ""
	for _, k := range order {
		if best == "" || counts[k] > counts[best] {
			best = k
		}
	}
	if best == "" || float64(counts[best]) < threshold {
		return "", false
	}
	return first[best], true
}

func joinSections(note soap.Sections) string {
	parts := make([]string, 0, 4)
	for _, s := range soap.Order {
		if v := note.Get(s); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}
