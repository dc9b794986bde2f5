package draftnote

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/chiro/chiro/internal/domain/preference"
	"github.com/chiro/chiro/internal/soap"
)

var (
	existingBullets = regexp.MustCompile(`(?m)^\s*[-•*]\s`)
	sentenceBreak   = regexp.MustCompile(`\.\s+([A-Z])`)
)

// StyleResult is a draft after the provider's preferences were applied.
type StyleResult struct {
	Sections   soap.Sections
	Applied    []string
	AppliedIDs []uuid.UUID
	Score      float64
}

// ApplyStyle rewrites the sections with each preference in turn. The score
// is the number of applications over the number of preferences considered,
// capped at 1. A terminology pair counts once, and only when it matched the
// subjective section, however many sections it changed.
func ApplyStyle(sections soap.Sections, prefs []*preference.Preference) StyleResult {
	res := StyleResult{Sections: copySections(sections)}
	if len(prefs) == 0 {
		return res
	}
	applied := 0
	for _, p := range prefs {
		used := false
		switch p.Category {
		case preference.CategoryTerminology:
			v, err := p.Terminology()
			if err != nil {
				continue
			}
			for _, from := range sortedKeys(v.Replacements) {
				to := v.Replacements[from]
				re := termPattern(from)
				for _, sec := range soap.Order {
					if !res.Sections.Has(sec) {
						continue
					}
					text := res.Sections.Get(sec)
					if !re.MatchString(text) {
						continue
					}
					res.Sections.Set(sec, re.ReplaceAllLiteralString(text, to))
					if sec == soap.Subjective {
						applied++
						used = true
						res.Applied = append(res.Applied, "terminology:"+from+"->"+to)
					}
				}
			}

		case preference.CategoryStyle:
			v, err := p.Style()
			if err != nil || p.Key != preference.KeyBulletPoints || !v.Enabled {
				continue
			}
			if plan, ok := bulletize(res.Sections.Get(soap.Plan)); ok {
				res.Sections.Set(soap.Plan, plan)
				applied++
				used = true
				res.Applied = append(res.Applied, "style:bulletPoints")
			}

		case preference.CategoryFormat:
			v, err := p.Format()
			if err != nil || v.Template == "" {
				continue
			}
			applied++
			used = true
			res.Applied = append(res.Applied, "format:"+p.Key)

		case preference.CategoryPhrases:
			v, err := p.Phrases()
			if err != nil || v.ClosingPhrase == "" {
				continue
			}
			plan := res.Sections.Get(soap.Plan)
			if plan == "" {
				plan = v.ClosingPhrase
			} else {
				plan += "\n\n" + v.ClosingPhrase
			}
			res.Sections.Set(soap.Plan, plan)
			applied++
			used = true
			res.Applied = append(res.Applied, "phrases:closing")
		}
		if used {
			res.AppliedIDs = append(res.AppliedIDs, p.ID)
		}
	}
	res.Score = float64(applied) / float64(len(prefs))
	if res.Score > 1 {
		res.Score = 1
	}
	return res
}

// termPattern matches every occurrence of term regardless of case, including
// occurrences inside longer words.
func termPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(term))
}

// bulletize turns a multi-sentence plan into a bulleted list. Plans that
// already carry list markers, or hold a single sentence, are left alone.
func bulletize(plan string) (string, bool) {
	if plan == "" || existingBullets.MatchString(plan) || strings.Contains(plan, "•") {
		return plan, false
	}
	var parts []string
	last := 0
	for _, loc := range sentenceBreak.FindAllStringSubmatchIndex(plan, -1) {
		parts = append(parts, strings.TrimSpace(plan[last:loc[0]+1]))
		last = loc[2]
	}
	parts = append(parts, strings.TrimSpace(plan[last:]))
	if len(parts) < 2 {
		return plan, false
	}
	for i, p := range parts {
		parts[i] = "• " + p
	}
	return strings.Join(parts, "\n"), true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copySections(s soap.Sections) soap.Sections {
	var out soap.Sections
	for _, sec := range soap.Order {
		if s.Has(sec) {
			out.Set(sec, s.Get(sec))
		}
	}
	return out
}
