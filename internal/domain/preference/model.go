package preference

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chiro/chiro/internal/platform/apperror"
)

type Category string

const (
	CategoryTerminology Category = "terminology"
	CategoryStyle       Category = "style"
	CategoryFormat      Category = "format"
	CategoryTemplate    Category = "template"
	CategoryPhrases     Category = "phrases"
	CategoryDepth       Category = "depth"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTerminology, CategoryStyle, CategoryFormat, CategoryTemplate, CategoryPhrases, CategoryDepth:
		return true
	}
	return false
}

// Where an observation came from.
const (
	SourceEdit       = "edit"
	SourceHistorical = "historical"
	SourceExplicit   = "explicit"
)

// Style keys.
const (
	KeyBulletPoints  = "useBulletPoints"
	KeyNumberedLists = "useNumberedLists"
	KeyClosingPhrase = "closingPhrase"
	KeyOpeningPhrase = "openingPhrase"
	KeyNoteDepth     = "noteDepth"
)

const (
	InitialConfidence = 0.5
	MinConfidence     = 0.1
	MaxConfidence     = 1.0
	// GenerationThreshold is the confidence a preference needs before it
	// shapes a generated draft.
	GenerationThreshold = 0.5

	observationBoost = 0.05
	acceptBoost      = 0.05
	rejectPenalty    = 0.10
	maxExamples      = 10
)

// Preference maps to the provider_preference table. Value holds one of the
// typed payloads below, selected by Category.
type Preference struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	ProviderID    string            `db:"provider_id" json:"provider_id"`
	Category      Category          `db:"category" json:"category"`
	Key           string            `db:"pref_key" json:"key"`
	Value         json.RawMessage   `db:"value" json:"value"`
	Confidence    float64           `db:"confidence" json:"confidence"`
	LearnedFrom   int               `db:"learned_from" json:"learned_from"`
	TimesApplied  int               `db:"times_applied" json:"times_applied"`
	TimesAccepted int               `db:"times_accepted" json:"times_accepted"`
	TimesRejected int               `db:"times_rejected" json:"times_rejected"`
	Examples      []json.RawMessage `db:"examples" json:"examples"`
	Source        string            `db:"source" json:"source"`
	Active        bool              `db:"active" json:"active"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// TerminologyValue maps a term the provider replaces to the term they use.
type TerminologyValue struct {
	Replacements map[string]string `json:"replacements"`
}

// StyleValue toggles a formatting habit such as bullet points.
type StyleValue struct {
	Enabled bool `json:"enabled"`
}

// FormatValue and template preferences carry a section template.
type FormatValue struct {
	Section  string `json:"section,omitempty"`
	Template string `json:"template"`
}

type PhrasesValue struct {
	Phrases       []string `json:"phrases,omitempty"`
	ClosingPhrase string   `json:"closingPhrase,omitempty"`
	OpeningPhrase string   `json:"openingPhrase,omitempty"`
}

// DepthValue is the provider's typical note length tier.
type DepthValue struct {
	Level        string `json:"level"`
	AverageWords int    `json:"averageWords"`
}

// Observation is one learned fact about a provider's style, not yet merged
// into the store.
type Observation struct {
	Category Category    `json:"category"`
	Key      string      `json:"key"`
	Value    interface{} `json:"value"`
}

// Validate checks that raw decodes into the payload shape for category.
func Validate(category Category, raw json.RawMessage) error {
	if !category.Valid() {
		return apperror.BadRequest("unknown preference category %q", category)
	}
	bad := func(format string, args ...interface{}) error {
		return apperror.BadRequest("invalid %s preference: %s", category, fmt.Sprintf(format, args...))
	}
	switch category {
	case CategoryTerminology:
		var v TerminologyValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return bad("%v", err)
		}
		if len(v.Replacements) == 0 {
			return bad("replacements are required")
		}
		for from, to := range v.Replacements {
			if from == "" || to == "" {
				return bad("empty replacement term")
			}
		}
	case CategoryStyle:
		var v StyleValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return bad("%v", err)
		}
	case CategoryFormat, CategoryTemplate:
		var v FormatValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return bad("%v", err)
		}
	case CategoryPhrases:
		var v PhrasesValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return bad("%v", err)
		}
		if len(v.Phrases) == 0 && v.ClosingPhrase == "" && v.OpeningPhrase == "" {
			return bad("no phrases")
		}
	case CategoryDepth:
		var v DepthValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return bad("%v", err)
		}
		if DepthLevelFor(v.AverageWords) != v.Level {
			return bad("level %q does not match %d words", v.Level, v.AverageWords)
		}
	}
	return nil
}

func (p *Preference) Terminology() (TerminologyValue, error) {
	var v TerminologyValue
	err := json.Unmarshal(p.Value, &v)
	return v, err
}

func (p *Preference) Style() (StyleValue, error) {
	var v StyleValue
	err := json.Unmarshal(p.Value, &v)
	return v, err
}

func (p *Preference) Format() (FormatValue, error) {
	var v FormatValue
	err := json.Unmarshal(p.Value, &v)
	return v, err
}

func (p *Preference) Phrases() (PhrasesValue, error) {
	var v PhrasesValue
	err := json.Unmarshal(p.Value, &v)
	return v, err
}

func clampConfidence(c float64) float64 {
	if c > MaxConfidence {
		return MaxConfidence
	}
	if c < MinConfidence {
		return MinConfidence
	}
	return c
}

// observe merges a repeated observation: the value becomes current, the
// previous value joins the bounded example window, and confidence rises.
func (p *Preference) observe(value json.RawMessage) {
	p.Examples = append(p.Examples, value)
	if len(p.Examples) > maxExamples {
		p.Examples = p.Examples[len(p.Examples)-maxExamples:]
	}
	p.Value = value
	p.LearnedFrom++
	p.Confidence = clampConfidence(p.Confidence + observationBoost)
	p.Active = true
}

// feedback records whether the provider kept the preference's effect.
func (p *Preference) feedback(accepted bool) {
	p.TimesApplied++
	if accepted {
		p.TimesAccepted++
		p.Confidence = clampConfidence(p.Confidence + acceptBoost)
		return
	}
	p.TimesRejected++
	p.Confidence = clampConfidence(p.Confidence - rejectPenalty)
}

func newPreference(providerID string, o Observation, value json.RawMessage, source string) *Preference {
	return &Preference{
		ProviderID:  providerID,
		Category:    o.Category,
		Key:         o.Key,
		Value:       value,
		Confidence:  InitialConfidence,
		LearnedFrom: 1,
		Examples:    []json.RawMessage{value},
		Source:      source,
		Active:      true,
	}
}

// Summary is a one-line description handed to the generation model.
func (p *Preference) Summary() string {
	switch p.Category {
	case CategoryTerminology:
		if v, err := p.Terminology(); err == nil && len(v.Replacements) > 0 {
			froms := make([]string, 0, len(v.Replacements))
			for from := range v.Replacements {
				froms = append(froms, from)
			}
			sort.Strings(froms)
			parts := make([]string, len(froms))
			for i, from := range froms {
				parts[i] = fmt.Sprintf("write %q instead of %q", v.Replacements[from], from)
			}
			return strings.Join(parts, "; ")
		}
	case CategoryStyle:
		if v, err := p.Style(); err == nil {
			return fmt.Sprintf("%s=%t", p.Key, v.Enabled)
		}
	case CategoryPhrases:
		if v, err := p.Phrases(); err == nil {
			switch {
			case v.ClosingPhrase != "":
				return fmt.Sprintf("end the plan with %q", v.ClosingPhrase)
			case v.OpeningPhrase != "":
				return fmt.Sprintf("open the subjective with %q", v.OpeningPhrase)
			case len(v.Phrases) > 0:
				return fmt.Sprintf("commonly writes %q", v.Phrases[0])
			}
		}
	case CategoryDepth:
		var v DepthValue
		if err := json.Unmarshal(p.Value, &v); err == nil {
			return fmt.Sprintf("%s notes (about %d words)", v.Level, v.AverageWords)
		}
	}
	return string(p.Value)
}
