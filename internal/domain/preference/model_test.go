package preference

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/chiro/chiro/internal/platform/apperror"
)

func TestFeedback_ConfidenceStaysInBounds(t *testing.T) {
	p := newPreference("dr-1", Observation{Category: CategoryStyle, Key: KeyBulletPoints}, json.RawMessage(`{"enabled":true}`), SourceEdit)
	for i := 0; i < 20; i++ {
		p.feedback(false)
		if p.Confidence < MinConfidence {
			t.Fatalf("confidence fell below floor: %v", p.Confidence)
		}
	}
	if p.Confidence != MinConfidence {
		t.Errorf("expected confidence at floor, got %v", p.Confidence)
	}
	for i := 0; i < 40; i++ {
		p.feedback(true)
		if p.Confidence > MaxConfidence {
			t.Fatalf("confidence rose above ceiling: %v", p.Confidence)
		}
	}
	if p.Confidence != MaxConfidence {
		t.Errorf("expected confidence at ceiling, got %v", p.Confidence)
	}
	if p.TimesApplied != 60 || p.TimesRejected != 20 || p.TimesAccepted != 40 {
		t.Errorf("unexpected counters %d/%d/%d", p.TimesApplied, p.TimesAccepted, p.TimesRejected)
	}
}

func TestObserve_CapsExamples(t *testing.T) {
	p := newPreference("dr-1", Observation{Category: CategoryStyle, Key: KeyBulletPoints}, json.RawMessage(`{"enabled":true}`), SourceEdit)
	p.Active = false
	for i := 0; i < 15; i++ {
		p.observe(json.RawMessage(fmt.Sprintf(`{"enabled":%t}`, i%2 == 0)))
	}
	if len(p.Examples) != maxExamples {
		t.Fatalf("expected %d examples, got %d", maxExamples, len(p.Examples))
	}
	if string(p.Examples[len(p.Examples)-1]) != string(p.Value) {
		t.Errorf("latest example should be the current value")
	}
	if p.LearnedFrom != 16 {
		t.Errorf("expected learned_from 16, got %d", p.LearnedFrom)
	}
	if !p.Active {
		t.Error("observation should reactivate the preference")
	}
	if p.Confidence != MaxConfidence {
		t.Errorf("expected confidence capped at 1, got %v", p.Confidence)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		raw      string
		ok       bool
	}{
		{"terminology", CategoryTerminology, `{"replacements":{"soreness":"tenderness"}}`, true},
		{"terminology empty", CategoryTerminology, `{"replacements":{}}`, false},
		{"terminology blank term", CategoryTerminology, `{"replacements":{"":"x"}}`, false},
		{"style", CategoryStyle, `{"enabled":false}`, true},
		{"style wrong type", CategoryStyle, `{"enabled":"yes"}`, false},
		{"format", CategoryFormat, `{"section":"plan","template":"CMT: {regions}"}`, true},
		{"phrases", CategoryPhrases, `{"closingPhrase":"Follow up in 2 weeks."}`, true},
		{"phrases empty", CategoryPhrases, `{}`, false},
		{"depth", CategoryDepth, `{"level":"standard","averageWords":150}`, true},
		{"depth mismatch", CategoryDepth, `{"level":"brief","averageWords":400}`, false},
		{"unknown category", Category("tone"), `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.category, json.RawMessage(tt.raw))
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, apperror.ErrBadRequest) {
					t.Errorf("expected bad request, got %v", err)
				}
			}
		})
	}
}

func TestDepthLevelFor(t *testing.T) {
	cases := map[int]string{0: DepthBrief, 99: DepthBrief, 100: DepthStandard, 199: DepthStandard, 200: DepthDetailed, 349: DepthDetailed, 350: DepthComprehensive}
	for words, want := range cases {
		if got := DepthLevelFor(words); got != want {
			t.Errorf("DepthLevelFor(%d) = %q, want %q", words, got, want)
		}
	}
}

func TestSummary(t *testing.T) {
	p := &Preference{Category: CategoryPhrases, Value: json.RawMessage(`{"closingPhrase":"Follow up in 2 weeks."}`)}
	if got := p.Summary(); got != `end the plan with "Follow up in 2 weeks."` {
		t.Errorf("unexpected summary %q", got)
	}
	p = &Preference{Category: CategoryStyle, Key: KeyBulletPoints, Value: json.RawMessage(`{"enabled":true}`)}
	if got := p.Summary(); got != "useBulletPoints=true" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestSummary_TerminologyOrdered(t *testing.T) {
	p := &Preference{Category: CategoryTerminology, Key: "replace", Value: json.RawMessage(
		`{"replacements":{"sore":"tender","pain":"discomfort","pt":"patient"}}`)}
	want := `write "discomfort" instead of "pain"; write "patient" instead of "pt"; write "tender" instead of "sore"`
	for i := 0; i < 20; i++ {
		if got := p.Summary(); got != want {
			t.Fatalf("summary = %q, want %q", got, want)
		}
	}
}
