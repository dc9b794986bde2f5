package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/platform/resilience"
	"github.com/chiro/chiro/internal/soap"
)

type stubCompleter struct {
	reply string
	err   error
	calls int
	last  CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.calls++
	s.last = req
	return s.reply, s.err
}

type stubTranscriber struct {
	out *Transcription
	err error
}

func (s *stubTranscriber) Transcribe(context.Context, string, string) (*Transcription, error) {
	return s.out, s.err
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced json", "Here:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"bare fence", "```\n{\"a\":2}\n```", `{"a":2}`},
		{"prose", `The answer is {"a":{"b":3}} as requested.`, `{"a":{"b":3}}`},
		{"brace in string", `{"plan":"use {brackets}"} trailing`, `{"plan":"use {brackets}"}`},
		{"plain", `  {"a":4}  `, `{"a":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateSOAP(t *testing.T) {
	comp := &stubCompleter{reply: "```json\n" + `{"subjective":"Low back pain 6/10.","objective":"Lumbar tenderness.","assessment":"","plan":null,"confidence":0.87}` + "\n```"}
	c := NewClient("openai:gpt-4o-mini", comp)

	draft, err := c.GenerateSOAP(context.Background(), SOAPRequest{
		Transcript:     "[PROVIDER]: How are you feeling?",
		ChiefComplaint: "low back pain",
		EncounterType:  "FOLLOW_UP",
		PatientInfo:    PatientInfo{Age: 42, Sex: "F"},
		PreviousVisit:  &PreviousVisit{Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Plan: "CMT lumbar"},
		Preferences:    []PreferenceHint{{Category: "depth", Key: "depth", Summary: "brief"}},
	})
	if err != nil {
		t.Fatalf("GenerateSOAP() error: %v", err)
	}
	if draft.Get(soap.Subjective) != "Low back pain 6/10." {
		t.Errorf("unexpected subjective %q", draft.Get(soap.Subjective))
	}
	if draft.Assessment != nil || draft.Plan != nil {
		t.Error("blank and null sections should be nil")
	}
	if draft.Confidence != 0.87 {
		t.Errorf("confidence = %v", draft.Confidence)
	}
	for _, want := range []string{"FOLLOW_UP", "low back pain", "age 42", "2026-03-01", "[depth] depth: brief"} {
		if !strings.Contains(comp.last.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateSOAP_DefaultConfidence(t *testing.T) {
	c := NewClient("mock", &stubCompleter{reply: `{"subjective":"ok"}`})
	draft, err := c.GenerateSOAP(context.Background(), SOAPRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if draft.Confidence != defaultConfidence {
		t.Errorf("expected default confidence, got %v", draft.Confidence)
	}
}

func TestSuggestCodes_Normalizes(t *testing.T) {
	reply := `{"icd10":[{"code":" m54.50 ","description":"Low back pain","confidence":1.4},{"code":""}],
	"cpt":[{"code":"98941","description":"CMT 3-4 regions","confidence":0.9,"isChiroCommon":true}]}`
	c := NewClient("mock", &stubCompleter{reply: reply})
	out, err := c.SuggestCodes(context.Background(), "note", "FOLLOW_UP")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.ICD10) != 1 || out.ICD10[0].Code != "M54.50" || out.ICD10[0].Confidence != 1 {
		t.Errorf("unexpected icd10 %+v", out.ICD10)
	}
	if len(out.CPT) != 1 || !out.CPT[0].IsChiroCommon {
		t.Errorf("unexpected cpt %+v", out.CPT)
	}
}

func TestCheckCompliance(t *testing.T) {
	reply := `{"issues":[{"severity":"warning","message":"Plan lacks frequency","section":"plan"},{"severity":"info","message":"  "}]}`
	c := NewClient("mock", &stubCompleter{reply: reply})
	got, err := c.CheckCompliance(context.Background(), soap.Sections{Plan: soap.Ptr("CMT")}, "FOLLOW_UP")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Section != "plan" {
		t.Errorf("unexpected findings %+v", got)
	}
}

func TestClient_DecodeError(t *testing.T) {
	c := NewClient("mock", &stubCompleter{reply: "I cannot help with that."})
	if _, err := c.SuggestCodes(context.Background(), "note", "FOLLOW_UP"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestClient_BreakerOpens(t *testing.T) {
	comp := &stubCompleter{err: errors.New("503")}
	breaker := resilience.New(resilience.Config{Name: "ai", MaxFailures: 2, ResetTimeout: time.Hour, Logger: zerolog.Nop()})
	c := NewClient("mock", comp, WithBreaker(breaker))

	for i := 0; i < 2; i++ {
		_, _ = c.SuggestCodes(context.Background(), "note", "FOLLOW_UP")
	}
	_, err := c.SuggestCodes(context.Background(), "note", "FOLLOW_UP")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if comp.calls != 2 {
		t.Errorf("expected 2 backend calls, got %d", comp.calls)
	}
}

func TestTranscribe(t *testing.T) {
	c := NewClient("mock", nil, WithTranscriber(&stubTranscriber{out: &Transcription{Text: "hello", Confidence: 1.2}}))
	out, err := c.Transcribe(context.Background(), "YWJj", "audio/webm")
	if err != nil {
		t.Fatal(err)
	}
	if out.Confidence != 1 {
		t.Errorf("confidence should be clamped, got %v", out.Confidence)
	}

	bare := NewClient("mock", nil)
	if _, err := bare.Transcribe(context.Background(), "YWJj", "audio/webm"); !errors.Is(err, ErrNoTranscriber) {
		t.Errorf("expected ErrNoTranscriber, got %v", err)
	}
}

func TestTranscribe_ErrorPropagates(t *testing.T) {
	cause := errors.New("bad audio")
	c := NewClient("mock", nil, WithTranscriber(&stubTranscriber{err: cause}))
	if _, err := c.Transcribe(context.Background(), "x", "audio/wav"); !errors.Is(err, cause) {
		t.Errorf("expected cause, got %v", err)
	}
}

func TestTranscribe_NilResult(t *testing.T) {
	c := NewClient("mock", nil, WithTranscriber(&stubTranscriber{}))
	out, err := c.Transcribe(context.Background(), "x", "audio/wav")
	if !errors.Is(err, errEmptyTranscription) {
		t.Errorf("expected empty transcription error, got %v", err)
	}
	if out != nil {
		t.Errorf("expected no result, got %+v", out)
	}
}
