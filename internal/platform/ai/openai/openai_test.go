package openai

import (
	"math"
	"testing"

	"github.com/chiro/chiro/internal/platform/ai"
)

func TestBuildParams_SystemAndUser(t *testing.T) {
	params := buildParams("gpt-4o-mini", ai.CompletionRequest{System: "sys", Prompt: "hi", Temperature: 0.2, MaxTokens: 100})
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be a system message")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected second message to be a user message")
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("unexpected model %q", params.Model)
	}
	if params.MaxCompletionTokens.Value != 100 {
		t.Errorf("expected max tokens 100, got %d", params.MaxCompletionTokens.Value)
	}
}

func TestBuildParams_NoSystem(t *testing.T) {
	params := buildParams("gpt-4o", ai.CompletionRequest{Prompt: "hi"})
	if len(params.Messages) != 1 || params.Messages[0].OfUser == nil {
		t.Fatal("expected a single user message")
	}
}

func TestSegmentConfidence(t *testing.T) {
	raw := `{"text":"hello","segments":[{"avg_logprob":0},{"avg_logprob":-0.6931471805599453}]}`
	got := segmentConfidence(raw)
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("expected 0.75, got %v", got)
	}
	if got := segmentConfidence(`{"text":"hello"}`); got != 0.9 {
		t.Errorf("expected fallback 0.9, got %v", got)
	}
	if got := segmentConfidence("not json"); got != 0.9 {
		t.Errorf("expected fallback 0.9, got %v", got)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"audio/webm;codecs=opus": ".webm",
		"audio/wav":              ".wav",
		"AUDIO/MPEG":             ".mp3",
		"audio/x-m4a":            ".m4a",
		"application/unknown":    ".webm",
	}
	for in, want := range cases {
		if got := extensionFor(in); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_MissingModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_Options(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL("http://localhost:8080/v1"), WithTranscriptionModel("gpt-4o-transcribe"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.transcriptionModel != "gpt-4o-transcribe" {
		t.Errorf("unexpected transcription model %q", p.transcriptionModel)
	}

	def, _ := New("sk-test", "gpt-4o-mini")
	if def.transcriptionModel != "whisper-1" {
		t.Errorf("expected whisper-1 default, got %q", def.transcriptionModel)
	}
}
