package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/chiro/chiro/internal/platform/ai"
)

func TestBuildParams(t *testing.T) {
	params := buildParams("claude-3-5-haiku-latest", ai.CompletionRequest{System: "sys", Prompt: "note", Temperature: 0.2, MaxTokens: 512})
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("expected system role first, got %q", params.Messages[0].Role)
	}
	if params.Messages[1].Role != "user" {
		t.Errorf("expected user role, got %q", params.Messages[1].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Error("expected temperature 0.2")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Error("expected max tokens 512")
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	params := buildParams("llama3", ai.CompletionRequest{Prompt: "note"})
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens should be left unset")
	}
}

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNew_Anthropic_WithAPIKey(t *testing.T) {
	p, err := New("Anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.name != "anthropic" || p.model != "claude-3-5-sonnet-latest" {
		t.Errorf("unexpected provider %+v", p)
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	if _, err := New("ollama", "llama3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
