// Package ai defines the external AI capabilities the clinical core consumes
// (speech-to-text, SOAP generation, billing-code suggestion, compliance
// review) and a Client that implements the text capabilities on top of any
// chat-completion backend.
package ai

import (
	"context"
	"time"

	"github.com/chiro/chiro/internal/soap"
)

// Transcription is one transcribed audio chunk.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioBase64, mimeType string) (*Transcription, error)
}

type PatientInfo struct {
	Name       string   `json:"name,omitempty"`
	Age        int      `json:"age,omitempty"`
	Sex        string   `json:"sex,omitempty"`
	Occupation string   `json:"occupation,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

type PreviousVisit struct {
	Date       time.Time `json:"date"`
	Assessment string    `json:"assessment,omitempty"`
	Plan       string    `json:"plan,omitempty"`
}

// PreferenceHint is a learned provider preference passed to the model as
// guidance. Deterministic style application happens after generation.
type PreferenceHint struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Summary  string `json:"summary"`
}

type SOAPRequest struct {
	Transcript     string
	PatientInfo    PatientInfo
	ChiefComplaint string
	EncounterType  string
	PreviousVisit  *PreviousVisit
	Preferences    []PreferenceHint
}

// SOAPDraft is the model's note. Confidence is a single score for the whole
// note.
type SOAPDraft struct {
	soap.Sections
	Confidence float64 `json:"confidence"`
}

type SOAPGenerator interface {
	GenerateSOAP(ctx context.Context, req SOAPRequest) (*SOAPDraft, error)
}

type CodeCandidate struct {
	Code          string  `json:"code"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
	IsChiroCommon bool    `json:"isChiroCommon"`
}

type CodeCandidates struct {
	ICD10 []CodeCandidate `json:"icd10"`
	CPT   []CodeCandidate `json:"cpt"`
}

type CodeSuggester interface {
	SuggestCodes(ctx context.Context, soapText, encounterType string) (*CodeCandidates, error)
}

// ComplianceFinding is an issue raised by the model. Severity is free text
// ("error", "critical", "warning", ...) and is normalized by the caller.
type ComplianceFinding struct {
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Section    string `json:"section,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type ComplianceChecker interface {
	CheckCompliance(ctx context.Context, note soap.Sections, encounterType string) ([]ComplianceFinding, error)
}

// Named identifies the backend that produced a result.
type Named interface {
	ProviderName() string
}

// CompletionRequest is a single-turn chat completion.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer is a chat-completion backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
