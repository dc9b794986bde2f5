// Package mock provides test doubles for the ai package interfaces.
//
// Backend implements every capability at once. Set the canned results (or
// the matching *Err field) before use and inspect the recorded calls
// afterwards:
//
//	b := &mock.Backend{Draft: &ai.SOAPDraft{Confidence: 0.9}}
//	svc := draftnote.NewService(repo, b, ...)
package mock

import (
	"context"
	"sync"

	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/soap"
)

type Backend struct {
	mu sync.Mutex

	Name string

	// Transcriptions are returned in order; the last one repeats once the
	// queue is exhausted.
	Transcriptions []ai.Transcription
	TranscribeErr  error
	// TranscribeErrAt fails only the call with this 1-based index when > 0.
	TranscribeErrAt int

	Draft       *ai.SOAPDraft
	GenerateErr error

	Codes      *ai.CodeCandidates
	SuggestErr error

	Findings   []ai.ComplianceFinding
	ComplyErr  error

	TranscribeCalls int
	SOAPRequests    []ai.SOAPRequest
	SuggestCalls    int
	ComplianceCalls int
}

var (
	_ ai.Transcriber       = (*Backend)(nil)
	_ ai.SOAPGenerator     = (*Backend)(nil)
	_ ai.CodeSuggester     = (*Backend)(nil)
	_ ai.ComplianceChecker = (*Backend)(nil)
	_ ai.Named             = (*Backend)(nil)
)

func (b *Backend) ProviderName() string {
	if b.Name == "" {
		return "mock"
	}
	return b.Name
}

func (b *Backend) Transcribe(context.Context, string, string) (*ai.Transcription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TranscribeCalls++
	if b.TranscribeErr != nil && (b.TranscribeErrAt == 0 || b.TranscribeErrAt == b.TranscribeCalls) {
		return nil, b.TranscribeErr
	}
	if len(b.Transcriptions) == 0 {
		return &ai.Transcription{Text: "", Confidence: 1}, nil
	}
	idx := b.TranscribeCalls - 1
	if idx >= len(b.Transcriptions) {
		idx = len(b.Transcriptions) - 1
	}
	t := b.Transcriptions[idx]
	return &t, nil
}

func (b *Backend) GenerateSOAP(_ context.Context, req ai.SOAPRequest) (*ai.SOAPDraft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SOAPRequests = append(b.SOAPRequests, req)
	if b.GenerateErr != nil {
		return nil, b.GenerateErr
	}
	if b.Draft == nil {
		return &ai.SOAPDraft{Confidence: 0.5}, nil
	}
	d := *b.Draft
	d.Sections = copySections(b.Draft.Sections)
	return &d, nil
}

func (b *Backend) SuggestCodes(context.Context, string, string) (*ai.CodeCandidates, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SuggestCalls++
	if b.SuggestErr != nil {
		return nil, b.SuggestErr
	}
	if b.Codes == nil {
		return &ai.CodeCandidates{}, nil
	}
	c := ai.CodeCandidates{
		ICD10: append([]ai.CodeCandidate(nil), b.Codes.ICD10...),
		CPT:   append([]ai.CodeCandidate(nil), b.Codes.CPT...),
	}
	return &c, nil
}

func (b *Backend) CheckCompliance(context.Context, soap.Sections, string) ([]ai.ComplianceFinding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ComplianceCalls++
	if b.ComplyErr != nil {
		return nil, b.ComplyErr
	}
	return append([]ai.ComplianceFinding(nil), b.Findings...), nil
}

// copySections keeps callers from mutating the canned draft through the
// returned pointers.
func copySections(s soap.Sections) soap.Sections {
	var out soap.Sections
	for _, sec := range soap.Order {
		if s.Has(sec) {
			out.Set(sec, s.Get(sec))
		}
	}
	return out
}
