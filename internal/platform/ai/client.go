package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chiro/chiro/internal/platform/resilience"
	"github.com/chiro/chiro/internal/platform/telemetry"
	"github.com/chiro/chiro/internal/soap"
)

// ErrNoTranscriber is returned by Transcribe when no speech backend is set.
var ErrNoTranscriber = errors.New("ai: no transcription backend configured")

var errEmptyTranscription = errors.New("transcription backend returned no result")

// Client implements every capability in this package. Each call is
// single-shot: it is traced, metered and passed through the circuit breaker
// but never retried.
type Client struct {
	name        string
	completer   Completer
	transcriber Transcriber
	breaker     *resilience.CircuitBreaker
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	logger      zerolog.Logger
	temperature float64
	maxTokens   int
}

type Option func(*Client)

func WithTranscriber(t Transcriber) Option { return func(c *Client) { c.transcriber = t } }

func WithBreaker(b *resilience.CircuitBreaker) Option { return func(c *Client) { c.breaker = b } }

func WithMetrics(m *telemetry.Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(c *Client) { c.tracer = t } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option { return func(c *Client) { c.maxTokens = n } }

// NewClient builds a Client. name is recorded as provenance on every
// generated artifact (e.g. "openai:gpt-4o-mini").
func NewClient(name string, completer Completer, opts ...Option) *Client {
	c := &Client{
		name:        name,
		completer:   completer,
		logger:      zerolog.Nop(),
		temperature: 0.2,
		maxTokens:   2048,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = telemetry.Noop()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/chiro/chiro/internal/platform/ai")
	}
	return c
}

func (c *Client) ProviderName() string { return c.name }

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "ai."+op, trace.WithAttributes(
		attribute.String("ai.provider", c.name),
		attribute.String("ai.operation", op),
	))
	defer span.End()

	start := time.Now()
	run := func() error { return fn(ctx) }
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(run, isCanceled)
	} else {
		err = run()
	}
	c.metrics.RecordAICall(ctx, c.name, op, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		c.logger.Warn().Err(err).Str("provider", c.name).Str("operation", op).Msg("ai call failed")
		return fmt.Errorf("ai %s: %w", op, err)
	}
	return nil
}

func (c *Client) Transcribe(ctx context.Context, audioBase64, mimeType string) (*Transcription, error) {
	if c.transcriber == nil {
		return nil, ErrNoTranscriber
	}
	var out *Transcription
	err := c.call(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		out, err = c.transcriber.Transcribe(ctx, audioBase64, mimeType)
		if err == nil && out == nil {
			return errEmptyTranscription
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Confidence = clamp01(out.Confidence)
	return out, nil
}

func (c *Client) completeJSON(ctx context.Context, op, system, prompt string, dst interface{}) error {
	return c.call(ctx, op, func(ctx context.Context) error {
		text, err := c.completer.Complete(ctx, CompletionRequest{
			System:      system,
			Prompt:      prompt,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(ExtractJSON(text)), dst); err != nil {
			return fmt.Errorf("decode model response: %w", err)
		}
		return nil
	})
}

func (c *Client) GenerateSOAP(ctx context.Context, req SOAPRequest) (*SOAPDraft, error) {
	var raw struct {
		Subjective *string  `json:"subjective"`
		Objective  *string  `json:"objective"`
		Assessment *string  `json:"assessment"`
		Plan       *string  `json:"plan"`
		Confidence *float64 `json:"confidence"`
	}
	if err := c.completeJSON(ctx, "generate_soap", soapSystemPrompt, buildSOAPPrompt(req), &raw); err != nil {
		return nil, err
	}
	draft := &SOAPDraft{Sections: soap.Sections{
		Subjective: blankToNil(raw.Subjective),
		Objective:  blankToNil(raw.Objective),
		Assessment: blankToNil(raw.Assessment),
		Plan:       blankToNil(raw.Plan),
	}, Confidence: defaultConfidence}
	if raw.Confidence != nil {
		draft.Confidence = clamp01(*raw.Confidence)
	}
	return draft, nil
}

func (c *Client) SuggestCodes(ctx context.Context, soapText, encounterType string) (*CodeCandidates, error) {
	var out CodeCandidates
	prompt := fmt.Sprintf(codingPrompt, encounterType, soapText)
	if err := c.completeJSON(ctx, "suggest_codes", codingSystemPrompt, prompt, &out); err != nil {
		return nil, err
	}
	out.ICD10 = normalizeCandidates(out.ICD10)
	out.CPT = normalizeCandidates(out.CPT)
	return &out, nil
}

func (c *Client) CheckCompliance(ctx context.Context, note soap.Sections, encounterType string) ([]ComplianceFinding, error) {
	var out struct {
		Issues []ComplianceFinding `json:"issues"`
	}
	prompt := fmt.Sprintf(compliancePrompt, encounterType, note.Labeled())
	if err := c.completeJSON(ctx, "check_compliance", complianceSystemPrompt, prompt, &out); err != nil {
		return nil, err
	}
	findings := out.Issues[:0]
	for _, f := range out.Issues {
		if strings.TrimSpace(f.Message) == "" {
			continue
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// defaultConfidence is used when the model omits a confidence score.
const defaultConfidence = 0.5

func normalizeCandidates(in []CodeCandidate) []CodeCandidate {
	out := in[:0]
	for _, cand := range in {
		cand.Code = strings.ToUpper(strings.TrimSpace(cand.Code))
		if cand.Code == "" {
			continue
		}
		cand.Confidence = clamp01(cand.Confidence)
		out = append(out, cand)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// ExtractJSON pulls a JSON object out of a model response that may wrap it
// in a markdown fence or surrounding prose.
func ExtractJSON(text string) string {
	if start := strings.Index(text, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if start := strings.Index(text, "```"); start != -1 {
		start += 3
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	if start := strings.Index(text, "{"); start != -1 {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(text); i++ {
			ch := text[i]
			switch {
			case escaped:
				escaped = false
			case ch == '\\' && inString:
				escaped = true
			case ch == '"':
				inString = !inString
			case inString:
			case ch == '{':
				depth++
			case ch == '}':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return strings.TrimSpace(text)
}
