// Package openai provides chat-completion and speech-to-text backends for
// the ai package on top of the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/chiro/chiro/internal/platform/ai"
)

// Provider implements ai.Completer and ai.Transcriber.
type Provider struct {
	client             oai.Client
	model              string
	transcriptionModel string
}

type config struct {
	baseURL            string
	timeout            time.Duration
	transcriptionModel string
}

type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithTranscriptionModel overrides the default whisper-1 model.
func WithTranscriptionModel(m string) Option {
	return func(c *config) { c.transcriptionModel = m }
}

func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{transcriptionModel: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:             oai.NewClient(reqOpts...),
		model:              model,
		transcriptionModel: cfg.transcriptionModel,
	}, nil
}

// Complete implements ai.Completer.
func (p *Provider) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, buildParams(p.model, req))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildParams(model string, req ai.CompletionRequest) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// Transcribe implements ai.Transcriber. The verbose response carries a mean
// log-probability per segment which is folded into a single confidence.
func (p *Provider) Transcribe(ctx context.Context, audioBase64, mimeType string) (*ai.Transcription, error) {
	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return nil, fmt.Errorf("openai: decode audio: %w", err)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio), "chunk"+extensionFor(mimeType), mimeType),
		Model:          oai.AudioModel(p.transcriptionModel),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}

	return &ai.Transcription{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: segmentConfidence(resp.RawJSON()),
	}, nil
}

type verboseTranscript struct {
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// segmentConfidence averages exp(avg_logprob) across segments. A response
// without segments scores 0.9.
func segmentConfidence(raw string) float64 {
	var vt verboseTranscript
	if err := json.Unmarshal([]byte(raw), &vt); err != nil || len(vt.Segments) == 0 {
		return 0.9
	}
	var sum float64
	for _, s := range vt.Segments {
		sum += math.Exp(s.AvgLogprob)
	}
	return sum / float64(len(vt.Segments))
}

func extensionFor(mimeType string) string {
	mt := strings.ToLower(mimeType)
	if i := strings.Index(mt, ";"); i != -1 {
		mt = mt[:i]
	}
	switch mt {
	case "audio/webm":
		return ".webm"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac":
		return ".flac"
	}
	return ".webm"
}
