package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string        `mapstructure:"PORT"`
	Env           string        `mapstructure:"ENV"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
	SlowQuery     time.Duration `mapstructure:"DB_SLOW_QUERY"`
	DefaultTenant string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string      `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	AudioBodyLimit string        `mapstructure:"AUDIO_BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	AIProvider           string        `mapstructure:"AI_PROVIDER"`
	AIModel              string        `mapstructure:"AI_MODEL"`
	AIAPIKey             string        `mapstructure:"AI_API_KEY"`
	AIBaseURL            string        `mapstructure:"AI_BASE_URL"`
	AITimeout            time.Duration `mapstructure:"AI_TIMEOUT"`
	AIBreakerMaxFailures int           `mapstructure:"AI_BREAKER_MAX_FAILURES"`
	AIBreakerReset       time.Duration `mapstructure:"AI_BREAKER_RESET"`
	TranscriptionEnabled bool          `mapstructure:"TRANSCRIPTION_ENABLED"`
	TranscriptionModel   string        `mapstructure:"TRANSCRIPTION_MODEL"`
	TranscriptionAPIKey  string        `mapstructure:"TRANSCRIPTION_API_KEY"`
	TranscriptionBaseURL string        `mapstructure:"TRANSCRIPTION_BASE_URL"`

	RulesFile       string  `mapstructure:"RULES_FILE"`
	MetricsEnabled  bool    `mapstructure:"METRICS_ENABLED"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`
}

// AIProviders are the accepted AI_PROVIDER values. "mock" is only allowed
// in development.
var AIProviders = []string{"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "deepseek", "llamacpp", "llamafile", "mock"}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SLOW_QUERY",
	"DEFAULT_TENANT", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "AUDIO_BODY_LIMIT", "REQUEST_TIMEOUT",
	"AI_PROVIDER", "AI_MODEL", "AI_API_KEY", "AI_BASE_URL", "AI_TIMEOUT",
	"AI_BREAKER_MAX_FAILURES", "AI_BREAKER_RESET",
	"TRANSCRIPTION_ENABLED", "TRANSCRIPTION_MODEL", "TRANSCRIPTION_API_KEY", "TRANSCRIPTION_BASE_URL",
	"RULES_FILE", "METRICS_ENABLED", "TRACE_SAMPLE_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SLOW_QUERY", "500ms")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("AUDIO_BODY_LIMIT", "25M")
	v.SetDefault("REQUEST_TIMEOUT", "120s")
	v.SetDefault("AI_PROVIDER", "openai")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_TIMEOUT", "60s")
	v.SetDefault("AI_BREAKER_MAX_FAILURES", 5)
	v.SetDefault("AI_BREAKER_RESET", "30s")
	v.SetDefault("TRANSCRIPTION_ENABLED", true)
	v.SetDefault("TRANSCRIPTION_MODEL", "whisper-1")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The decoder may already have split the list without trimming it.
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	} else {
		cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	}
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TranscriptionKey is the OpenAI key used for speech-to-text. It falls back
// to AI_API_KEY when the chat provider is OpenAI as well.
func (c *Config) TranscriptionKey() string {
	if c.TranscriptionAPIKey != "" {
		return c.TranscriptionAPIKey
	}
	if c.AIProvider == "openai" {
		return c.AIAPIKey
	}
	return ""
}

// Validate refuses configurations that would start without authentication
// or with an unusable AI backend.
func (c *Config) Validate() error {
	known := false
	for _, p := range AIProviders {
		if c.AIProvider == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("AI_PROVIDER must be one of %s, got %q", strings.Join(AIProviders, ", "), c.AIProvider)
	}
	if c.AIProvider == "mock" && !c.IsDev() {
		return fmt.Errorf("AI_PROVIDER=mock is only allowed with ENV=development")
	}
	if c.AIModel == "" && c.AIProvider != "mock" {
		return fmt.Errorf("AI_MODEL is required")
	}
	if c.AIProvider == "openai" && c.AIAPIKey == "" {
		return fmt.Errorf("AI_API_KEY is required for the openai provider")
	}
	if c.TranscriptionEnabled && c.AIProvider != "mock" && c.TranscriptionKey() == "" {
		return fmt.Errorf("an OpenAI key (TRANSCRIPTION_API_KEY or AI_API_KEY with AI_PROVIDER=openai) is required when TRANSCRIPTION_ENABLED is true")
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development and testing only; use AUTH_JWKS_URL in production")
	}
	if c.AIBreakerMaxFailures < 1 {
		return fmt.Errorf("AI_BREAKER_MAX_FAILURES must be at least 1")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1")
	}
	return nil
}
