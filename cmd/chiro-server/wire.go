package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/rs/zerolog"

	"github.com/chiro/chiro/internal/config"
	"github.com/chiro/chiro/internal/domain/coding"
	"github.com/chiro/chiro/internal/domain/compliance"
	"github.com/chiro/chiro/internal/domain/documents"
	"github.com/chiro/chiro/internal/domain/draftnote"
	"github.com/chiro/chiro/internal/domain/preference"
	"github.com/chiro/chiro/internal/domain/transcription"
	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/platform/ai/anyllm"
	"github.com/chiro/chiro/internal/platform/ai/mock"
	"github.com/chiro/chiro/internal/platform/ai/openai"
	"github.com/chiro/chiro/internal/platform/auth"
	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/platform/middleware"
	"github.com/chiro/chiro/internal/platform/resilience"
	"github.com/chiro/chiro/internal/platform/telemetry"
	"github.com/chiro/chiro/internal/platform/websocket"
	"github.com/chiro/chiro/internal/rules"
)

// Backend is everything the clinical services need from the AI layer.
type Backend interface {
	ai.Transcriber
	ai.SOAPGenerator
	ai.CodeSuggester
	ai.ComplianceChecker
	ai.Named
}

// audioSuffixes are the routes that carry base64 audio and get the larger
// body limit.
var audioSuffixes = []string{"/chunks", "/stop"}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:       cfg.DatabaseURL,
		MaxConns:  cfg.DBMaxConns,
		MinConns:  cfg.DBMinConns,
		SlowQuery: cfg.SlowQuery,
		Logger:    logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e, shutdown, err := newServer(cfg, pool, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with every middleware, service and
// route. The returned func flushes telemetry.
func newServer(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*echo.Echo, func(context.Context) error, error) {
	tel, err := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "chiro-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics := tel.Metrics()

	rs, err := loadRules(cfg.RulesFile)
	if err != nil {
		return nil, nil, err
	}

	backend, breaker, err := newAIBackend(cfg, tel, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("provider", backend.ProviderName()).Bool("transcription", cfg.TranscriptionEnabled).Msg("ai backend ready")

	hub := websocket.NewHub(logger)

	// Services
	docsSvc := documents.NewService(documents.NewClinicalNoteRepoPG(pool))
	prefSvc := preference.NewService(preference.NewRepoPG(pool), docsSvc, metrics, logger)
	transSvc := transcription.NewService(transcription.NewRepoPG(pool), backend, hub, metrics, logger)
	draftSvc := draftnote.NewService(draftnote.NewRepoPG(pool), backend, prefSvc, transSvc, docsSvc, hub, metrics, logger)
	codingSvc := coding.NewService(coding.NewRepoPG(pool), backend, rs, docsSvc, hub, metrics, logger)
	complianceSvc := compliance.NewService(compliance.NewRepoPG(pool), backend, rs, docsSvc, codingSvc, hub, metrics, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(tel.TracingMiddleware())
	e.Use(tel.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", "X-Provider-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.AudioBodyLimit, audioSuffixes...))

	authMW := authMiddleware(cfg)

	// Ops endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, breakerCheck(breaker)))
	if cfg.MetricsEnabled {
		e.GET("/metrics", tel.PrometheusHandler())
	}

	// Live encounter events
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group("", authMW))

	// API v1
	rateCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateCfg.BurstSize = cfg.RateLimitBurst
	}
	apiMW := []echo.MiddlewareFunc{
		authMW,
		db.TenantMiddleware(pool, cfg.DefaultTenant),
		middleware.RateLimit(rateCfg),
	}
	if cfg.RequestTimeout > 0 {
		apiMW = append(apiMW, middleware.RequestTimeout(cfg.RequestTimeout))
	}
	apiMW = append(apiMW, middleware.Audit(logger))
	apiV1 := e.Group("/api/v1", apiMW...)

	transcription.NewHandler(transSvc).RegisterRoutes(apiV1)
	draftnote.NewHandler(draftSvc).RegisterRoutes(apiV1)
	coding.NewHandler(codingSvc).RegisterRoutes(apiV1)
	compliance.NewHandler(complianceSvc).RegisterRoutes(apiV1)
	preference.NewHandler(prefSvc).RegisterRoutes(apiV1)
	documents.NewHandler(docsSvc).RegisterRoutes(apiV1)

	return e, tel.Shutdown, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware(cfg.DefaultTenant)
	}
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jc)
}

func loadRules(path string) (*rules.Ruleset, error) {
	if path == "" {
		return rules.Default(), nil
	}
	rs, err := rules.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rs, nil
}

// newAIBackend selects the chat backend named by AI_PROVIDER. Speech-to-text
// always goes through OpenAI; when the chat provider is something else a
// separate OpenAI client is built for it. The breaker is nil for the mock
// backend.
func newAIBackend(cfg *config.Config, tel *telemetry.TelemetryProvider, logger zerolog.Logger) (Backend, *resilience.CircuitBreaker, error) {
	if cfg.AIProvider == "mock" {
		return &mock.Backend{}, nil, nil
	}

	breaker := resilience.New(resilience.Config{
		Name:         "ai-" + cfg.AIProvider,
		MaxFailures:  cfg.AIBreakerMaxFailures,
		ResetTimeout: cfg.AIBreakerReset,
		Logger:       logger,
	})
	opts := []ai.Option{
		ai.WithBreaker(breaker),
		ai.WithMetrics(tel.Metrics()),
		ai.WithTracer(tel.Tracer()),
		ai.WithLogger(logger),
	}

	var completer ai.Completer
	var chatOpenAI *openai.Provider
	switch cfg.AIProvider {
	case "openai":
		p, err := openai.New(cfg.AIAPIKey, cfg.AIModel, openAIOptions(cfg.AIBaseURL, cfg)...)
		if err != nil {
			return nil, nil, err
		}
		completer, chatOpenAI = p, p
	default:
		var llmOpts []anyllmlib.Option
		if cfg.AIAPIKey != "" {
			llmOpts = append(llmOpts, anyllmlib.WithAPIKey(cfg.AIAPIKey))
		}
		if cfg.AIBaseURL != "" {
			llmOpts = append(llmOpts, anyllmlib.WithBaseURL(cfg.AIBaseURL))
		}
		p, err := anyllm.New(cfg.AIProvider, cfg.AIModel, llmOpts...)
		if err != nil {
			return nil, nil, err
		}
		completer = p
	}

	if cfg.TranscriptionEnabled {
		stt, err := newTranscriber(cfg, chatOpenAI)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, ai.WithTranscriber(stt))
	}

	return ai.NewClient(cfg.AIProvider+":"+cfg.AIModel, completer, opts...), breaker, nil
}

// newTranscriber reuses the chat client when it is OpenAI with the same
// credentials and endpoint.
func newTranscriber(cfg *config.Config, chat *openai.Provider) (ai.Transcriber, error) {
	if chat != nil && cfg.TranscriptionAPIKey == "" && cfg.TranscriptionBaseURL == "" {
		return chat, nil
	}
	p, err := openai.New(cfg.TranscriptionKey(), cfg.TranscriptionModel, openAIOptions(cfg.TranscriptionBaseURL, cfg)...)
	if err != nil {
		return nil, fmt.Errorf("transcription backend: %w", err)
	}
	return p, nil
}

func openAIOptions(baseURL string, cfg *config.Config) []openai.Option {
	opts := []openai.Option{openai.WithTranscriptionModel(cfg.TranscriptionModel)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if cfg.AITimeout > 0 {
		opts = append(opts, openai.WithTimeout(cfg.AITimeout))
	}
	return opts
}

// breakerCheck reports the AI breaker on /health/db. An open breaker makes
// the service unready.
func breakerCheck(b *resilience.CircuitBreaker) db.Check {
	return db.Check{
		Name: "ai",
		Run: func(context.Context) (string, bool) {
			if b == nil {
				return "mock", true
			}
			st := b.State()
			return st.String(), st != resilience.StateOpen
		},
	}
}
