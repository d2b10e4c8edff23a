package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/retry"
)

// Default configuration values.
const (
	defaultModel         = "gpt-4o-mini"
	defaultTemperature   = 0.7
	defaultMaxTokens     = 4000
	defaultRatePerMinute = 50
	defaultBurst         = 5
)

// Config configures an LLM generator.
type Config struct {
	Temperature   float64
	MaxTokens     int
	RatePerMinute int
	Burst         int
	Retry         retry.Policy
}

// ConfigFrom maps application settings onto Config.
func ConfigFrom(ai config.OpenAIConfig, p config.PipelineConfig) Config {
	return Config{
		Temperature:   ai.Temperature,
		MaxTokens:     ai.MaxTokens,
		RatePerMinute: ai.RatePerMinute,
		Retry: retry.Policy{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   p.BaseDelay.Duration(),
			MaxDelay:    p.MaxDelay.Duration(),
			Jitter:      0.1,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Temperature <= 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = defaultRatePerMinute
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	c.Retry.ApplyDefaults()
}

// NewOpenAIModel creates an OpenAI chat model. httpClient may be nil.
func NewOpenAIModel(cfg config.OpenAIConfig, httpClient *http.Client) (llms.Model, error) {
	if !cfg.APIKey.IsSet() {
		return nil, errors.New("openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return llm, nil
}

// LLM implements Generator on top of a langchaingo chat model.
type LLM struct {
	model   llms.Model
	cfg     Config
	limiter *rate.Limiter
	logger  *logging.Logger
	now     func() time.Time

	// set when the provider rejects our credentials; cleared on success
	rejected atomic.Bool
}

var _ Generator = (*LLM)(nil)

// NewLLM creates a generator around model.
func NewLLM(model llms.Model, cfg Config, logger *logging.Logger) *LLM {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LLM{
		model:   model,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Burst),
		logger:  logger.Named("generator"),
		now:     time.Now,
	}
}

// Generate implements Generator.
func (g *LLM) Generate(ctx context.Context, req Request) (FileSet, error) {
	if strings.TrimSpace(req.Brief) == "" {
		return nil, ErrEmptyBrief
	}
	if req.Round < 1 {
		req.Round = 1
	}

	attachments, errs := decodeAttachments(req.Attachments)
	for _, err := range errs {
		g.logger.Warn(ctx, "skipping attachment", zap.Error(err))
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt(req.Round)),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(req, attachments)),
	}

	start := g.now()
	files, attempts, err := retry.Do(ctx, g.cfg.Retry, func(ctx context.Context, attempt int) (FileSet, error) {
		return g.generateOnce(ctx, req, messages)
	},
		retry.WithClassifier(isTransient),
		retry.WithNotify(func(attempt int, err error, next time.Duration) {
			g.logger.Warn(ctx, "generation attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.cfg.Retry.MaxAttempts),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if llms.IsAuthenticationError(mapProviderError(err)) {
			g.rejected.Store(true)
		}
		return nil, fmt.Errorf("generating application: %w", err)
	}
	g.rejected.Store(false)

	g.logger.Info(ctx, "application generated",
		zap.Int("attempts", attempts),
		zap.Strings("files", files.Names()),
		zap.Int("bytes", files.Size()),
		zap.Duration("duration", g.now().Sub(start)),
	)
	return files, nil
}

func (g *LLM) generateOnce(ctx context.Context, req Request, messages []llms.MessageContent) (FileSet, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := g.model.GenerateContent(ctx, messages,
		llms.WithTemperature(g.cfg.Temperature),
		llms.WithMaxTokens(g.cfg.MaxTokens),
	)
	if err != nil {
		return nil, mapProviderError(err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidOutput)
	}

	files := ParseFiles(resp.Choices[0].Content)
	if err := ValidateHTML(files[IndexFile]); err != nil {
		return nil, err
	}
	if added := ensureEssentialFiles(files, req, g.now()); len(added) > 0 {
		g.logger.Debug(ctx, "added missing essential files", zap.Strings("files", added))
	}
	return files, nil
}

// Ping implements Generator.
func (g *LLM) Ping(ctx context.Context) error {
	if g.model == nil {
		return errors.New("no model configured")
	}
	if g.rejected.Load() {
		return errors.New("model provider rejected credentials")
	}
	return nil
}

// mapProviderError normalizes provider errors into llms.Error codes.
func mapProviderError(err error) error {
	var le *llms.Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrInvalidOutput) {
		return err
	}
	return openai.MapError(err)
}

// isTransient reports whether another attempt may succeed.
func isTransient(err error) bool {
	if errors.Is(err, ErrInvalidOutput) {
		return true
	}
	err = mapProviderError(err)
	switch {
	case llms.IsAuthenticationError(err),
		llms.IsInvalidRequestError(err),
		llms.IsContentFilterError(err),
		llms.IsTokenLimitError(err),
		llms.IsQuotaExceededError(err):
		return false
	}
	var le *llms.Error
	if errors.As(err, &le) && le.Code == llms.ErrCodeResourceNotFound {
		return false
	}
	return true
}
