package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deployd/internal/config"
	"github.com/fyrsmithlabs/deployd/internal/events"
	"github.com/fyrsmithlabs/deployd/internal/generator"
	httpserver "github.com/fyrsmithlabs/deployd/internal/http"
	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/notifier"
	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/publisher"
	"github.com/fyrsmithlabs/deployd/internal/secrets"
	"github.com/fyrsmithlabs/deployd/internal/task"
	"github.com/fyrsmithlabs/deployd/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the deployment server",
		Long: `Start the deployment HTTP server.

Examples:
  # Publish to GitHub
  GITHUB_TOKEN=ghp_... OPENAI_API_KEY=sk-... ALLOWED_SECRETS=s3cret deployd serve

  # Publish to local git repositories served under /sites/
  PUBLISHER_BACKEND=local deployd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.config/deployd/config.yaml)")
	return cmd
}

// run starts the server and blocks until ctx is cancelled.
//
// This function initializes all dependencies:
//  1. Telemetry and the logger, which mirrors to the OTEL log provider
//     when export is enabled
//  2. Generator, publisher, notifier and secret scrubber
//  3. Event sink (NATS when configured)
//  4. Orchestrator and HTTP server
//
// On cancellation the HTTP server stops accepting requests first, then
// in-flight tasks get the configured shutdown timeout to finish.
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.OTEL, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("invalid log settings: %w", err)
	}
	// Mirror logs to the collector when OTEL export is on.
	logCfg.Output.OTEL = tel.LoggerProvider() != nil
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	if degraded, terr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(terr))
	}

	logger.Info(ctx, "starting deployd",
		zap.String("version", version),
		zap.String("addr", cfg.ListenAddr()),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.Int("max_concurrent", cfg.Pipeline.MaxConcurrent))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     task.NewMemoryStore(),
		Generator: deps.generator,
		Publisher: deps.publisher,
		Notifier:  deps.notifier,
		Scrubber:  deps.scrubber,
		Events:    deps.events,
		Tracer:    tel.Tracer("github.com/fyrsmithlabs/deployd/internal/orchestrator"),
		Logger:    logger,
	}, orchestrator.OptionsFrom(cfg.Pipeline))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	srv, err := httpserver.NewServer(orch, map[string]httpserver.Pinger{
		"generator": deps.generator,
		"publisher": deps.publisher,
		"notifier":  deps.notifier,
	}, allowedSecrets(cfg), logger, &httpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		SitesRoot:    deps.sitesRoot,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}

	logger.Info(context.Background(), "shutdown complete")
	return errors.Join(errs...)
}

// dependencies holds the pipeline collaborators.
type dependencies struct {
	generator generator.Generator
	publisher publisher.Publisher
	notifier  notifier.Notifier
	scrubber  *secrets.Scrubber
	events    events.Sink

	// sitesRoot is served under /sites/ when publishing locally.
	sitesRoot string
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.events != nil {
		d.events.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{events: events.Nop{}}

	model, err := generator.NewOpenAIModel(cfg.OpenAI, nil)
	if err != nil {
		return nil, err
	}
	deps.generator = generator.NewLLM(model, generator.ConfigFrom(cfg.OpenAI, cfg.Pipeline), logger)

	switch cfg.Publisher.Backend {
	case config.BackendLocal:
		local, err := publisher.NewLocal(cfg.Publisher.LocalRoot, siteBaseURL(cfg), logger)
		if err != nil {
			return nil, err
		}
		deps.publisher = local
		deps.sitesRoot = local.Root()
		logger.Info(ctx, "publishing to local repositories", zap.String("root", local.Root()))
	default:
		client, err := publisher.NewGitHubClient(ctx, cfg.GitHub)
		if err != nil {
			return nil, err
		}
		deps.publisher = publisher.NewGitHub(client, publisher.GitHubOptionsFrom(cfg.GitHub, cfg.Pipeline), logger)
	}

	deps.notifier = notifier.New(&http.Client{Timeout: cfg.Notify.Timeout.Duration() + 5*time.Second}, notifier.PolicyFrom(cfg.Notify), logger)

	literals := []string{cfg.GitHub.Token.Value(), cfg.OpenAI.APIKey.Value()}
	literals = append(literals, allowedSecrets(cfg)...)
	deps.scrubber, err = secrets.New(secrets.DefaultConfig().WithLiterals(literals...))
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	if cfg.NATS.URL != "" {
		sink, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		deps.events = sink
		logger.Info(ctx, "publishing lifecycle events to NATS",
			zap.String("url", cfg.NATS.URL),
			zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	return deps, nil
}

func allowedSecrets(cfg *config.Config) []string {
	list := cfg.Allowed.Secrets.List()
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.Value())
	}
	return out
}

// siteBaseURL is where locally published sites are reachable.
func siteBaseURL(cfg *config.Config) string {
	if cfg.Publisher.SiteBaseURL != "" {
		return cfg.Publisher.SiteBaseURL
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/sites/", host, cfg.Server.Port)
}
