// Command tessera runs the contract coordination server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tesserahq/tessera/pkg/api"
	"github.com/tesserahq/tessera/pkg/audit"
	"github.com/tesserahq/tessera/pkg/auth"
	"github.com/tesserahq/tessera/pkg/cache"
	"github.com/tesserahq/tessera/pkg/config"
	"github.com/tesserahq/tessera/pkg/engine"
	"github.com/tesserahq/tessera/pkg/store"
	"github.com/tesserahq/tessera/pkg/webhook"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const expirySweepInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tessera: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file overlaying the environment")
	flag.Parse()

	cfg := config.Load()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if cfg.DatabaseDriver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	st := store.New(db)
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	logger.Info("store ready", "driver", cfg.DatabaseDriver)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, running without cache", "error", err)
			redisClient = nil
		}
	}
	c := cache.New(redisClient, "tessera", logger)
	logger.Info("cache", "enabled", c.Enabled())

	recorder := audit.NewRecorder(auth.ActorID, logger)
	authenticator := auth.NewAuthenticator(st, logger, cfg.BootstrapAPIKey)
	var sessions *auth.Sessions
	if cfg.SessionSecret != "" {
		sessions = auth.NewSessions([]byte(cfg.SessionSecret), cfg.SessionTTL, st)
	}
	keys := auth.NewKeyService(st, recorder, cfg.KeyEnvironment)

	eng := engine.New(st, recorder, c, logger, engine.Config{
		ProposalExpiryDays: cfg.ProposalExpiryDays,
		DefaultDepth:       cfg.ImpactDefaultDepth,
		MaxDepth:           cfg.ImpactMaxDepth,
		WebhookURL:         cfg.WebhookURL,
	})

	if cfg.WebhookURL != "" {
		worker := webhook.NewWorker(st, logger, webhook.Config{
			PollInterval: cfg.WebhookPollInterval,
			MaxAttempts:  cfg.WebhookMaxAttempts,
		})
		if err := worker.Start(ctx); err != nil {
			return err
		}
		defer worker.Stop()
		logger.Info("webhook worker started", "url", cfg.WebhookURL)
	}

	go sweepExpiredProposals(ctx, eng, logger)

	srv := api.NewServer(eng, keys, st, logger, api.ServerOptions{
		PageDefault:  cfg.PageSizeDefault,
		PageMax:      cfg.PageSizeMax,
		MaxBodyBytes: int64(cfg.MaxSchemaBytes),
	})
	idem := api.NewIdempotencyStore(time.Hour)
	defer idem.Close()

	handler := srv.Handler(api.HandlerOptions{
		Authenticator: authenticator,
		Sessions:      sessions,
		RateLimits: api.RateLimits{
			ReadRPM:  cfg.RateLimitRead,
			WriteRPM: cfg.RateLimitWrite,
			AdminRPM: cfg.RateLimitAdmin,
		},
		CORSOrigins: cfg.CORSAllowedOrigins,
		Idempotency: idem,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// sweepExpiredProposals drives the proposal expiry policy in the
// background.
func sweepExpiredProposals(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := eng.ExpireSweep(ctx)
			if err != nil {
				logger.Error("proposal expiry sweep failed", "error", err)
				continue
			}
			if len(expired) > 0 {
				logger.Info("proposals expired", "count", len(expired))
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
