// Command debrisk serves the orbital decay and reentry risk API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/debrisk/debrisk/internal/alert"
	"github.com/debrisk/debrisk/internal/api"
	"github.com/debrisk/debrisk/internal/archive"
	"github.com/debrisk/debrisk/internal/auth"
	"github.com/debrisk/debrisk/internal/batch"
	"github.com/debrisk/debrisk/internal/config"
	"github.com/debrisk/debrisk/internal/ml"
	"github.com/debrisk/debrisk/internal/stream"
	"github.com/debrisk/debrisk/internal/tle"
)

func main() {
	// .env is optional; deployed environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("DEBRISK_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	var rdb *redis.Client
	if cfg.TLE.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.TLE.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, using in-memory cache only",
				"addr", cfg.TLE.RedisAddr, "error", err)
			rdb = nil
		} else {
			logger.Info("redis cache layer enabled", "addr", cfg.TLE.RedisAddr)
		}
	}

	fetcher := tle.NewFetcher(cfg.TLE.SourceBaseURL, cfg.TLE.FetchTimeout, cfg.TLE.FetchRetries, logger)
	tles := tle.NewClient(fetcher, tle.NewCache(cfg.TLE.CacheTTL, rdb, logger), logger)

	ensemble := ml.NewEnsemble(ml.Config{
		TrainingSamples: cfg.ML.TrainingSamples,
		Seed:            cfg.ML.Seed,
	}, logger)

	pool := batch.NewPool(cfg.Analysis.Workers, 0, logger)
	svc := batch.NewService(tles, ensemble, pool, batch.Config{
		HighRiskThreshold:   cfg.Analysis.RiskThresholdHigh,
		MediumRiskThreshold: cfg.Analysis.RiskThresholdMedium,
		ObjectTimeout:       cfg.Analysis.ObjectTimeout,
		DefaultForecastDays: cfg.Analysis.DefaultForecastDays,
		ConcurrentFetch:     cfg.Analysis.BatchConcurrentFetch,
	}, logger)

	var arch *archive.Archive
	if cfg.Archive.Enabled {
		arch, err = archive.New(cfg.Archive.Path, logger)
		if err != nil {
			logger.Error("failed to open assessment archive", "path", cfg.Archive.Path, "error", err)
			os.Exit(1)
		}
	}

	notifier, err := alert.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		logger.Error("failed to configure Telegram alerts", "error", err)
		os.Exit(1)
	}

	streams := stream.NewHandler(svc, tles, stream.Config{
		TrustProxy: cfg.Server.TrustProxy,
	}, logger)

	// Readiness follows training state so load balancers hold traffic
	// until the ensemble can serve predictions.
	ready := func() bool { return !cfg.ML.TrainOnStart || ensemble.Trained() }

	srv := api.NewServer(cfg.Server.HTTPAddr, api.Deps{
		Batch:    svc,
		TLEs:     tles,
		Model:    ensemble,
		Archive:  arch,
		Notifier: notifier,
		Streams:  streams,
		Ready:    ready,
	}, auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token}, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ML.TrainOnStart {
		go func() {
			if _, err := ensemble.Train(ctx, cfg.ML.TrainingSamples); err != nil {
				logger.Error("startup training failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("starting server",
			"addr", cfg.Server.HTTPAddr,
			"auth_enabled", cfg.Auth.Enabled,
			"archive_enabled", arch != nil,
			"alerts_enabled", notifier != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	pool.Close()
	if arch != nil {
		if err := arch.Close(); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Logging.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
