// Command server starts the TheVideo media retrieval HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sambrabizz-star/thevideo/internal/api"
	"github.com/sambrabizz-star/thevideo/internal/auth"
	"github.com/sambrabizz-star/thevideo/internal/media"
	"github.com/sambrabizz-star/thevideo/internal/observability/logging"
	"github.com/sambrabizz-star/thevideo/internal/observability/metrics"
	"github.com/sambrabizz-star/thevideo/internal/quota"
	"github.com/sambrabizz-star/thevideo/internal/server"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	ledgerDriver := flag.String("quota-driver", "", "quota ledger driver (postgres, redis, or memory)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the quota ledger")
	redisAddr := flag.String("redis-addr", "", "Redis address for the quota ledger")
	redisPassword := flag.String("redis-password", "", "Redis password for the quota ledger")
	redisDB := flag.Int("redis-db", 0, "Redis database index for the quota ledger")
	quotaLimit := flag.Int("quota-limit", 0, "counted operations allowed per identity per hour")
	jwksURL := flag.String("jwks-url", "", "JWKS endpoint publishing token signing keys")
	tokenIssuer := flag.String("token-issuer", "", "required token issuer claim")
	tokenAudience := flag.String("token-audience", "", "required token audience claim")
	ytdlpPath := flag.String("ytdlp-path", "", "path to the yt-dlp binary")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	workDir := flag.String("work-dir", "", "directory for per-task working files")
	execTimeout := flag.Duration("exec-timeout", 0, "deadline for a single external tool run")
	maxConcurrent := flag.Int("max-concurrent", 0, "maximum simultaneous media pipelines")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed cross-origin access (empty allows all)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("THEVIDEO_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("THEVIDEO_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	jwks := firstNonEmpty(*jwksURL, os.Getenv("THEVIDEO_JWKS_URL"))
	if jwks == "" {
		logger.Error("JWKS URL is required")
		os.Exit(1)
	}
	verifier := auth.NewVerifier(auth.Config{
		JWKSURL:  jwks,
		Issuer:   firstNonEmpty(*tokenIssuer, os.Getenv("THEVIDEO_TOKEN_ISSUER")),
		Audience: firstNonEmpty(*tokenAudience, os.Getenv("THEVIDEO_TOKEN_AUDIENCE"), "authenticated"),
		Logger:   logger,
	})

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startupCancel()

	dsn := firstNonEmpty(*postgresDSN, os.Getenv("THEVIDEO_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	redis := firstNonEmpty(*redisAddr, os.Getenv("THEVIDEO_REDIS_ADDR"))
	driver, err := resolveLedgerDriver(firstNonEmpty(*ledgerDriver, os.Getenv("THEVIDEO_QUOTA_DRIVER")), dsn, redis)
	if err != nil {
		logger.Error("failed to resolve quota driver", "error", err)
		os.Exit(1)
	}

	var (
		ledger       quota.Ledger
		ledgerCloser func()
	)
	switch driver {
	case "postgres":
		pg, err := quota.NewPostgresLedger(startupCtx, dsn, logger)
		if err != nil {
			logger.Error("failed to open quota ledger", "driver", driver, "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(startupCtx); err != nil {
			logger.Error("failed to prepare quota schema", "error", err)
			os.Exit(1)
		}
		ledger = pg
		ledgerCloser = pg.Close
	case "redis":
		rl := quota.NewRedisLedger(quota.RedisOptions{
			Addr:     redis,
			Password: firstNonEmpty(*redisPassword, os.Getenv("THEVIDEO_REDIS_PASSWORD")),
			DB:       resolveInt(*redisDB, "THEVIDEO_REDIS_DB"),
			Logger:   logger,
		})
		if err := rl.Ping(startupCtx); err != nil {
			logger.Error("failed to reach quota ledger", "driver", driver, "error", err)
			os.Exit(1)
		}
		ledger = rl
		ledgerCloser = func() { _ = rl.Close() }
	case "memory":
		logger.Warn("using in-process quota ledger; counters are not shared across instances")
		ledger = quota.NewMemoryLedger()
	default:
		logger.Error("unsupported quota driver", "driver", driver)
		os.Exit(1)
	}

	userAgent := firstNonEmpty(os.Getenv("THEVIDEO_USER_AGENT"), media.DefaultUserAgent)
	timeout := resolveDuration(*execTimeout, "THEVIDEO_EXEC_TIMEOUT", 10*time.Minute)
	prober := media.NewProber(media.ProberConfig{
		Binary:    firstNonEmpty(*ytdlpPath, os.Getenv("THEVIDEO_YTDLP_PATH")),
		UserAgent: userAgent,
		Timeout:   timeout,
		Logger:    logger,
	})
	pipeline := media.NewPipeline(media.Config{
		YTDLP:         firstNonEmpty(*ytdlpPath, os.Getenv("THEVIDEO_YTDLP_PATH")),
		FFmpeg:        firstNonEmpty(*ffmpegPath, os.Getenv("THEVIDEO_FFMPEG_PATH")),
		WorkDir:       firstNonEmpty(*workDir, os.Getenv("THEVIDEO_WORK_DIR")),
		UserAgent:     userAgent,
		ExecTimeout:   timeout,
		MaxConcurrent: int64(resolveInt(*maxConcurrent, "THEVIDEO_MAX_CONCURRENT")),
		Logger:        logger,
		Metrics:       recorder,
	})

	handler := api.NewHandler(verifier, ledger, prober, pipeline)
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder
	if limit := resolveInt(*quotaLimit, "THEVIDEO_QUOTA_LIMIT"); limit > 0 {
		handler.QuotaLimit = int64(limit)
	}

	listenAddr := firstNonEmpty(*addr, os.Getenv("THEVIDEO_ADDR"), ":8080")
	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		RateLimit: server.RateLimitConfig{
			RPS:   resolveFloat(*globalRPS, "THEVIDEO_RATE_GLOBAL_RPS"),
			Burst: resolveInt(*globalBurst, "THEVIDEO_RATE_GLOBAL_BURST"),
		},
		CORS: server.CORSConfig{
			Origins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("THEVIDEO_CORS_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("TheVideo API listening", "addr", listenAddr, "quota_driver", driver)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if ledgerCloser != nil {
		ledgerCloser()
	}
	logger.Info("server stopped")
}

// resolveLedgerDriver infers the ledger backend from configuration: an
// explicit driver wins, otherwise whichever store has an address configured,
// otherwise the in-process ledger.
func resolveLedgerDriver(flagValue, postgresDSN, redisAddr string) (string, error) {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	switch driver {
	case "postgres":
		if postgresDSN == "" {
			return "", fmt.Errorf("postgres quota driver selected without DSN")
		}
		return driver, nil
	case "redis":
		if redisAddr == "" {
			return "", fmt.Errorf("redis quota driver selected without address")
		}
		return driver, nil
	case "memory":
		return driver, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported quota driver %q", driver)
	}
	if postgresDSN != "" {
		return "postgres", nil
	}
	if redisAddr != "" {
		return "redis", nil
	}
	return "memory", nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
