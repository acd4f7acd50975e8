package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/redis/go-redis/v9"
	"github.com/triage-ai/chronicle/internal/analytics"
	"github.com/triage-ai/chronicle/internal/api"
	"github.com/triage-ai/chronicle/internal/mirror"
	"github.com/triage-ai/chronicle/internal/projection"
	"github.com/triage-ai/chronicle/internal/store"
	"github.com/triage-ai/chronicle/internal/verify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("CHRONICLE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("CHRONICLE_HTTP_PORT", "8080")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	redisAddr := os.Getenv("REDIS_ADDR")
	cacheTTL := envOrDefaultInt("CHRONICLE_SESSION_CACHE_TTL_S", 60)

	logger.Info("starting chronicle server",
		zap.String("http_port", httpPort),
		zap.Int("session_cache_ttl_s", cacheTTL),
	)

	// Event store — Postgres or in-memory fallback for local development
	var st store.Store
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pg := store.NewPostgres(db)
		if err := pg.InitSchema(context.Background()); err != nil {
			logger.Fatal("failed to init schema", zap.Error(err))
		}
		st = pg
		logger.Info("postgres connected")
	} else {
		st = store.NewMemory()
		logger.Warn("no POSTGRES_DSN set, using in-memory store (data is not durable)")
	}
	defer func() { _ = st.Close() }()

	// Archive mirror — ClickHouse or no-op
	var mw mirror.Writer
	if clickhouseDSN != "" {
		chWriter, err := mirror.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, mirroring disabled", zap.Error(err))
			mw = mirror.NopWriter{}
		} else {
			mw = chWriter
			logger.Info("clickhouse mirror connected")
		}
	} else {
		mw = mirror.NopWriter{}
	}
	defer mw.Close()

	// Session projection cache — Redis when available, else in-process
	ttl := time.Duration(cacheTTL) * time.Second
	var cache projection.Cache
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis ping failed, using in-process session cache", zap.Error(err))
			cache = projection.NewMemoryCache(ttl)
		} else {
			defer func() { _ = rdb.Close() }()
			cache = projection.NewRedisCache(rdb, ttl, logger)
			logger.Info("redis session cache connected", zap.String("addr", redisAddr))
		}
	} else {
		cache = projection.NewMemoryCache(ttl)
	}

	deps := &api.Dependencies{
		Store:     st,
		Projector: projection.New(st, cache, logger),
		Analytics: analytics.New(st),
		Verifier:  verify.New(st, logger),
		Mirror:    mw,
		Logger:    logger,
	}

	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("chronicle server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
