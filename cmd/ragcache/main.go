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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragcache/internal/config"
	dbValkey "github.com/kailas-cloud/ragcache/internal/db/valkey"
	"github.com/kailas-cloud/ragcache/internal/domain"
	logpkg "github.com/kailas-cloud/ragcache/internal/logger"
	"github.com/kailas-cloud/ragcache/internal/metrics"
	budgetrepo "github.com/kailas-cloud/ragcache/internal/repository/budget"
	"github.com/kailas-cloud/ragcache/internal/repository/embcache"
	"github.com/kailas-cloud/ragcache/internal/repository/extcache"
	knowledgerepo "github.com/kailas-cloud/ragcache/internal/repository/knowledge"
	chiTransport "github.com/kailas-cloud/ragcache/internal/transport/chi"
	"github.com/kailas-cloud/ragcache/internal/transport/external"
	openaiEmb "github.com/kailas-cloud/ragcache/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/ragcache/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragcache/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/ragcache/internal/usecase/ingest"
	usageuc "github.com/kailas-cloud/ragcache/internal/usecase/usage"
	"github.com/kailas-cloud/ragcache/internal/usecase/retrieval"
	"github.com/kailas-cloud/ragcache/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragcache API server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbValkey.NewStore(dbValkey.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	embCfg := cfg.Embedding
	budget := buildBudget(ctx, embCfg, store, logger)

	// Typed nil pointers must not leak into the interfaces below.
	var budgetChecker embeddinguc.BudgetChecker
	var budgetReader usageuc.BudgetReader
	if budget != nil {
		budgetChecker = budget
		budgetReader = budget
	}
	queryEmbedder := buildEmbedder(embCfg, embCfg.QueryInstruction, store, budgetChecker, logger)
	docEmbedder := buildEmbedder(embCfg, embCfg.DocumentInstruction, store, budgetChecker, logger)
	logger.Info("Embedders created",
		zap.String("provider", embCfg.Provider),
		zap.String("model", embCfg.Model),
		zap.Int("dimensions", embCfg.Dimensions),
	)

	knowRepo := knowledgerepo.New(store, embCfg.Dimensions, logger).WithHNSW(knowledgerepo.HNSWConfig{
		M:           cfg.Index.HNSWM,
		EFConstruct: cfg.Index.HNSWEFConstruct,
	})
	if err := knowRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to create knowledge index", zap.Error(err))
	}

	opts := []retrieval.Option{retrieval.WithExternalCache(extcache.New(store, knowRepo, logger))}
	var externalChecker healthuc.Checker
	if cfg.External.Enabled() {
		client, err := external.NewClient(&external.Config{
			BaseURL:           cfg.External.BaseURL,
			APIKey:            cfg.External.APIKey,
			SourceName:        cfg.External.SourceName,
			Timeout:           time.Duration(cfg.External.TimeoutSec) * time.Second,
			RequestsPerSecond: cfg.External.RequestsPerSecond,
			Burst:             cfg.External.Burst,
			Logger:            logger,
		})
		if err != nil {
			logger.Fatal("Failed to create external search client", zap.Error(err))
		}
		opts = append(opts, retrieval.WithExternal(client))
		externalChecker = client
		logger.Info("External search enabled", zap.String("source", cfg.External.SourceName))
	} else {
		logger.Warn("External search disabled, serving internal knowledge only")
	}

	cache, err := retrieval.NewDynamicCache(
		queryEmbedder, knowRepo, cfg.Retrieval.Domain(), embCfg.Dimensions, logger, opts...,
	)
	if err != nil {
		logger.Fatal("Invalid retrieval configuration", zap.Error(err))
	}

	ingestSvc := ingestuc.New(knowRepo, docEmbedder, embCfg.Dimensions, logger)
	healthSvc := healthuc.New(store, embeddingHealthChecker{queryEmbedder}, externalChecker, logger)

	usageSvc := usageuc.New(budgetReader)

	server := chiTransport.NewServer(cache, ingestSvc, healthSvc, usageSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker probes the provider through the decorator chain.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func (h embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildBudget returns nil when no limit is configured.
func buildBudget(
	ctx context.Context, embCfg config.EmbeddingConfig, store *dbValkey.Store, logger *zap.Logger,
) *embeddinguc.BudgetTracker {
	bc := embCfg.Budget
	if bc.DailyTokenLimit <= 0 && bc.MonthlyTokenLimit <= 0 {
		return nil
	}
	action := embeddinguc.BudgetActionWarn
	if bc.Action == string(embeddinguc.BudgetActionReject) {
		action = embeddinguc.BudgetActionReject
	}
	return embeddinguc.NewBudgetTracker(
		embCfg.Provider, bc.DailyTokenLimit, bc.MonthlyTokenLimit, action, logger,
	).WithStore(ctx, budgetrepo.New(store))
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction.
// The budget is shared, so query and document traffic count against the same limits.
func buildEmbedder(
	embCfg config.EmbeddingConfig,
	instruction string,
	store *dbValkey.Store,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     embCfg.APIKey,
		BaseURL:    embCfg.BaseURL,
		Model:      embCfg.Model,
		Dimensions: embCfg.Dimensions,
		Provider:   embCfg.Provider,
		Logger:     logger,
	})

	var embedder domain.Embedder = base
	if embCfg.CacheTTLSec > 0 {
		ttl := time.Duration(embCfg.CacheTTLSec) * time.Second
		embedder = embcache.New(base, store, ttl, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, embCfg.Provider, embCfg.Model, budget, logger,
	).WithBatchSize(embCfg.BatchSize)

	// Outermost, so the cache key includes the instruction.
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}
