package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velocity-los/velocity-back/internal/cache"
	"github.com/velocity-los/velocity-back/internal/config"
	"github.com/velocity-los/velocity-back/internal/extract"
	httpserver "github.com/velocity-los/velocity-back/internal/http"
	"github.com/velocity-los/velocity-back/internal/http/handlers"
	"github.com/velocity-los/velocity-back/internal/lease"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/rules"
	"github.com/velocity-los/velocity-back/internal/service"
	"github.com/velocity-los/velocity-back/internal/storage"
	"github.com/velocity-los/velocity-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[velocity] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsRepo, rulesRepo, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	rulesRepo, cacheCloser := setupRulesCache(ctx, cfg, rulesRepo, logger)
	defer cacheCloser()

	documents := setupDocumentStore(ctx, cfg, logger)

	leases := lease.NewManager(jobsRepo, cfg.LeaseDuration(), logger)

	parser := worker.NewParsingWorker(worker.ParsingWorkerDependencies{
		Leases:     leases,
		Jobs:       jobsRepo,
		Documents:  documents,
		Extractor:  extract.NewPDFTextExtractor(),
		Repairer:   extract.NewPDFCPURepairer(),
		RetryCount: cfg.DownloadRetryCount,
		Logger:     logger,
	})
	analyzer := worker.NewAnalysisWorker(worker.AnalysisWorkerDependencies{
		Leases: leases,
		Jobs:   jobsRepo,
		Rules:  rulesRepo,
		Engine: rules.NewEngine(cfg.EvidenceMaxLen),
		Logger: logger,
	})

	applications := service.NewApplicationsService(jobsRepo, documents)
	api := handlers.NewAPI(applications, parser, analyzer)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepositories(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, repository.RulesRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return repository.NewMemoryJobsRepository(), repository.NewMemoryRulesRepository(), func() {}
	}

	pgJobs, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repositories, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), repository.NewMemoryRulesRepository(), func() {}
	}

	pgRules, err := repository.NewPostgresRulesRepository(ctx, pgJobs.Pool())
	if err != nil {
		logger.Printf("failed to initialize rules repository, fallback to memory: %v", err)
		pgJobs.Close()
		return repository.NewMemoryJobsRepository(), repository.NewMemoryRulesRepository(), func() {}
	}

	logger.Printf("postgres repositories initialized")
	return pgJobs, pgRules, func() {
		pgJobs.Close()
	}
}

func setupRulesCache(
	ctx context.Context,
	cfg config.Config,
	rulesRepo repository.RulesRepository,
	logger *log.Logger,
) (repository.RulesRepository, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, rule packs load uncached")
		return rulesRepo, func() {}
	}

	cached, err := cache.NewCachedRulesRepository(ctx, rulesRepo, cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.RulePackCacheTTL(),
	}, logger)
	if err != nil {
		logger.Printf("failed to initialize rule pack cache, loading uncached: %v", err)
		return rulesRepo, func() {}
	}

	logger.Printf("rule pack cache initialized ttl=%s", cfg.RulePackCacheTTL())
	return cached, func() {
		_ = cached.Close()
	}
}

func setupDocumentStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) storage.DocumentStore {
	if cfg.S3Endpoint == "" {
		logger.Printf("S3_ENDPOINT not configured, using in-memory document store")
		return storage.NewMemoryDocumentStore()
	}

	store, err := storage.NewS3DocumentStore(ctx, storage.S3Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logger.Printf("failed to initialize s3 document store, fallback to memory: %v", err)
		return storage.NewMemoryDocumentStore()
	}

	logger.Printf("s3 document store initialized bucket=%s", cfg.S3Bucket)
	return store
}
