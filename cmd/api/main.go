package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/api"
	"github.com/baifan1366/studify-pipeline/internal/config"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/repository"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(nil)
	logger.SetDefault(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db, repository.QueueSettings{
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: cfg.Queue.BackoffBase,
	})
	recordRepo := repository.NewRecordRepository(db)
	contentRepo := repository.NewContentRepository(db)
	prefRepo := repository.NewPreferenceRepository(db)

	registry, err := service.NewEmbeddingRegistry(&cfg.Qdrant, cfg.Embeddings, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to build embedding registry")
	}
	defer registry.Close()

	ctx := context.Background()
	if err := registry.EnsureCollections(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure vector collections")
	}

	// Warm the embedding endpoints in the background; the server can
	// accept traffic while cold endpoints finish waking up.
	go registry.PreWarmAll(ctx)

	chunker := service.NewChunker(cfg.Processor.MaxChunkTokens)

	processor := service.NewProcessor(
		jobRepo,
		recordRepo,
		contentRepo,
		registry.ProcessorBindings(),
		chunker,
		service.ProcessorOptions{
			BatchSize:         cfg.Processor.BatchSize,
			Interval:          cfg.Processor.Interval,
			ImmediatePriority: cfg.Processor.ImmediatePriority,
		},
	)
	processor.Start()
	defer processor.Stop()

	store, err := service.NewVectorStore(jobRepo, registry.SearchBindings(), service.VectorStoreOptions{
		DefaultModel:     registry.DefaultName(),
		DefaultThreshold: cfg.Search.ScoreThreshold,
		MaxResultLimit:   cfg.Search.MaxResultLimit,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to build vector store")
	}

	notifier, err := service.NewGatewayNotifier(&service.GatewayNotifierConfig{
		BaseURL: cfg.Digest.GatewayURL,
		Token:   cfg.Digest.GatewayToken,
		Timeout: cfg.Digest.Timeout,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to build notification gateway client")
	}

	digests := service.NewDigestService(prefRepo, contentRepo, notifier, service.DigestOptions{
		DispatchLimit: cfg.Digest.DispatchLimit,
	})

	router := api.SetupRouter(api.Deps{
		Store:        store,
		Processor:    processor,
		Digests:      digests,
		Jobs:         jobRepo,
		DefaultModel: registry.DefaultName(),
		Security:     cfg.Security,
		CORS:         cfg.Server.CORS,
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
