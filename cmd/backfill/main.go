package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/config"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/repository"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

// backfill enqueues and processes content items that have no embedding
// records yet, without going through the API server. Useful after
// adding a new embedding model or restoring a database.
func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "studify-pipeline-backfill",
	})
	logger.SetDefault(appLogger)

	model := flag.String("model", "", "Embedding model to backfill (default: configured default model)")
	limit := flag.Int("limit", 1000, "Maximum number of content items to enqueue")
	drain := flag.Bool("drain", true, "Process the queue after enqueueing instead of leaving it for the API server")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

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

	registry, err := service.NewEmbeddingRegistry(&cfg.Qdrant, cfg.Embeddings, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to build embedding registry")
	}
	defer registry.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel on Ctrl-C so a long drain stops between batches.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		appLogger.Info("Interrupted, stopping after current batch")
		cancel()
	}()

	if err := registry.EnsureCollections(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure vector collections")
	}
	registry.PreWarmAll(ctx)

	modelName := *model
	if modelName == "" {
		modelName = registry.DefaultName()
	}

	processor := service.NewProcessor(
		jobRepo,
		recordRepo,
		contentRepo,
		registry.ProcessorBindings(),
		service.NewChunker(cfg.Processor.MaxChunkTokens),
		service.ProcessorOptions{
			BatchSize: cfg.Processor.BatchSize,
			Interval:  cfg.Processor.Interval,
		},
	)

	enqueued, err := processor.QueueExisting(ctx, modelName, *limit)
	if err != nil {
		appLogger.WithError(err).Fatal("Backfill enqueue failed")
	}
	appLogger.WithFields(logger.Fields{
		logger.FieldModel: modelName,
		"enqueued":        enqueued,
	}).Info("Backfill enqueued")

	if !*drain {
		return
	}

	start := time.Now()
	totalProcessed, totalFailed := 0, 0
	for ctx.Err() == nil {
		processed, failed, err := processor.ProcessBatch(ctx, cfg.Processor.BatchSize)
		if err != nil {
			appLogger.WithError(err).Fatal("Batch processing failed")
		}
		if processed == 0 && failed == 0 {
			break
		}
		totalProcessed += processed
		totalFailed += failed
	}

	appLogger.WithFields(logger.Fields{
		"processed":   totalProcessed,
		"failed":      totalFailed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Backfill finished")
}
