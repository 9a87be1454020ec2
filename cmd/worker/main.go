package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/docstack-rag/config"
	"github.com/docstack-rag/services/impl"
	"github.com/docstack-rag/services/queue"
)

// The worker binary runs the ingestion loop: claim a job, process the
// document end to end, ack or requeue. Run as many replicas as desired;
// idempotent processing makes duplicate claims harmless.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddress(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}

	storage, err := impl.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}
	extractor := impl.NewTextExtractor(&cfg.Extractor)
	embedder := impl.NewEmbeddingCache(
		impl.NewEmbeddingProvider(&cfg.Embedding),
		redisClient,
		cfg.Redis.EmbeddingCacheTTL,
		cfg.Redis.EnableEmbeddingCache,
	)
	retryPolicy := impl.NewRetryPolicy(&cfg.Retry)

	chunker, err := impl.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		log.Fatal("Invalid chunking configuration:", err)
	}

	jobQueue := queue.NewRedisQueue(redisClient, cfg.Queue.Name, cfg.Queue.VisibilityTimeout)

	auditService := impl.NewAuditService(db)
	workspaceService := impl.NewWorkspaceService(db, auditService)
	documentService := impl.NewDocumentService(
		db, workspaceService, auditService,
		storage, extractor, embedder,
		chunker, impl.NewInjectionDetector(),
		retryPolicy, jobQueue, cfg.Ingest,
	)

	failer, ok := documentService.(queue.DocumentFailer)
	if !ok {
		log.Fatal("document service does not support terminal failure marking")
	}

	worker := queue.NewWorker(jobQueue, documentService, failer, cfg.Queue.MaxAttempts, cfg.Queue.JobTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down worker...")
		cancel()
	}()

	worker.Run(ctx)
	log.Println("Worker exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}
