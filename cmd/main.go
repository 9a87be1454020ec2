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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/docstack-rag/auth"
	"github.com/docstack-rag/config"
	"github.com/docstack-rag/handlers"
	"github.com/docstack-rag/services/impl"
	"github.com/docstack-rag/services/queue"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database connection
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize Redis (job queue + embedding cache)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddress(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}

	// Storage and external providers
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
	llm := impl.NewLLMProvider(&cfg.LLM)
	retryPolicy := impl.NewRetryPolicy(&cfg.Retry)

	chunker, err := impl.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		log.Fatal("Invalid chunking configuration:", err)
	}

	jobQueue := queue.NewRedisQueue(redisClient, cfg.Queue.Name, cfg.Queue.VisibilityTimeout)

	// Initialize services
	auditService := impl.NewAuditService(db)
	workspaceService := impl.NewWorkspaceService(db, auditService)
	documentService := impl.NewDocumentService(
		db, workspaceService, auditService,
		storage, extractor, embedder,
		chunker, impl.NewInjectionDetector(),
		retryPolicy, jobQueue, cfg.Ingest,
	)
	conversationService := impl.NewConversationService(db, workspaceService)
	feedbackService := impl.NewFeedbackService(db, workspaceService)
	queryService := impl.NewQueryService(
		workspaceService, conversationService, auditService,
		impl.NewChunkSearcher(db, cfg.Retrieval.FTSLanguage),
		embedder, llm, impl.NewReranker(&cfg.Reranker),
		impl.NewContextBuilder(cfg.Retrieval.ContextCharBudget),
		retryPolicy, cfg.Retrieval,
	)

	// Initialize handlers
	workspaceHandlers := handlers.NewWorkspaceHandlers(workspaceService, auditService)
	documentHandlers := handlers.NewDocumentHandlers(documentService, cfg.Ingest.MaxUploadBytes)
	queryHandlers := handlers.NewQueryHandlers(queryService)
	conversationHandlers := handlers.NewConversationHandlers(conversationService, feedbackService)

	// Setup router
	router := setupRouter(workspaceHandlers, documentHandlers, queryHandlers, conversationHandlers, cfg)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("DocStack server starting on %s", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
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

func setupRouter(
	workspaceHandlers *handlers.WorkspaceHandlers,
	documentHandlers *handlers.DocumentHandlers,
	queryHandlers *handlers.QueryHandlers,
	conversationHandlers *handlers.ConversationHandlers,
	cfg *config.Config,
) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Auth.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "docstack-rag",
		})
	})

	v1 := router.Group("/api/v1")

	jwtValidator := auth.NewJWTValidator(cfg.Auth.JWTSecret, nil)
	v1.Use(handlers.AuthMiddleware(jwtValidator))

	workspaces := v1.Group("/workspaces")
	{
		workspaces.POST("", workspaceHandlers.CreateWorkspace)
		workspaces.GET("", workspaceHandlers.ListWorkspaces)
		workspaces.GET("/:id", workspaceHandlers.GetWorkspace)
		workspaces.PUT("/:id", workspaceHandlers.UpdateWorkspace)
		workspaces.POST("/:id/archive", workspaceHandlers.ArchiveWorkspace)

		workspaces.GET("/:id/access", workspaceHandlers.ListAccess)
		workspaces.POST("/:id/access", workspaceHandlers.GrantAccess)
		workspaces.DELETE("/:id/access/:user_id", workspaceHandlers.RevokeAccess)

		workspaces.POST("/:id/documents", documentHandlers.UploadDocument)
		workspaces.GET("/:id/documents", documentHandlers.ListDocuments)
		workspaces.GET("/:id/documents/:doc_id", documentHandlers.GetDocument)
		workspaces.PUT("/:id/documents/:doc_id", documentHandlers.UpdateDocument)
		workspaces.DELETE("/:id/documents/:doc_id", documentHandlers.DeleteDocument)
		workspaces.POST("/:id/documents/:doc_id/reprocess", documentHandlers.ReprocessDocument)

		workspaces.POST("/:id/query", queryHandlers.Query)
		workspaces.POST("/:id/query/stream", queryHandlers.QueryStream)

		workspaces.POST("/:id/conversations", conversationHandlers.CreateConversation)
		workspaces.GET("/:id/conversations", conversationHandlers.ListConversations)
	}

	conversations := v1.Group("/conversations")
	{
		conversations.GET("/:conv_id/messages", conversationHandlers.GetMessages)
		conversations.DELETE("/:conv_id", conversationHandlers.ClearConversation)
	}

	v1.POST("/messages/:msg_id/feedback", conversationHandlers.Vote)
	v1.GET("/audit", workspaceHandlers.ListAuditEvents)

	return router
}
