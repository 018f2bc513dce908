package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"edu-knowledge-platform/internal/ai"
	"edu-knowledge-platform/internal/config"
	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/internal/telemetry"
	"edu-knowledge-platform/internal/vectorindex"
	"edu-knowledge-platform/middleware"
	"edu-knowledge-platform/routes"
	"edu-knowledge-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer("edu-knowledge-platform")
	if err != nil {
		log.Printf("Tracing disabled: %v", err)
	} else {
		defer shutdownTracer()
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Printf("Metrics disabled: %v", err)
		metrics = nil
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	redisClient, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	ctx := context.Background()

	embedder, err := ai.NewGeminiEmbedder(ctx, cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}
	defer embedder.Close()

	generator, err := ai.NewGeminiClient(ctx, cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer generator.Close()

	db := mongoClient.Database(cfg.DBName)
	index := vectorindex.NewMongo(vectorindex.MongoConfig{
		Collection: db.Collection("chunk_vectors"),
		IndexName:  cfg.VectorIndexName,
		UseAtlas:   cfg.AtlasVectorSearch,
		Timeout:    cfg.VectorQueryTimeout,
	})
	chunkStore := services.NewMongoChunkStore(db.Collection("knowledge_chunks"))
	documentRegistry := services.NewMongoDocumentRegistry(db.Collection("knowledge_documents"))

	segmenter := services.NewSegmenter(cfg.MaxChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize)
	extractor := services.NewTextExtractor()
	pipeline := services.NewPipeline(segmenter, extractor, embedder, index, chunkStore, documentRegistry, metrics, cfg.IngestWorkers)
	retriever := services.NewRetriever(embedder, index, chunkStore, generator, metrics)
	markers := services.NewRedisReconcileMarkers(redisClient)
	lifecycle := services.NewLifecycle(embedder, index, chunkStore, documentRegistry, markers)
	exporter := services.NewExportService(chunkStore, documentRegistry)

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	reconciler := services.NewReconcileScheduler(lifecycle, cfg.ReconcileInterval)
	if err := reconciler.Start(); err != nil {
		log.Printf("Reconcile scheduler disabled: %v", err)
	} else {
		defer reconciler.Stop()
	}

	// Seed the shared base pool on first boot.
	if err := services.BootstrapBasePool(ctx, cfg.BaseKnowledgeDir, pipeline, documentRegistry); err != nil {
		log.Printf("Base pool bootstrap failed: %v", err)
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.RateLimitMiddleware(redisClient, cfg))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg)
	handler := routes.NewKnowledgeHandler(cfg, pipeline, retriever, lifecycle, exporter, documentRegistry, queueClient)
	routes.SetupKnowledgeRoutes(router, handler, authMiddleware)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
