package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"edu-knowledge-platform/internal/ai"
	"edu-knowledge-platform/internal/config"
	"edu-knowledge-platform/internal/logger"
	"edu-knowledge-platform/internal/queue"
	"edu-knowledge-platform/internal/telemetry"
	"edu-knowledge-platform/internal/vectorindex"
	"edu-knowledge-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Printf("Metrics disabled: %v", err)
		metrics = nil
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())

	ctx := context.Background()

	embedder, err := ai.NewGeminiEmbedder(ctx, cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}
	defer embedder.Close()

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

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(pipeline)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	log.Println("Starting ingestion worker...")
	log.Printf("   Redis: %s", redisOpt.Addr)

	if err := server.Run(mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
