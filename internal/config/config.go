package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins  []string
	JWTSecret    string
	MaxFileSize  int64
	AllowedTypes []string

	// Segmenter
	MaxChunkSize int
	ChunkOverlap int
	MinChunkSize int

	// Ingestion
	IngestWorkers       int
	SyncProcessingLimit int64

	// Embeddings / generation
	GeminiAPIKey          string
	GoogleEmbeddingsModel string
	GenerationModel       string
	GeminiTier            string
	EmbedTimeout          time.Duration

	// Vector index
	VectorDimensions   int
	VectorIndexName    string
	AtlasVectorSearch  bool
	VectorQueryTimeout time.Duration

	// Redis (asynq queue + reconciliation markers)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Base knowledge pool (tenant 0)
	BaseKnowledgeDir string

	// Reconciliation sweep
	ReconcileInterval time.Duration

	// HTTP rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Upload staging for async ingestion
	StagingDir string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/edu_knowledge"),
		DBName:   getEnv("DB_NAME", "edu_knowledge"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins:  strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		MaxFileSize:  getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		AllowedTypes: strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain,text/html"), ","),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 500),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 50),
		MinChunkSize: getEnvInt("MIN_CHUNK_SIZE", 100),

		IngestWorkers:       getEnvInt("INGEST_WORKERS", 4),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 2097152), // 2MB

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GenerationModel:       getEnv("GENERATION_MODEL", "gemini-2.0-flash"),
		GeminiTier:            getEnv("GEMINI_TIER", "free"),
		EmbedTimeout:          getEnvDuration("EMBED_TIMEOUT", 30*time.Second),

		VectorDimensions:   getEnvInt("VECTOR_DIM", 768),
		VectorIndexName:    getEnv("MONGODB_VECTOR_INDEX", "chunk_vectors_index"),
		AtlasVectorSearch:  getEnvBool("MONGODB_VECTOR_ENABLED", false),
		VectorQueryTimeout: getEnvDuration("VECTOR_QUERY_TIMEOUT", 15*time.Second),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		BaseKnowledgeDir: getEnv("BASE_KNOWLEDGE_DIR", ""),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 15*time.Minute),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		StagingDir: getEnv("STAGING_DIR", "./storage/staging"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP must be smaller than MAX_CHUNK_SIZE")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
