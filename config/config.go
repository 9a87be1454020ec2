package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Redis     RedisConfig     `json:"redis"`
	Storage   StorageConfig   `json:"storage"`
	Embedding EmbeddingConfig `json:"embedding"`
	LLM       LLMConfig       `json:"llm"`
	Extractor ExtractorConfig `json:"extractor"`
	Reranker  RerankerConfig  `json:"reranker"`
	Retry     RetryConfig     `json:"retry"`
	Ingest    IngestConfig    `json:"ingest"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Queue     QueueConfig     `json:"queue"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	User             string `json:"user"`
	Password         string `json:"password"`
	Name             string `json:"name"`
	SSLMode          string `json:"ssl_mode"`
	MaxOpenConns     int    `json:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns"`
	MaxLifetime      int    `json:"max_lifetime"`
	StatementTimeout int    `json:"statement_timeout"` // seconds, 0 = unlimited
}

type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// TTL for cached embeddings in seconds
	EmbeddingCacheTTL    int  `json:"embedding_cache_ttl"`
	EnableEmbeddingCache bool `json:"enable_embedding_cache"`
}

type StorageConfig struct {
	// Root directory for the local object store
	Dir string `json:"dir"`
}

// EmbeddingConfig holds configuration for the embedding provider API
type EmbeddingConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
	BatchLimit int    `json:"batch_limit"`
	Timeout    int    `json:"timeout"`
}

// LLMConfig holds configuration for the answer generation API
type LLMConfig struct {
	BaseURL               string `json:"base_url"`
	APIKey                string `json:"api_key"`
	Model                 string `json:"model"`
	PromptTemplateVersion string `json:"prompt_template_version"`
	Timeout               int    `json:"timeout"`
}

// ExtractorConfig holds configuration for the PDF/DOCX text extraction API
type ExtractorConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Timeout int    `json:"timeout"`
}

// RerankerConfig holds configuration for the optional cross-encoder
// rerank API. When disabled the fused order is used as-is.
type RerankerConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int `json:"max_attempts"`
	BaseDelayMs int `json:"base_delay_ms"`
	MaxDelayMs  int `json:"max_delay_ms"`
}

type IngestConfig struct {
	ChunkSize      int      `json:"chunk_size"`    // characters per chunk
	ChunkOverlap   int      `json:"chunk_overlap"` // characters shared between adjacent chunks
	MaxUploadBytes int64    `json:"max_upload_bytes"`
	AllowedMimes   []string `json:"allowed_mimes"`
}

type RetrievalConfig struct {
	TopKDefault       int     `json:"top_k_default"`
	TopKMax           int     `json:"top_k_max"`
	NDense            int     `json:"n_dense"`
	NLex              int     `json:"n_lex"`
	ContextCharBudget int     `json:"context_char_budget"`
	FilterMode        string  `json:"filter_mode"` // off | downrank | exclude
	ExcludeThreshold  float64 `json:"exclude_threshold"`
	DownrankPenalty   float64 `json:"downrank_penalty"`
	HybridDefault     bool    `json:"hybrid_default"`
	FTSLanguage       string  `json:"fts_language"`
}

type QueueConfig struct {
	Name              string `json:"name"`
	VisibilityTimeout int    `json:"visibility_timeout"` // seconds a claimed job stays leased
	MaxAttempts       int    `json:"max_attempts"`
	JobTimeout        int    `json:"job_timeout"` // per-job deadline, seconds
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:             getEnv("DB_HOST", "localhost"),
			Port:             getEnvAsInt("DB_PORT", 5432),
			User:             getEnv("DB_USER", "raguser"),
			Password:         getEnv("DB_PASSWORD", ""),
			Name:             getEnv("DB_NAME", "docstack"),
			SSLMode:          getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:      getEnvAsInt("DB_MAX_LIFETIME", 300),
			StatementTimeout: getEnvAsInt("DB_STATEMENT_TIMEOUT", 30),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Redis: RedisConfig{
			Host:                 getEnv("REDIS_HOST", "localhost"),
			Port:                 getEnvAsInt("REDIS_PORT", 6379),
			Password:             getEnv("REDIS_PASSWORD", ""),
			DB:                   getEnvAsInt("REDIS_DB", 0),
			EmbeddingCacheTTL:    getEnvAsInt("REDIS_EMBEDDING_CACHE_TTL", 86400),
			EnableEmbeddingCache: getEnvAsBool("REDIS_ENABLE_EMBEDDING_CACHE", true),
		},
		Storage: StorageConfig{
			Dir: getEnv("STORAGE_DIR", "/var/lib/docstack/storage"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:    getEnv("EMBEDDING_BASE_URL", "http://localhost:8090"),
			APIKey:     getEnv("EMBEDDING_API_KEY", ""),
			Model:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension:  getEnvAsInt("EMBEDDING_DIMENSION", 768),
			BatchLimit: getEnvAsInt("EMBEDDING_BATCH_LIMIT", 10),
			Timeout:    getEnvAsInt("EMBEDDING_TIMEOUT", 30),
		},
		LLM: LLMConfig{
			BaseURL:               getEnv("LLM_BASE_URL", "http://localhost:8091"),
			APIKey:                getEnv("LLM_API_KEY", ""),
			Model:                 getEnv("LLM_MODEL", "gpt-4o-mini"),
			PromptTemplateVersion: getEnv("PROMPT_TEMPLATE_VERSION", "v2"),
			Timeout:               getEnvAsInt("LLM_TIMEOUT", 60),
		},
		Extractor: ExtractorConfig{
			BaseURL: getEnv("EXTRACTOR_BASE_URL", "http://localhost:8092"),
			APIKey:  getEnv("EXTRACTOR_API_KEY", ""),
			Timeout: getEnvAsInt("EXTRACTOR_TIMEOUT", 120),
		},
		Reranker: RerankerConfig{
			Enabled: getEnvAsBool("RERANKER_ENABLED", false),
			BaseURL: getEnv("RERANKER_BASE_URL", "http://localhost:8093"),
			APIKey:  getEnv("RERANKER_API_KEY", ""),
			Model:   getEnv("RERANKER_MODEL", "bge-reranker-base"),
			Timeout: getEnvAsInt("RERANKER_TIMEOUT", 15),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelayMs: getEnvAsInt("RETRY_BASE_DELAY_MS", 500),
			MaxDelayMs:  getEnvAsInt("RETRY_MAX_DELAY_MS", 30000),
		},
		Ingest: IngestConfig{
			ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1200),
			ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 25*1024*1024)),
			AllowedMimes: getEnvAsSlice("ALLOWED_MIMES", []string{
				"application/pdf",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"text/plain",
				"text/markdown",
			}),
		},
		Retrieval: RetrievalConfig{
			TopKDefault:       getEnvAsInt("TOP_K_DEFAULT", 8),
			TopKMax:           getEnvAsInt("TOP_K_MAX", 50),
			NDense:            getEnvAsInt("N_DENSE", 30),
			NLex:              getEnvAsInt("N_LEX", 30),
			ContextCharBudget: getEnvAsInt("CONTEXT_CHAR_BUDGET", 12000),
			FilterMode:        getEnv("INJECTION_FILTER_MODE", "downrank"),
			ExcludeThreshold:  getEnvAsFloat("INJECTION_EXCLUDE_THRESHOLD", 0.5),
			DownrankPenalty:   getEnvAsFloat("INJECTION_DOWNRANK_PENALTY", 0.05),
			HybridDefault:     getEnvAsBool("RETRIEVAL_HYBRID_DEFAULT", true),
			FTSLanguage:       getEnv("FTS_LANGUAGE", "spanish"),
		},
		Queue: QueueConfig{
			Name:              getEnv("QUEUE_NAME", "docstack:ingest"),
			VisibilityTimeout: getEnvAsInt("QUEUE_VISIBILITY_TIMEOUT", 300),
			MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			JobTimeout:        getEnvAsInt("WORKER_JOB_TIMEOUT", 600),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
	if c.Database.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" options='-c statement_timeout=%d'", c.Database.StatementTimeout*1000)
	}
	return dsn
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

func (c *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT secret must be changed from default value (JWT_SECRET)")
	}

	if config.Ingest.ChunkOverlap < 0 || config.Ingest.ChunkOverlap >= config.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap must satisfy 0 <= overlap < chunk size (CHUNK_OVERLAP)")
	}

	if config.Embedding.Dimension != 768 {
		return fmt.Errorf("embedding dimension must be 768 to match the chunks schema (EMBEDDING_DIMENSION)")
	}

	switch config.Retrieval.FilterMode {
	case "off", "downrank", "exclude":
	default:
		return fmt.Errorf("injection filter mode must be off, downrank or exclude (INJECTION_FILTER_MODE)")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
