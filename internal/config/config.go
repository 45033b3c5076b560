package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the optional YAML file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	GeminiAPIKey string `yaml:"geminiAPIKey"`
	DatabaseURL  string `yaml:"databaseURL"`
	VectorDir    string `yaml:"vectorDir"`
	UploadDir    string `yaml:"uploadDir"`
	HTTPPort     string `yaml:"httpPort"`
	LogLevel     string `yaml:"logLevel"`

	DefaultModel   string  `yaml:"defaultModel"`
	EmbeddingModel string  `yaml:"embeddingModel"`
	Temperature    float32 `yaml:"temperature"`

	ChunkSize     int     `yaml:"chunkSize"`
	ChunkOverlap  int     `yaml:"chunkOverlap"`
	TopK          int     `yaml:"topK"`
	MinSimilarity float32 `yaml:"minSimilarity"`
	HistoryTurns  int     `yaml:"historyTurns"`
	StrictContext bool    `yaml:"strictContext"`

	ProviderTimeout  time.Duration `yaml:"providerTimeout"`
	EmbedRateLimit   float64       `yaml:"embedRateLimit"` // requests per second, 0 disables
	EmbedBatchSize   int           `yaml:"embedBatchSize"`
	EmbedConcurrency int           `yaml:"embedConcurrency"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		DatabaseURL:      "rag_app.db",
		VectorDir:        "vector_data",
		UploadDir:        "temp_docs",
		HTTPPort:         "8080",
		LogLevel:         "INFO",
		DefaultModel:     DefaultModelName,
		EmbeddingModel:   "text-embedding-004",
		Temperature:      0.7,
		ChunkSize:        1000,
		ChunkOverlap:     200,
		TopK:             4,
		MinSimilarity:    0.5,
		HistoryTurns:     10,
		StrictContext:    true,
		ProviderTimeout:  45 * time.Second,
		EmbedRateLimit:   25, // 1500/min free tier
		EmbedBatchSize:   100,
		EmbedConcurrency: 4,
	}
}

// Load builds the configuration from defaults, the optional YAML file at path,
// a .env file if present, and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.VectorDir = getEnv("VECTOR_DIR", cfg.VectorDir)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultModel = getEnv("DEFAULT_MODEL", cfg.DefaultModel)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.ChunkSize = getEnvAsInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.TopK = getEnvAsInt("TOP_K", cfg.TopK)
	cfg.HistoryTurns = getEnvAsInt("HISTORY_TURNS", cfg.HistoryTurns)
	cfg.EmbedBatchSize = getEnvAsInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.EmbedConcurrency = getEnvAsInt("EMBED_CONCURRENCY", cfg.EmbedConcurrency)
	cfg.EmbedRateLimit = getEnvAsFloat("EMBED_RATE_LIMIT", cfg.EmbedRateLimit)
	cfg.MinSimilarity = float32(getEnvAsFloat("MIN_SIMILARITY", float64(cfg.MinSimilarity)))
	cfg.Temperature = float32(getEnvAsFloat("TEMPERATURE", float64(cfg.Temperature)))
	cfg.StrictContext = getEnvAsBool("STRICT_CONTEXT", cfg.StrictContext)

	if v, ok := os.LookupEnv("PROVIDER_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROVIDER_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = d
	}
	return nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("databaseURL is required"))
	}
	if c.VectorDir == "" {
		errs = append(errs, errors.New("vectorDir is required"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunkSize must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunkOverlap must be in [0, chunkSize), got %d", c.ChunkOverlap))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("topK must be positive, got %d", c.TopK))
	}
	if c.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("historyTurns must not be negative, got %d", c.HistoryTurns))
	}
	if c.ProviderTimeout <= 0 || c.ProviderTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("providerTimeout must be in (0, 5m], got %s", c.ProviderTimeout))
	}
	if _, ok := LookupModel(c.DefaultModel); !ok {
		errs = append(errs, fmt.Errorf("defaultModel %q is not a known model", c.DefaultModel))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
