package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMProvider defines the backend LLM service type
type LLMProvider string

const (
	ProviderNone       LLMProvider = "none"       // No LLM, deterministic scoring only
	ProviderOllama     LLMProvider = "ollama"     // Local Ollama server
	ProviderOpenRouter LLMProvider = "openrouter" // OpenRouter (default, has free tier)
	ProviderGroq       LLMProvider = "groq"       // Groq (high-speed inference)
	ProviderOpenAI     LLMProvider = "openai"     // Direct OpenAI API
	ProviderCustom     LLMProvider = "custom"     // Custom OpenAI-compatible endpoint
)

// Config holds global settings for the Verdict decision engine.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenAddr  string // HTTP listen address (default: ":8000")
	DatabaseURL string // Postgres DSN for the audit decision trail (optional)

	// === LLM Provider Configuration ===
	// These settings control the generative adjudication tier.
	LLMProvider  LLMProvider // Which LLM service to use: "ollama", "openrouter", "groq", "openai", "custom", "none"
	LLMAPIKey    string      // API key for cloud providers (env: VERDICT_LLM_API_KEY or provider-specific)
	LLMModel     string      // Model identifier (e.g., "meta-llama/llama-3.3-70b-instruct:free")
	LLMBaseURL   string      // Custom base URL for self-hosted or custom providers
	LLMTimeoutMs int         // Timeout for LLM calls in milliseconds (default: 60000)

	// === Embedding Configuration ===
	EmbeddingModel   string // Embedding model identifier (default: "nomic-embed-text")
	EmbeddingBaseURL string // OpenAI-compatible embeddings endpoint (default: local Ollama)

	// === Local Classifier Models (ONNX) ===
	FraudModelPath     string // Text-classification model for fraud signals
	SentimentModelPath string // General sentiment model used by the fraud ensemble
	FinancialModelPath string // Financial sentiment model used by risk assessment
	ClauseModelPath    string // Policy clause-type classification model
	OnnxLibraryPath    string // Path to onnxruntime shared library

	// === Decision Thresholds ===
	FraudThreshold         float64 // Fraud score above this marks a text suspicious (default: 0.75)
	FraudOverrideThreshold float64 // Fraud score at or above this forbids an APPROVED verdict (default: 0.65)
	AutoApproveThreshold   float64 // Risk score at or below this approves automatically (default: 30)
	AutoRejectThreshold    float64 // Risk score at or above this rejects automatically (default: 85)
	ReviewMinScore         float64 // Lower bound of the manual-review band (default: 70)
	ReviewMaxScore         float64 // Upper bound of the manual-review band (default: 85)
	HighClaimAmount        float64 // Claim amount above this adds statistical fraud weight (default: 50000)

	// === Cache Configuration ===
	RedisAddr     string        // Redis address for the second cache tier (empty = memory only)
	RedisPassword string        // Redis AUTH password
	CacheTTL      time.Duration // TTL for cached assessments (default: 1 hour)
	CacheMaxSize  int           // Max entries in the in-process tier (default: 1000)

	// === Retrieval Configuration ===
	PatternSeedDir  string // Directory holding fraud pattern seed YAML (empty = built-ins only)
	ChecklistPath   string // YAML file overriding the incident-type checklists (empty = built-ins)
	ChunkMaxWords   int    // Max words per retrieval chunk (default: 380)
	RetrieveTopK    int    // Context passages fetched per adjudication (default: 5)
	MinExtractChars int    // Shorter extracted documents are rejected at ingest (default: 50)
	MaxUploadBytes  int64  // Upload size ceiling (default: 10 MiB)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	cfg := &Config{
		// Core
		ListenAddr:  GetEnv("VERDICT_LISTEN_ADDR", ":8000"),
		DatabaseURL: GetEnv("VERDICT_DATABASE_URL", os.Getenv("DATABASE_URL")),

		// LLM Provider - defaults to OpenRouter if a key is set, otherwise local Ollama
		LLMProvider:  detectLLMProvider(),
		LLMAPIKey:    GetEnv("VERDICT_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		LLMModel:     GetEnv("VERDICT_LLM_MODEL", "meta-llama/llama-3.3-70b-instruct:free"),
		LLMBaseURL:   GetEnv("VERDICT_LLM_BASE_URL", ""),
		LLMTimeoutMs: GetEnvInt("VERDICT_LLM_TIMEOUT_MS", 60000),

		// Embeddings
		EmbeddingModel:   GetEnv("VERDICT_EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingBaseURL: GetEnv("VERDICT_EMBEDDING_BASE_URL", "http://localhost:11434/v1"),

		// Local classifiers
		FraudModelPath:     GetEnv("VERDICT_FRAUD_MODEL", "./models/fraud-distilbert"),
		SentimentModelPath: GetEnv("VERDICT_SENTIMENT_MODEL", "./models/sst2-distilbert"),
		FinancialModelPath: GetEnv("VERDICT_FINANCIAL_MODEL", "./models/finbert-tone"),
		ClauseModelPath:    GetEnv("VERDICT_CLAUSE_MODEL", "./models/policy-clause-bert"),
		OnnxLibraryPath:    GetEnv("VERDICT_ONNX_LIB", ""),

		// Decision thresholds
		FraudThreshold:         GetEnvFloat("VERDICT_FRAUD_THRESHOLD", 0.75),
		FraudOverrideThreshold: GetEnvFloat("VERDICT_FRAUD_OVERRIDE_THRESHOLD", 0.65),
		AutoApproveThreshold:   GetEnvFloat("VERDICT_AUTO_APPROVE_THRESHOLD", 30),
		AutoRejectThreshold:    GetEnvFloat("VERDICT_AUTO_REJECT_THRESHOLD", 85),
		ReviewMinScore:         GetEnvFloat("VERDICT_REVIEW_MIN_SCORE", 70),
		ReviewMaxScore:         GetEnvFloat("VERDICT_REVIEW_MAX_SCORE", 85),
		HighClaimAmount:        GetEnvFloat("VERDICT_HIGH_CLAIM_AMOUNT", 50000),

		// Cache
		RedisAddr:     GetEnv("VERDICT_REDIS_ADDR", ""),
		RedisPassword: GetEnv("VERDICT_REDIS_PASSWORD", ""),
		CacheTTL:      time.Duration(GetEnvInt("VERDICT_CACHE_TTL_SECONDS", 3600)) * time.Second,
		CacheMaxSize:  clampInt(GetEnvInt("VERDICT_CACHE_MAX_SIZE", 1000), 16, 1_000_000),

		// Retrieval
		PatternSeedDir:  GetEnv("VERDICT_PATTERN_SEED_DIR", ""),
		ChecklistPath:   GetEnv("VERDICT_CHECKLIST_FILE", ""),
		ChunkMaxWords:   clampInt(GetEnvInt("VERDICT_CHUNK_MAX_WORDS", 380), 20, 10_000),
		RetrieveTopK:    clampInt(GetEnvInt("VERDICT_RETRIEVE_TOP_K", 5), 1, 50),
		MinExtractChars: GetEnvInt("VERDICT_MIN_EXTRACT_CHARS", 50),
		MaxUploadBytes:  int64(GetEnvInt("VERDICT_MAX_UPLOAD_BYTES", 10*1024*1024)),
	}

	return cfg
}

// NewLocalConfig creates a Config optimized for local-only operation (no cloud API calls).
// Use this for development, air-gapped environments, or privacy-first deployments.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LLMProvider = ProviderOllama
	cfg.LLMBaseURL = "http://localhost:11434/v1"
	cfg.LLMModel = "qwen2.5:7b" // Good local model
	cfg.LLMAPIKey = ""          // Not needed for Ollama
	return cfg
}

// NewStrictConfig creates a Config for conservative underwriting
// (more applications land in manual review, fewer auto-approvals).
func NewStrictConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.AutoApproveThreshold = 20
	cfg.AutoRejectThreshold = 75
	cfg.ReviewMinScore = 50
	cfg.ReviewMaxScore = 75
	cfg.FraudThreshold = 0.60
	cfg.FraudOverrideThreshold = 0.50
	return cfg
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing
// These are exported for use by other packages (e.g., pkg/ml)

func detectLLMProvider() LLMProvider {
	// Check explicit provider setting first
	if p := os.Getenv("VERDICT_LLM_PROVIDER"); p != "" {
		return LLMProvider(p)
	}
	// Auto-detect based on available keys
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("VERDICT_LLM_API_KEY") != "" {
		return ProviderOpenRouter
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	// Default to Ollama (local) if no cloud keys found
	return ProviderOllama
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	if c.AutoApproveThreshold >= c.AutoRejectThreshold {
		problems = append(problems, "auto-approve threshold must be below auto-reject threshold")
	}
	if c.ReviewMinScore > c.ReviewMaxScore {
		problems = append(problems, "review band lower bound exceeds upper bound")
	}
	if c.FraudThreshold < 0 || c.FraudThreshold > 1 {
		problems = append(problems, "fraud threshold must be in [0, 1]")
	}
	if c.FraudOverrideThreshold < 0 || c.FraudOverrideThreshold > 1 {
		problems = append(problems, "fraud override threshold must be in [0, 1]")
	}
	if c.CacheTTL <= 0 {
		problems = append(problems, "cache TTL must be positive")
	}
	if c.LLMProvider != ProviderNone && c.LLMProvider != ProviderOllama && c.LLMModel == "" {
		problems = append(problems, "LLM model must be set for cloud providers")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}
