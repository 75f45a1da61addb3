package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Storage
	DataDir string

	// Worker pool
	WorkerCount          int
	MaxQueueSize         int
	EvaluatorConcurrency int
	EvaluatorTimeout     time.Duration

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
	RasterizePdftoppm    bool
	RenderDPI            int

	// Vision judge: none, openrouter or anthropic
	JudgeProvider     string
	JudgeTimeout      time.Duration
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string
	CompareModel      string
	AnthropicAPIKey   string
	AnthropicModel    string

	// Rules and ledger
	RulesFile        string
	LedgerPolicy     string
	CompareRevisions bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("DRAWCHECK_API_KEY"),

		DataDir: envOr("DATA_DIR", "./data"),

		WorkerCount:          envInt("WORKER_COUNT", 2),
		MaxQueueSize:         envInt("MAX_QUEUE_SIZE", 100),
		EvaluatorConcurrency: envInt("EVALUATOR_CONCURRENCY", 4),
		EvaluatorTimeout:     envDuration("EVALUATOR_TIMEOUT", 20*time.Second),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
		RasterizePdftoppm:    envBool("PDF_RASTERIZER", true),
		RenderDPI:            envInt("RENDER_DPI", 150),

		JudgeProvider:     envOr("JUDGE_PROVIDER", "none"),
		JudgeTimeout:      envDuration("JUDGE_TIMEOUT", 90*time.Second),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:   envOr("OPENROUTER_MODEL", "qwen/qwen2.5-vl-32b-instruct"),
		CompareModel:      envOr("COMPARE_MODEL", "qwen/qwen3-vl-8b-instruct"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		RulesFile:        os.Getenv("RULES_FILE"),
		LedgerPolicy:     envOr("LEDGER_POLICY", "occurrence-first"),
		CompareRevisions: envBool("COMPARE_REVISIONS", false),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.EvaluatorConcurrency <= 0 {
		cfg.EvaluatorConcurrency = 4
	}
	if cfg.EvaluatorTimeout <= 0 {
		cfg.EvaluatorTimeout = 20 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.RenderDPI < 36 || cfg.RenderDPI > 600 {
		cfg.RenderDPI = 150
	}
	if cfg.JudgeTimeout <= 0 {
		cfg.JudgeTimeout = 90 * time.Second
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DRAWCHECK_API_KEY is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	switch c.JudgeProvider {
	case "none", "":
	case "openrouter":
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required for JUDGE_PROVIDER=openrouter")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for JUDGE_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("unknown JUDGE_PROVIDER %q", c.JudgeProvider)
	}
	switch c.LedgerPolicy {
	case "occurrence-first", "rule-fallback":
	default:
		return fmt.Errorf("unknown LEDGER_POLICY %q", c.LedgerPolicy)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
