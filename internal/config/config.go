package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings
type Config struct {
	// Deployment mode
	Mode string `yaml:"mode"` // "enterprise", "team", "oss", "local"

	// Tenant names the tenant of a multi-tenant ("enterprise"/"team")
	// deployment; normalized to a slug on load and checked by Validate.
	// Nothing else reads it: cache and feedback state are not namespaced
	// by tenant. Empty for single-tenant ("oss"/"local") use.
	Tenant string `yaml:"tenant"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// GitHub configuration
	GitHub GitHubConfig `yaml:"github"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// API configuration
	API APIConfig `yaml:"api"`

	// Risk calculation settings
	Risk RiskConfig `yaml:"risk"`

	// Sync settings
	Sync SyncConfig `yaml:"sync"`

	// Budget limits
	Budget BudgetConfig `yaml:"budget"`

	// GitLab configuration
	GitLab GitLabConfig `yaml:"gitlab"`

	// Webhook gateway (C10) configuration
	Webhook WebhookConfig `yaml:"webhook"`

	// Review-model (C12) configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding (C4) configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval (C7) configuration
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Feedback-link (C13) configuration
	Feedback FeedbackConfig `yaml:"feedback"`
}

type GitLabConfig struct {
	Token     string `yaml:"token"`
	BaseURL   string `yaml:"base_url"`
	RateLimit int    `yaml:"rate_limit"`
}

type WebhookConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	GitHubSecret  string `yaml:"github_secret"`
	GitLabSecret  string `yaml:"gitlab_secret"`
	DeliveryStore string `yaml:"delivery_store"` // bbolt db path for delivery-id dedup
}

type LLMConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIModel     string `yaml:"openai_model"`
	AnthropicKey    string `yaml:"anthropic_key"`
}

type EmbeddingConfig struct {
	OpenAIKey string `yaml:"openai_key"`
}

// RetrievalDepth names how much neighborhood/semantic work BuildContext
// and SemanticNeighbors perform for one review.
type RetrievalDepth string

const (
	DepthFast     RetrievalDepth = "fast"
	DepthStandard RetrievalDepth = "standard"
	DepthDeep     RetrievalDepth = "deep"
)

type RetrievalConfig struct {
	Depth               RetrievalDepth `yaml:"depth"`
	Hops                int            `yaml:"hops"`
	TopK                int            `yaml:"top_k"`
	PrecisionThreshold  float64        `yaml:"precision_threshold"`
	PriorExampleCount   int            `yaml:"prior_example_count"`
	RejectedExampleCount int           `yaml:"rejected_example_count"`
}

type FeedbackConfig struct {
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	LocalPath   string `yaml:"local_path"`
}

type GitHubConfig struct {
	Token     string `yaml:"token"`
	RateLimit int    `yaml:"rate_limit"` // Requests per second
}

type CacheConfig struct {
	Directory      string        `yaml:"directory"`
	TTL            time.Duration `yaml:"ttl"`
	MaxSize        int64         `yaml:"max_size"` // In bytes
	SharedCacheURL string        `yaml:"shared_cache_url"`
}

type APIConfig struct {
	OpenAIKey    string `yaml:"openai_key"`
	OpenAIModel  string `yaml:"openai_model"`
	CustomLLMURL string `yaml:"custom_llm_url"`
	CustomLLMKey string `yaml:"custom_llm_key"`
	EmbeddingURL string `yaml:"embedding_url"`
	EmbeddingKey string `yaml:"embedding_key"`
}

type RiskConfig struct {
	DefaultLevel      int     `yaml:"default_level"` // 1, 2, or 3
	LowThreshold      float64 `yaml:"low_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

type SyncConfig struct {
	AutoSync        bool          `yaml:"auto_sync"`
	FreshThreshold  time.Duration `yaml:"fresh_threshold"`
	StaleThreshold  time.Duration `yaml:"stale_threshold"`
	WebhookEndpoint string        `yaml:"webhook_endpoint"`
}

type BudgetConfig struct {
	DailyLimit    float64 `yaml:"daily_limit"`
	MonthlyLimit  float64 `yaml:"monthly_limit"`
	PerCheckLimit float64 `yaml:"per_check_limit"`
	AlertAt       float64 `yaml:"alert_at"` // Percentage of limit
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "team",
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".coderisk", "local.db"),
		},
		GitHub: GitHubConfig{
			RateLimit: 10, // 10 requests per second
		},
		Cache: CacheConfig{
			Directory: filepath.Join(homeDir, ".coderisk", "cache"),
			TTL:       24 * time.Hour,
			MaxSize:   2 * 1024 * 1024 * 1024, // 2GB
		},
		API: APIConfig{
			OpenAIModel: "gpt-4o-mini",
		},
		Risk: RiskConfig{
			DefaultLevel:      1,
			LowThreshold:      0.25,
			MediumThreshold:   0.50,
			HighThreshold:     0.75,
			CriticalThreshold: 0.90,
		},
		Sync: SyncConfig{
			AutoSync:       true,
			FreshThreshold: 30 * time.Minute,
			StaleThreshold: 4 * time.Hour,
		},
		Budget: BudgetConfig{
			DailyLimit:    2.00,
			MonthlyLimit:  60.00,
			PerCheckLimit: 0.04,
			AlertAt:       0.80,
		},
		GitLab: GitLabConfig{
			RateLimit: 10,
		},
		Webhook: WebhookConfig{
			ListenAddr:    ":8090",
			DeliveryStore: filepath.Join(homeDir, ".coderisk", "webhook-dedup.db"),
		},
		LLM: LLMConfig{
			OpenAIModel: "gpt-4o-mini",
		},
		Retrieval: RetrievalConfig{
			Depth:                DepthStandard,
			Hops:                 2,
			TopK:                 10,
			PrecisionThreshold:   0.7,
			PriorExampleCount:    5,
			RejectedExampleCount: 3,
		},
		Feedback: FeedbackConfig{
			BaseURL: "http://localhost:8090",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("risk", cfg.Risk)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("budget", cfg.Budget)
	v.SetDefault("gitlab", cfg.GitLab)
	v.SetDefault("webhook", cfg.Webhook)
	v.SetDefault("llm", cfg.LLM)
	v.SetDefault("embedding", cfg.Embedding)
	v.SetDefault("retrieval", cfg.Retrieval)
	v.SetDefault("feedback", cfg.Feedback)

	// Load from environment variables
	v.SetEnvPrefix("CODERISK")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".coderisk")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".coderisk"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if cfg.Tenant != "" {
		cfg.Tenant = NormalizeSlug(cfg.Tenant)
	}

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	// Try to load .env files in order of precedence
	envFiles := []string{
		".env.local",   // Local overrides (highest precedence)
		".env",         // Main environment file
		".env.example", // Example file as fallback
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				// Successfully loaded, continue to next
				continue
			}
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".coderisk", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	// GitHub configuration
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	// API configuration - env var takes precedence over a config-file value
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.API.OpenAIKey = key
	}

	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.API.OpenAIModel = model
	}
	if url := os.Getenv("CUSTOM_LLM_URL"); url != "" {
		cfg.API.CustomLLMURL = url
	}
	if key := os.Getenv("CUSTOM_LLM_KEY"); key != "" {
		cfg.API.CustomLLMKey = key
	}
	if url := os.Getenv("CUSTOM_EMBEDDING_URL"); url != "" {
		cfg.API.EmbeddingURL = url
	}
	if key := os.Getenv("CUSTOM_EMBEDDING_KEY"); key != "" {
		cfg.API.EmbeddingKey = key
	}

	// Storage configuration
	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	// Cache configuration
	if dir := os.Getenv("CACHE_DIRECTORY"); dir != "" {
		cfg.Cache.Directory = expandPath(dir)
	}
	if url := os.Getenv("SHARED_CACHE_URL"); url != "" {
		cfg.Cache.SharedCacheURL = url
	}
	if size := os.Getenv("CACHE_MAX_SIZE"); size != "" {
		if sizeInt, err := strconv.ParseInt(size, 10, 64); err == nil {
			cfg.Cache.MaxSize = sizeInt
		}
	}

	// Budget configuration
	if daily := os.Getenv("BUDGET_DAILY_LIMIT"); daily != "" {
		if amount, err := strconv.ParseFloat(daily, 64); err == nil {
			cfg.Budget.DailyLimit = amount
		}
	}
	if monthly := os.Getenv("BUDGET_MONTHLY_LIMIT"); monthly != "" {
		if amount, err := strconv.ParseFloat(monthly, 64); err == nil {
			cfg.Budget.MonthlyLimit = amount
		}
	}
	if perCheck := os.Getenv("BUDGET_PER_CHECK_LIMIT"); perCheck != "" {
		if amount, err := strconv.ParseFloat(perCheck, 64); err == nil {
			cfg.Budget.PerCheckLimit = amount
		}
	}

	// Sync configuration
	if autoSync := os.Getenv("SYNC_AUTO_SYNC"); autoSync != "" {
		cfg.Sync.AutoSync = autoSync == "true"
	}
	if fresh := os.Getenv("SYNC_FRESH_THRESHOLD_MINUTES"); fresh != "" {
		if minutes, err := strconv.Atoi(fresh); err == nil {
			cfg.Sync.FreshThreshold = time.Duration(minutes) * time.Minute
		}
	}
	if stale := os.Getenv("SYNC_STALE_THRESHOLD_HOURS"); stale != "" {
		if hours, err := strconv.Atoi(stale); err == nil {
			cfg.Sync.StaleThreshold = time.Duration(hours) * time.Hour
		}
	}

	// Risk configuration
	if level := os.Getenv("RISK_DEFAULT_LEVEL"); level != "" {
		if levelInt, err := strconv.Atoi(level); err == nil {
			cfg.Risk.DefaultLevel = levelInt
		}
	}

	// Mode configuration
	if mode := os.Getenv("CODERISK_MODE"); mode != "" {
		cfg.Mode = mode
	}

	// GitLab configuration
	if token := os.Getenv("GITLAB_TOKEN"); token != "" {
		cfg.GitLab.Token = token
	}
	if url := os.Getenv("GITLAB_BASE_URL"); url != "" {
		cfg.GitLab.BaseURL = url
	}

	// Webhook gateway configuration
	if addr := os.Getenv("WEBHOOK_LISTEN_ADDR"); addr != "" {
		cfg.Webhook.ListenAddr = addr
	}
	if secret := os.Getenv("GITHUB_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.GitHubSecret = secret
	}
	if secret := os.Getenv("GITLAB_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.GitLabSecret = secret
	}

	// Review-model configuration (BYOK)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if model := os.Getenv("REVIEW_MODEL"); model != "" {
		cfg.LLM.OpenAIModel = model
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.AnthropicKey = key
	}

	// Retrieval configuration
	if depth := os.Getenv("RETRIEVAL_DEPTH"); depth != "" {
		cfg.Retrieval.Depth = RetrievalDepth(depth)
	}
	if topK := os.Getenv("RETRIEVAL_TOP_K"); topK != "" {
		if n, err := strconv.Atoi(topK); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
	if tau := os.Getenv("RETRIEVAL_PRECISION_THRESHOLD"); tau != "" {
		if f, err := strconv.ParseFloat(tau, 64); err == nil {
			cfg.Retrieval.PrecisionThreshold = f
		}
	}

	// Feedback-link configuration
	if url := os.Getenv("FEEDBACK_BASE_URL"); url != "" {
		cfg.Feedback.BaseURL = url
	}
	if secret := os.Getenv("FEEDBACK_SECRET"); secret != "" {
		cfg.Feedback.Secret = secret
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save marshals the config to YAML and writes it to path, creating the
// parent directory if needed. Marshaling c directly (rather than through
// viper.WriteConfigAs) means the yaml struct tags are the single source
// of truth for both reading and writing the file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
