// Package config loads the AbaQuiz backend configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/abaquiz/backend/internal/logging"
	"github.com/abaquiz/backend/internal/models"
)

// Config is the root configuration.
type Config struct {
	Server           ServerConfig            `koanf:"server"`
	Database         DatabaseConfig          `koanf:"database"`
	Pool             PoolConfig              `koanf:"pool"`
	LLM              LLMConfig               `koanf:"llm"`
	Embedding        EmbeddingConfig         `koanf:"embedding"`
	Content          ContentConfig           `koanf:"content"`
	VectorStore      VectorStoreConfig       `koanf:"vector_store"`
	Seed             SeedConfig              `koanf:"seed"`
	Auth             AuthConfig              `koanf:"auth"`
	Logging          logging.Config          `koanf:"logging"`
	Pricing          map[string]ModelPricing `koanf:"pricing"`
	TypeDistribution map[string]float64      `koanf:"type_distribution"`
}

type ServerConfig struct {
	Port        string   `koanf:"port"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

type PoolConfig struct {
	Threshold               int                `koanf:"threshold"`
	BatchSize               int                `koanf:"batch_size"`
	ActiveDays              int                `koanf:"active_days"`
	DedupCheckLimit         *int               `koanf:"dedup_check_limit"`
	DedupThreshold          float64            `koanf:"dedup_threshold"`
	GenerationBatchSize     int                `koanf:"generation_batch_size"`
	MaxConcurrentGeneration int                `koanf:"max_concurrent_generation"`
	BCBAWeights             map[string]float64 `koanf:"bcba_weights"`
	CheckInterval           time.Duration      `koanf:"check_interval"`
}

type LLMConfig struct {
	Provider          string        `koanf:"provider"`
	Model             string        `koanf:"model"`
	MaxOutputTokens   int           `koanf:"max_output_tokens"`
	APIKey            string        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxRetries        int           `koanf:"max_retries"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	Mock              bool          `koanf:"mock"`
	// Command and CommandArgs configure the "command" provider.
	Command     string   `koanf:"command"`
	CommandArgs []string `koanf:"command_args"`
}

type EmbeddingConfig struct {
	Model         string `koanf:"model"`
	APIKey        string `koanf:"api_key"`
	BaseURL       string `koanf:"base_url"`
	MaxConcurrent int    `koanf:"max_concurrent"`
	CachePrefix   int    `koanf:"cache_prefix"`
}

type ContentConfig struct {
	Dir string `koanf:"dir"`
}

type VectorStoreConfig struct {
	Dir       string `koanf:"dir"`
	StateFile string `koanf:"state_file"`
	Name      string `koanf:"name"`
}

type SeedConfig struct {
	StateFile string `koanf:"state_file"`
}

type AuthConfig struct {
	JWTSecret  string            `koanf:"jwt_secret"`
	TokenTTL   time.Duration     `koanf:"token_ttl"`
	AdminUsers map[string]string `koanf:"admin_users"`
	// BotAPIKey authenticates the chat bot when it records deliveries and
	// answers. Empty disables those endpoints.
	BotAPIKey string `koanf:"bot_api_key"`
}

type ModelPricing struct {
	InputPerMillion  float64 `koanf:"input_per_million"`
	OutputPerMillion float64 `koanf:"output_per_million"`
}

const (
	DefaultThreshold               = 20
	DefaultBatchSize               = 50
	DefaultActiveDays              = 7
	DefaultDedupCheckLimit         = 30
	DefaultDedupThreshold          = 0.85
	DefaultGenerationBatchSize     = 5
	DefaultMaxConcurrentGeneration = 20
	DefaultEmbeddingConcurrency    = 50
	DefaultCachePrefix             = 500
	DefaultLLMTimeout              = 30 * time.Minute
	DefaultLLMRetries              = 5
	DefaultMaxOutputTokens         = 8192
	DefaultCheckInterval           = 6 * time.Hour
	DefaultModel                   = "claude-sonnet-4-5"
	DefaultEmbeddingModel          = "text-embedding-3-large"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = "data/abaquiz.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}

	p := &cfg.Pool
	if p.Threshold == 0 {
		p.Threshold = DefaultThreshold
	}
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.ActiveDays == 0 {
		p.ActiveDays = DefaultActiveDays
	}
	if p.DedupCheckLimit == nil {
		limit := DefaultDedupCheckLimit
		p.DedupCheckLimit = &limit
	}
	if p.DedupThreshold == 0 {
		p.DedupThreshold = DefaultDedupThreshold
	}
	if p.GenerationBatchSize == 0 {
		p.GenerationBatchSize = DefaultGenerationBatchSize
	}
	if p.MaxConcurrentGeneration == 0 {
		p.MaxConcurrentGeneration = DefaultMaxConcurrentGeneration
	}
	if len(p.BCBAWeights) == 0 {
		p.BCBAWeights = make(map[string]float64, len(models.DefaultBCBAWeights))
		for area, w := range models.DefaultBCBAWeights {
			p.BCBAWeights[string(area)] = w
		}
	}
	if p.CheckInterval == 0 {
		p.CheckInterval = DefaultCheckInterval
	}

	l := &cfg.LLM
	if l.Provider == "" {
		l.Provider = "anthropic"
	}
	if l.Model == "" {
		l.Model = DefaultModel
	}
	if l.MaxOutputTokens == 0 {
		l.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if l.Timeout == 0 {
		l.Timeout = DefaultLLMTimeout
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = DefaultLLMRetries
	}

	e := &cfg.Embedding
	if e.Model == "" {
		e.Model = DefaultEmbeddingModel
	}
	if e.MaxConcurrent == 0 {
		e.MaxConcurrent = DefaultEmbeddingConcurrency
	}
	if e.CachePrefix == 0 {
		e.CachePrefix = DefaultCachePrefix
	}

	if cfg.Content.Dir == "" {
		cfg.Content.Dir = "data/processed"
	}
	if cfg.VectorStore.Dir == "" {
		cfg.VectorStore.Dir = "data/processed/vector_store"
	}
	if cfg.VectorStore.StateFile == "" {
		cfg.VectorStore.StateFile = "data/.vector_store_state.json"
	}
	if cfg.VectorStore.Name == "" {
		cfg.VectorStore.Name = "abaquiz-study-material"
	}
	if cfg.Seed.StateFile == "" {
		cfg.Seed.StateFile = "data/.seed_progress.json"
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if len(cfg.TypeDistribution) == 0 {
		cfg.TypeDistribution = map[string]float64{
			string(models.TypeMultipleChoice): 0.8,
			string(models.TypeTrueFalse):      0.2,
		}
	}
	if cfg.Pricing == nil {
		cfg.Pricing = map[string]ModelPricing{}
	}
	if _, ok := cfg.Pricing[cfg.LLM.Model]; !ok {
		cfg.Pricing[cfg.LLM.Model] = ModelPricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}
	}
	if _, ok := cfg.Pricing[cfg.Embedding.Model]; !ok {
		cfg.Pricing[cfg.Embedding.Model] = ModelPricing{InputPerMillion: 0.13}
	}
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver))
	}

	p := c.Pool
	if p.Threshold < 0 {
		errs = append(errs, errors.New("pool.threshold must be >= 0"))
	}
	if p.BatchSize <= 0 {
		errs = append(errs, errors.New("pool.batch_size must be > 0"))
	}
	if p.ActiveDays <= 0 {
		errs = append(errs, errors.New("pool.active_days must be > 0"))
	}
	if p.DedupCheckLimit != nil && *p.DedupCheckLimit < 0 {
		errs = append(errs, errors.New("pool.dedup_check_limit must be >= 0"))
	}
	if p.DedupThreshold <= 0 || p.DedupThreshold > 1 {
		errs = append(errs, fmt.Errorf("pool.dedup_threshold must be in (0,1], got %v", p.DedupThreshold))
	}
	if p.GenerationBatchSize <= 0 {
		errs = append(errs, errors.New("pool.generation_batch_size must be > 0"))
	}
	if p.MaxConcurrentGeneration <= 0 {
		errs = append(errs, errors.New("pool.max_concurrent_generation must be > 0"))
	}
	if _, err := c.Weights(); err != nil {
		errs = append(errs, err)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	case "command":
		if c.LLM.Command == "" && !c.LLM.Mock {
			errs = append(errs, errors.New("llm.command is required for the command provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai, anthropic or command, got %q", c.LLM.Provider))
	}
	if c.LLM.MaxOutputTokens <= 0 {
		errs = append(errs, errors.New("llm.max_output_tokens must be > 0"))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("llm.requests_per_minute must be >= 0"))
	}

	if c.Embedding.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("embedding.max_concurrent must be > 0"))
	}

	if _, err := c.MultipleChoiceRatio(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	return errors.Join(errs...)
}

// Weights resolves pool.bcba_weights into content areas. Keys may be area
// names or aliases. The weights must sum to 1 within 0.01.
func (c *Config) Weights() (map[models.ContentArea]float64, error) {
	out := make(map[models.ContentArea]float64, len(c.Pool.BCBAWeights))
	var sum float64

	keys := make([]string, 0, len(c.Pool.BCBAWeights))
	for k := range c.Pool.BCBAWeights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		w := c.Pool.BCBAWeights[k]
		area, err := models.ParseContentArea(k)
		if err != nil {
			return nil, fmt.Errorf("pool.bcba_weights: %w", err)
		}
		if w < 0 {
			return nil, fmt.Errorf("pool.bcba_weights: negative weight for %s", area)
		}
		if _, dup := out[area]; dup {
			return nil, fmt.Errorf("pool.bcba_weights: %s listed twice", area)
		}
		out[area] = w
		sum += w
	}
	if math.Abs(sum-1.0) >= 0.01 {
		return nil, fmt.Errorf("pool.bcba_weights must sum to 1.0, got %.4f", sum)
	}
	return out, nil
}

// MultipleChoiceRatio returns the share of multiple-choice questions from
// type_distribution.
func (c *Config) MultipleChoiceRatio() (float64, error) {
	var mc, total float64
	for k, v := range c.TypeDistribution {
		t := models.QuestionType(strings.ToLower(k))
		if !models.ValidQuestionTypes[t] {
			return 0, fmt.Errorf("type_distribution: unknown question type %q", k)
		}
		if v < 0 {
			return 0, fmt.Errorf("type_distribution: negative ratio for %s", k)
		}
		if t == models.TypeMultipleChoice {
			mc = v
		}
		total += v
	}
	if total == 0 {
		return 0, errors.New("type_distribution must not be empty")
	}
	return mc / total, nil
}

// DedupLimit returns the per-area reference set size.
func (p PoolConfig) DedupLimit() int {
	if p.DedupCheckLimit == nil {
		return DefaultDedupCheckLimit
	}
	return *p.DedupCheckLimit
}
