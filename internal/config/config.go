// Package config loads NewsPipe configuration from a YAML file with
// environment variable overrides.
//
// The file location comes from NEWSPIPE_CONFIG; when unset or unreadable
// the built-in defaults apply, so the service always starts with a usable
// configuration.
package config

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pressfeed/newspipe/internal/models"
)

const (
	configPathEnv   = "NEWSPIPE_CONFIG"
	databaseDSNEnv  = "DATABASE_DSN"
	redisAddrEnv    = "REDIS_ADDR"
	openAIKeyEnv    = "OPENAI_API_KEY"
	openAIModelEnv  = "OPENAI_MODEL"
	newsAPIKeyEnv   = "NEWSAPI_KEY"
	newsAPIURLEnv   = "NEWSAPI_URL"
	apiAddrEnv      = "API_ADDR"
	cronScheduleEnv = "PIPELINE_SCHEDULE"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	NewsAPI   NewsAPIConfig   `yaml:"newsapi"`
	Rate      RateConfig      `yaml:"rate"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Settings  []SyncSetting   `yaml:"settings"`
	Sites     []RemoteSite    `yaml:"sites"`
}

// DatabaseConfig describes the storage backend. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig describes the shared key-value backend. An empty address
// selects the in-process store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SchedulerConfig defines the pipeline cron cadence.
type SchedulerConfig struct {
	CronExpression string `yaml:"cronExpression"`
}

// APIConfig defines the operator HTTP listener.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// OpenAIConfig defines how to contact the completion API.
type OpenAIConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// NewsAPIConfig defines the article source endpoint.
type NewsAPIConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// RateConfig caps completion API usage. Zero values mean unlimited.
type RateConfig struct {
	RequestsPerMinute   int64 `yaml:"requestsPerMinute"`
	TokensPerMinute     int64 `yaml:"tokensPerMinute"`
	RequestsPerDay      int64 `yaml:"requestsPerDay"`
	MaxTokensPerRequest int64 `yaml:"maxTokensPerRequest"`
}

// PipelineConfig tunes the dispatcher and duplicate detection.
type PipelineConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	LookbackHours       int     `yaml:"lookbackHours"`
	MaxRunTimeSeconds   int     `yaml:"maxRunTimeSeconds"`
	MemoryLimitMB       int     `yaml:"memoryLimitMb"`
}

// MaxRunTime returns the per-tick wall budget as a duration.
func (p PipelineConfig) MaxRunTime() time.Duration {
	return time.Duration(p.MaxRunTimeSeconds) * time.Second
}

// Lookback returns the duplicate-detection window as a duration.
func (p PipelineConfig) Lookback() time.Duration {
	return time.Duration(p.LookbackHours) * time.Hour
}

// SyncSetting seeds one ingestion source at startup.
type SyncSetting struct {
	Name           string `yaml:"name"`
	Query          string `yaml:"query"`
	Language       string `yaml:"language"`
	Country        string `yaml:"country"`
	MaxAgeHours    int    `yaml:"maxAgeHours"`
	InterestFilter bool   `yaml:"interestFilter"`
	InterestPrompt string `yaml:"interestPrompt"`
	Enabled        bool   `yaml:"enabled"`
}

// RemoteSite seeds one subscriber site at startup.
type RemoteSite struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Enabled bool   `yaml:"enabled"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			slog.Warn("config.Load: falling back to defaults", "path", path, "error", err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func loadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv(openAIModelEnv); v != "" {
		c.OpenAI.Model = v
	}
	if v := os.Getenv(newsAPIKeyEnv); v != "" {
		c.NewsAPI.APIKey = v
	}
	if v := os.Getenv(newsAPIURLEnv); v != "" {
		c.NewsAPI.Endpoint = v
	}
	if v := os.Getenv(apiAddrEnv); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv(cronScheduleEnv); v != "" {
		c.Scheduler.CronExpression = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.DSN != "" {
		base.Database = override.Database
	}
	if override.Redis.Addr != "" {
		base.Redis = override.Redis
	}
	if override.Scheduler.CronExpression != "" {
		base.Scheduler = override.Scheduler
	}
	if override.API.Addr != "" {
		base.API = override.API
	}
	if override.OpenAI.APIKey != "" {
		base.OpenAI.APIKey = override.OpenAI.APIKey
	}
	if override.OpenAI.Model != "" {
		base.OpenAI.Model = override.OpenAI.Model
	}
	if override.NewsAPI.Endpoint != "" {
		base.NewsAPI.Endpoint = override.NewsAPI.Endpoint
	}
	if override.NewsAPI.APIKey != "" {
		base.NewsAPI.APIKey = override.NewsAPI.APIKey
	}
	if override.Rate != (RateConfig{}) {
		base.Rate = override.Rate
	}
	if override.Pipeline.SimilarityThreshold != 0 {
		base.Pipeline.SimilarityThreshold = override.Pipeline.SimilarityThreshold
	}
	if override.Pipeline.LookbackHours != 0 {
		base.Pipeline.LookbackHours = override.Pipeline.LookbackHours
	}
	if override.Pipeline.MaxRunTimeSeconds != 0 {
		base.Pipeline.MaxRunTimeSeconds = override.Pipeline.MaxRunTimeSeconds
	}
	if override.Pipeline.MemoryLimitMB != 0 {
		base.Pipeline.MemoryLimitMB = override.Pipeline.MemoryLimitMB
	}
	if len(override.Settings) > 0 {
		base.Settings = override.Settings
	}
	if len(override.Sites) > 0 {
		base.Sites = override.Sites
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Scheduler: SchedulerConfig{CronExpression: "*/2 * * * *"},
		API:       APIConfig{Addr: ":8080"},
		OpenAI:    OpenAIConfig{Model: "gpt-4o-mini"},
		NewsAPI:   NewsAPIConfig{Endpoint: "https://newsdata.io/api/1/latest"},
		Rate: RateConfig{
			RequestsPerMinute:   60,
			TokensPerMinute:     90000,
			RequestsPerDay:      5000,
			MaxTokensPerRequest: 4096,
		},
		Pipeline: PipelineConfig{
			SimilarityThreshold: 0.60,
			LookbackHours:       24,
			MaxRunTimeSeconds:   300,
			MemoryLimitMB:       256,
		},
	}
}

// StoreSettings converts the YAML seed entries into model sync settings.
func (c Config) StoreSettings() []models.SyncSetting {
	out := make([]models.SyncSetting, 0, len(c.Settings))
	for _, s := range c.Settings {
		out = append(out, models.SyncSetting{
			Name:           s.Name,
			Query:          s.Query,
			Language:       s.Language,
			Country:        s.Country,
			MaxAgeHours:    s.MaxAgeHours,
			InterestFilter: s.InterestFilter,
			InterestPrompt: s.InterestPrompt,
			Enabled:        s.Enabled,
		})
	}
	return out
}

// StoreSites converts the YAML seed entries into model remote sites.
func (c Config) StoreSites() []models.RemoteSite {
	out := make([]models.RemoteSite, 0, len(c.Sites))
	for _, s := range c.Sites {
		out = append(out, models.RemoteSite{
			Name:    s.Name,
			BaseURL: s.BaseURL,
			APIKey:  s.APIKey,
			Enabled: s.Enabled,
		})
	}
	return out
}
