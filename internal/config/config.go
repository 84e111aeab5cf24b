package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seedcheck/validator-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Crawler    CrawlerConfig    `yaml:"crawler" mapstructure:"crawler"`
	TikHub     TikHubConfig     `yaml:"tikhub" mapstructure:"tikhub"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Serper     SerperConfig     `yaml:"serper" mapstructure:"serper"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Router     RouterConfig     `yaml:"router" mapstructure:"router"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Rate       RateConfig       `yaml:"rate" mapstructure:"rate"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// CrawlerConfig holds the self-operated crawler service settings.
type CrawlerConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	PollSecs    int    `yaml:"poll_secs" mapstructure:"poll_secs"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TikHubConfig holds the third-party social data API settings. Key is the
// system default credential; runs using it are quota-metered.
type TikHubConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// JinaConfig holds Jina AI reader/search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// SerperConfig holds Serper search API settings.
type SerperConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LLMConfig holds the system-default language-model endpoints. Primary is
// used when a request supplies no runtime of its own; Fallbacks are the
// system-declared tail of the candidate list.
type LLMConfig struct {
	Primary   LLMEndpoint   `yaml:"primary" mapstructure:"primary"`
	Fallbacks []LLMEndpoint `yaml:"fallbacks" mapstructure:"fallbacks"`
}

// LLMEndpoint is one configured endpoint+key+model.
type LLMEndpoint struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Key      string `yaml:"key" mapstructure:"key"`
	Model    string `yaml:"model" mapstructure:"model"`
}

// Runtime converts the endpoint to a model.LLMRuntime.
func (e LLMEndpoint) Runtime() model.LLMRuntime {
	provider := model.LLMProvider(e.Provider)
	if provider == "" {
		provider = model.ProviderOpenAI
	}
	return model.LLMRuntime{
		Provider: provider,
		BaseURL:  e.BaseURL,
		APIKey:   e.Key,
		Model:    e.Model,
	}
}

// RouterConfig configures probabilistic source routing.
type RouterConfig struct {
	// SelfCrawlRatio is the per-mille share of (user, query) buckets routed
	// to the self-operated crawler, 0..1000.
	SelfCrawlRatio int `yaml:"self_crawl_ratio" mapstructure:"self_crawl_ratio"`
	MinPosts       int `yaml:"min_posts" mapstructure:"min_posts"`
	MinComments    int `yaml:"min_comments" mapstructure:"min_comments"`
}

// QuotaConfig configures the free third-party usage tier.
type QuotaConfig struct {
	FreeLimit int `yaml:"free_limit" mapstructure:"free_limit"`
}

// RateConfig configures the per-(user, operation) request-rate limiter.
type RateConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int `yaml:"burst" mapstructure:"burst"`
}

// PricingConfig holds per-unit cost estimation rates.
type PricingConfig struct {
	LLM            map[string]ModelPricing `yaml:"llm" mapstructure:"llm"`
	CrawlerPerCall float64                 `yaml:"crawler_per_call" mapstructure:"crawler_per_call"`
	SearchPerQuery float64                 `yaml:"search_per_query" mapstructure:"search_per_query"`
	CleanerPerMTok float64                 `yaml:"cleaner_per_mtok" mapstructure:"cleaner_per_mtok"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures background run-health checks.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours         int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
	CostThresholdUSD      float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultRuntime builds the environment-default RuntimeConfig used when a
// request supplies no credentials of its own.
func (c *Config) DefaultRuntime() model.RuntimeConfig {
	rc := model.RuntimeConfig{
		Primary:        c.LLM.Primary.Runtime(),
		UseSelfCrawler: c.Crawler.Enabled,
		UseThirdParty:  c.TikHub.Enabled,
		Platforms:      map[string]bool{"xiaohongshu": true},
		SearchKeys:     map[string]string{},
	}
	for _, f := range c.LLM.Fallbacks {
		rc.Fallbacks = append(rc.Fallbacks, f.Runtime())
	}
	if c.Jina.Key != "" {
		rc.SearchKeys["jina"] = c.Jina.Key
	}
	if c.Serper.Key != "" {
		rc.SearchKeys["serper"] = c.Serper.Key
	}
	return rc
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VALIDATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "validator.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("crawler.base_url", "http://localhost:8571")
	v.SetDefault("crawler.poll_secs", 3)
	v.SetDefault("crawler.timeout_secs", 180)
	v.SetDefault("crawler.enabled", true)
	v.SetDefault("tikhub.base_url", "https://api.tikhub.io")
	v.SetDefault("tikhub.enabled", true)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("llm.primary.provider", "openai")
	v.SetDefault("router.self_crawl_ratio", 500)
	v.SetDefault("router.min_posts", 4)
	v.SetDefault("router.min_comments", 8)
	v.SetDefault("quota.free_limit", 3)
	v.SetDefault("rate.requests_per_minute", 10)
	v.SetDefault("rate.burst", 3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.5)
	v.SetDefault("pricing.crawler_per_call", 0.01)
	v.SetDefault("pricing.search_per_query", 0.001)
	v.SetDefault("pricing.cleaner_per_mtok", 0.02)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
