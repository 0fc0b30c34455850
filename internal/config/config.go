// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Census     CensusConfig     `yaml:"census" mapstructure:"census"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Overpass   OverpassConfig   `yaml:"overpass" mapstructure:"overpass"`
	ReconAgent ReconAgentConfig `yaml:"recon_agent" mapstructure:"recon_agent"`
	Gates      GatesConfig      `yaml:"gates" mapstructure:"gates"`
	Capability CapabilityConfig `yaml:"capability" mapstructure:"capability"`
	Financial  FinancialConfig  `yaml:"financial" mapstructure:"financial"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for the paid AI tiers.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// CensusConfig holds Census Bureau API settings.
type CensusConfig struct {
	Key  string `yaml:"key" mapstructure:"key"`
	Year int    `yaml:"year" mapstructure:"year"`
}

// GoogleConfig holds the Google geocoding API key. Optional: without
// it, address geocoding falls back to the Census geocoder and zip
// centroids.
type GoogleConfig struct {
	GeocodeKey string `yaml:"geocode_key" mapstructure:"geocode_key"`
}

// OverpassConfig configures the OpenStreetMap Overpass client.
type OverpassConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SurveyRadiusM int    `yaml:"survey_radius_m" mapstructure:"survey_radius_m"`
}

// ReconAgentConfig configures the capability recon agent service.
type ReconAgentConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	Key             string `yaml:"key" mapstructure:"key"`
	PollTimeoutSecs int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
	MaxConcurrent   int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// GatesConfig holds the gate thresholds and decision cut lines.
type GatesConfig struct {
	MinPopulation         int     `yaml:"min_population" mapstructure:"min_population"`
	MinHotspotScore       float64 `yaml:"min_hotspot_score" mapstructure:"min_hotspot_score"`
	RatePromoteConfidence float64 `yaml:"rate_promote_confidence" mapstructure:"rate_promote_confidence"`
	RateHoldConfidence    float64 `yaml:"rate_hold_confidence" mapstructure:"rate_hold_confidence"`
	GoThreshold           float64 `yaml:"go_threshold" mapstructure:"go_threshold"`
	NoGoThreshold         float64 `yaml:"no_go_threshold" mapstructure:"no_go_threshold"`
}

// CapabilityConfig configures capability-profile freshness.
type CapabilityConfig struct {
	TTLDays           int `yaml:"ttl_days" mapstructure:"ttl_days"`
	WarningWindowDays int `yaml:"warning_window_days" mapstructure:"warning_window_days"`
}

// FinancialConfig holds the financial model defaults.
type FinancialConfig struct {
	CostPerSqft        float64 `yaml:"cost_per_sqft" mapstructure:"cost_per_sqft"`
	DefaultCoverage    float64 `yaml:"default_coverage" mapstructure:"default_coverage"`
	RentableEfficiency float64 `yaml:"rentable_efficiency" mapstructure:"rentable_efficiency"`
	DefaultAcreage     float64 `yaml:"default_acreage" mapstructure:"default_acreage"`
}

// BatchConfig configures batch screening.
type BatchConfig struct {
	MaxConcurrentSites int `yaml:"max_concurrent_sites" mapstructure:"max_concurrent_sites"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures background run-health alerting. Alerting
// is disabled when webhook_url is empty.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SpendThresholdUSD    float64 `yaml:"spend_threshold_usd" mapstructure:"spend_threshold_usd"`
	HeldBacklogThreshold int     `yaml:"held_backlog_threshold" mapstructure:"held_backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SITESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_sites", 5)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("census.year", 2023)
	v.SetDefault("overpass.base_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.survey_radius_m", 8000)
	v.SetDefault("recon_agent.poll_timeout_secs", 600)
	v.SetDefault("recon_agent.max_concurrent", 3)
	v.SetDefault("gates.min_population", 10000)
	v.SetDefault("gates.min_hotspot_score", 60)
	v.SetDefault("gates.rate_promote_confidence", 0.70)
	v.SetDefault("gates.rate_hold_confidence", 0.50)
	v.SetDefault("gates.go_threshold", 70)
	v.SetDefault("gates.no_go_threshold", 40)
	v.SetDefault("capability.ttl_days", 90)
	v.SetDefault("capability.warning_window_days", 7)
	v.SetDefault("financial.cost_per_sqft", 85)
	v.SetDefault("financial.default_coverage", 0.40)
	v.SetDefault("financial.rentable_efficiency", 0.75)
	v.SetDefault("financial.default_acreage", 2.5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.spend_threshold_usd", 50)
	v.SetDefault("monitoring.held_backlog_threshold", 25)

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

// Validate checks the configuration for a run mode: "screen" needs the
// store and AI tiers, "recon" needs the agent service, "serve" needs a
// listen port. Errors aggregate so one invocation reports everything
// that is missing.
func (c *Config) Validate(mode string) error {
	var problems []string

	common := func() {
		if c.Store.DatabaseURL == "" && c.Store.Driver != "sqlite" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Batch.MaxConcurrentSites < 1 || c.Batch.MaxConcurrentSites > 50 {
			problems = append(problems, "batch.max_concurrent_sites must be between 1 and 50")
		}
		if c.Gates.RatePromoteConfidence < 0 || c.Gates.RatePromoteConfidence > 1 {
			problems = append(problems, "gates.rate_promote_confidence must be in [0,1]")
		}
		if c.Gates.RateHoldConfidence < 0 || c.Gates.RateHoldConfidence > c.Gates.RatePromoteConfidence {
			problems = append(problems, "gates.rate_hold_confidence must be in [0, rate_promote_confidence]")
		}
		if c.Gates.NoGoThreshold >= c.Gates.GoThreshold {
			problems = append(problems, "gates.no_go_threshold must be below gates.go_threshold")
		}
	}

	switch mode {
	case "screen":
		common()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "recon":
		common()
		if c.ReconAgent.BaseURL == "" {
			problems = append(problems, "recon_agent.base_url is required")
		}
	case "serve":
		common()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
