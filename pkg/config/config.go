package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flocksync/flocksync/pkg/types"
)

// Config is the full process configuration, resolved from environment
// variables (FLOCKSYNC_ prefix) layered over an optional YAML file.
type Config struct {
	Logging        LoggingConfig        `mapstructure:"logging"`
	Readiness      ReadinessConfig      `mapstructure:"readiness"`
	Store          StoreConfig          `mapstructure:"store"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	API            APIConfig            `mapstructure:"api"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Providers      ProvidersConfig      `mapstructure:"providers"`
}

// APIConfig configures the HTTP intake endpoint.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Identifier string `mapstructure:"identifier"`
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
}

// ReadinessConfig holds the process-wide readiness defaults. Individual
// record configs may override these per config.
type ReadinessConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	TagKey          string `mapstructure:"tag_key"`
	TagValue        string `mapstructure:"tag_value"`
}

// Spec converts the defaults into the evaluation-time readiness spec.
func (r ReadinessConfig) Spec() types.ReadinessSpec {
	return types.ReadinessSpec{
		Enabled:  r.Enabled,
		Interval: time.Duration(r.IntervalSeconds) * time.Second,
		Timeout:  time.Duration(r.TimeoutSeconds) * time.Second,
		TagKey:   r.TagKey,
		TagValue: r.TagValue,
	}
}

// StoreConfig locates the config store and the two well-known keys.
type StoreConfig struct {
	Path string `mapstructure:"path"`
	// DeclaredKey holds the declared (infrastructure-managed) config set.
	DeclaredKey string `mapstructure:"declared_key"`
	// OverrideKey holds externally-managed overrides layered on top.
	OverrideKey string `mapstructure:"override_key"`
}

// ReconciliationConfig controls the reconciliation engine.
type ReconciliationConfig struct {
	WhatIf          bool     `mapstructure:"what_if"`
	MaxConcurrency  int      `mapstructure:"max_concurrency"`
	IntervalSeconds int      `mapstructure:"interval_seconds"`
	ValidStates     []string `mapstructure:"valid_states"`
}

// BrokerConfig selects the reconciliation task broker.
type BrokerConfig struct {
	// Provider is one of "internal" (in-process queue) or "bolt"
	// (durable queue persisted next to the config store).
	Provider string `mapstructure:"provider"`
	// Endpoint points the bolt queue at its own database file. Empty
	// shares the config store's database.
	Endpoint    string `mapstructure:"endpoint"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// MonitoringConfig gates metrics emission.
type MonitoringConfig struct {
	MetricsEnabled   bool   `mapstructure:"metrics_enabled"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
}

// ProvidersConfig carries backend-specific DNS provider settings.
type ProvidersConfig struct {
	RFC2136 RFC2136Config `mapstructure:"rfc2136"`
}

// RFC2136Config configures the dynamic-update DNS provider.
type RFC2136Config struct {
	Server      string `mapstructure:"server"`
	TSIGKeyName string `mapstructure:"tsig_key_name"`
	TSIGSecret  string `mapstructure:"tsig_secret"`
	TSIGAlgo    string `mapstructure:"tsig_algorithm"`
}

// Load resolves the configuration. A missing config file is not an error;
// environment variables and defaults still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/flocksync")
		v.SetConfigName("flocksync")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FLOCKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Reconciliation.MaxConcurrency < 2 {
		c.Reconciliation.MaxConcurrency = 2
	}
	if len(c.Reconciliation.ValidStates) == 0 {
		c.Reconciliation.ValidStates = []string{"InService"}
	}
	switch c.Broker.Provider {
	case "internal", "bolt":
	default:
		return fmt.Errorf("unknown broker provider: %s", c.Broker.Provider)
	}
	if c.Broker.MaxAttempts < 1 {
		c.Broker.MaxAttempts = 4
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.identifier", "flocksync")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", true)

	v.SetDefault("readiness.enabled", true)
	v.SetDefault("readiness.interval_seconds", 5)
	v.SetDefault("readiness.timeout_seconds", 300)
	v.SetDefault("readiness.tag_key", "app:readiness:status")
	v.SetDefault("readiness.tag_value", "ready")

	v.SetDefault("store.path", "/var/lib/flocksync")
	v.SetDefault("store.declared_key", "flocksync-declared")
	v.SetDefault("store.override_key", "flocksync-external")

	v.SetDefault("reconciliation.what_if", false)
	v.SetDefault("reconciliation.max_concurrency", 2)
	v.SetDefault("reconciliation.interval_seconds", 300)
	v.SetDefault("reconciliation.valid_states", []string{"InService"})

	v.SetDefault("broker.provider", "internal")
	v.SetDefault("broker.max_attempts", 4)

	v.SetDefault("api.listen_addr", ":8480")

	v.SetDefault("monitoring.metrics_enabled", false)
	v.SetDefault("monitoring.metrics_namespace", "flocksync")
	v.SetDefault("monitoring.metrics_addr", ":9402")

	v.SetDefault("providers.rfc2136.tsig_algorithm", "hmac-sha256")
}
