package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log              LogConfig                  `yaml:"log" mapstructure:"log"`
	DefaultWarehouse string                     `yaml:"default_warehouse" mapstructure:"default_warehouse"`
	Warehouses       map[string]WarehouseConfig `yaml:"warehouses" mapstructure:"warehouses"`
	Metadata         MetadataConfig             `yaml:"metadata" mapstructure:"metadata"`
	HTTP             HTTPConfig                 `yaml:"http" mapstructure:"http"`
	AWS              AWSConfig                  `yaml:"aws" mapstructure:"aws"`
	Salesforce       SalesforceConfig           `yaml:"salesforce" mapstructure:"salesforce"`
	Monitoring       MonitoringConfig           `yaml:"monitoring" mapstructure:"monitoring"`
}

// WarehouseConfig configures one named destination warehouse.
type WarehouseConfig struct {
	Driver    string          `yaml:"driver" mapstructure:"driver"` // postgres, snowflake, sqlite
	DSN       string          `yaml:"dsn" mapstructure:"dsn"`       // postgres URL, snowflake DSN, or sqlite path
	Snowflake SnowflakeConfig `yaml:"snowflake" mapstructure:"snowflake"`
	MaxConns  int32           `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns  int32           `yaml:"min_conns" mapstructure:"min_conns"`
	// BatchSize caps rows per multi-row INSERT on database/sql backends.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// SnowflakeConfig holds discrete Snowflake connection fields, used when DSN is
// empty.
type SnowflakeConfig struct {
	Account   string `yaml:"account" mapstructure:"account"`
	User      string `yaml:"user" mapstructure:"user"`
	Password  string `yaml:"password" mapstructure:"password"`
	Database  string `yaml:"database" mapstructure:"database"`
	Schema    string `yaml:"schema" mapstructure:"schema"`
	Warehouse string `yaml:"warehouse" mapstructure:"warehouse"`
	Role      string `yaml:"role" mapstructure:"role"`
}

// MetadataConfig locates the operational log tables.
type MetadataConfig struct {
	Schema       string `yaml:"schema" mapstructure:"schema"`
	TaskTable    string `yaml:"task_table" mapstructure:"task_table"`
	HistoryTable string `yaml:"history_table" mapstructure:"history_table"`
	TimeZone     string `yaml:"time_zone" mapstructure:"time_zone"`
}

// HTTPConfig configures the REST source client.
type HTTPConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second per host; 0 = unlimited
}

// AWSConfig configures the object storage client. Empty keys fall back to
// the default AWS credential chain.
type AWSConfig struct {
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

// SalesforceConfig holds Salesforce auth settings. KeyPath selects the JWT
// flow; otherwise username, password and security token are used.
type SalesforceConfig struct {
	ClientID      string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret  string  `yaml:"client_secret" mapstructure:"client_secret"`
	Username      string  `yaml:"username" mapstructure:"username"`
	Password      string  `yaml:"password" mapstructure:"password"`
	SecurityToken string  `yaml:"security_token" mapstructure:"security_token"`
	KeyPath       string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL      string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures the task health check.
type MonitoringConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	StaleAfterMinutes   int    `yaml:"stale_after_minutes" mapstructure:"stale_after_minutes"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
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
	v.SetEnvPrefix("STAGELOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("default_warehouse", "default")
	v.SetDefault("metadata.schema", "ops")
	v.SetDefault("metadata.task_table", "task_list")
	v.SetDefault("metadata.history_table", "task_run_history")
	v.SetDefault("metadata.time_zone", "America/New_York")
	v.SetDefault("http.user_agent", "stageload/1.0")
	v.SetDefault("http.timeout_secs", 0)
	v.SetDefault("http.rate_limit", 0)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("monitoring.stale_after_minutes", 360)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

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

	// A single warehouse can be configured from the environment alone.
	if dsn := v.GetString("warehouse.dsn"); dsn != "" {
		if cfg.Warehouses == nil {
			cfg.Warehouses = make(map[string]WarehouseConfig)
		}
		if _, ok := cfg.Warehouses[cfg.DefaultWarehouse]; !ok {
			cfg.Warehouses[cfg.DefaultWarehouse] = WarehouseConfig{
				Driver: v.GetString("warehouse.driver"),
				DSN:    dsn,
			}
		}
	}

	return &cfg, nil
}

// Warehouse returns the named warehouse connection, or the default one when
// name is empty.
func (c *Config) Warehouse(name string) (WarehouseConfig, error) {
	if name == "" {
		name = c.DefaultWarehouse
	}
	wh, ok := c.Warehouses[name]
	if !ok {
		known := make([]string, 0, len(c.Warehouses))
		for k := range c.Warehouses {
			known = append(known, k)
		}
		sort.Strings(known)
		return WarehouseConfig{}, eris.Errorf("config: warehouse %q not configured (have %v)", name, known)
	}
	return wh, nil
}

// Validate checks the settings a command needs. mode is "run", "migrate",
// "runs" or "check"; every mode needs a usable warehouse connection. Values
// still holding a <TOKEN> placeholder fail in any mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}

	for _, p := range placeholders(c) {
		errs = append(errs, "unresolved placeholder: "+p)
	}

	switch mode {
	case "run", "migrate", "runs", "check":
		if len(c.Warehouses) == 0 {
			errs = append(errs, "warehouses: at least one warehouse is required")
		}
		names := make([]string, 0, len(c.Warehouses))
		for name := range c.Warehouses {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			errs = append(errs, c.Warehouses[name].problems("warehouses."+name)...)
		}
		if c.Metadata.TaskTable == "" || c.Metadata.HistoryTable == "" {
			errs = append(errs, "metadata.task_table and metadata.history_table are required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (w WarehouseConfig) problems(prefix string) []string {
	var errs []string
	switch w.Driver {
	case "postgres", "sqlite":
		if w.DSN == "" {
			errs = append(errs, prefix+".dsn is required")
		}
	case "snowflake":
		if w.DSN == "" && (w.Snowflake.Account == "" || w.Snowflake.User == "") {
			errs = append(errs, prefix+".dsn or snowflake.account and snowflake.user are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("%s.driver %q must be postgres, snowflake or sqlite", prefix, w.Driver))
	}
	return errs
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
