package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	CORSOrigins       []string      `mapstructure:"corsOrigins"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout"`
	InputTimeout      time.Duration `mapstructure:"inputTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	MaxRequestBody    int64         `mapstructure:"maxRequestBody"`
	SchedulerEnabled  bool          `mapstructure:"schedulerEnabled"`
	SchedulerTick     time.Duration `mapstructure:"schedulerTick"`
	LogLevel          string        `mapstructure:"logLevel"`
	LogFormat         string        `mapstructure:"logFormat"`
	DefaultPageSize   int           `mapstructure:"defaultPageSize"`
	MaxPageSize       int           `mapstructure:"maxPageSize"`
	RetryDelayCeiling time.Duration `mapstructure:"retryDelayCeiling"`
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads the configuration from the given file (optional) and
// FLOWPROBE_* environment variables.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("flowprobe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		return nil, fmt.Errorf("defaultPageSize %d exceeds maxPageSize %d", cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8085)
	v.SetDefault("corsOrigins", []string{"*"})
	v.SetDefault("requestTimeout", 30*time.Second)
	v.SetDefault("inputTimeout", 10*time.Minute)
	v.SetDefault("heartbeatInterval", 30*time.Second)
	v.SetDefault("maxRequestBody", int64(1<<20))
	v.SetDefault("schedulerEnabled", true)
	v.SetDefault("schedulerTick", time.Minute)
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "text")
	v.SetDefault("defaultPageSize", 10)
	v.SetDefault("maxPageSize", 100)
	v.SetDefault("retryDelayCeiling", 5*time.Minute)
}
