// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"alarm-gateway/internal/anomaly"
	"alarm-gateway/internal/logger"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		SecretKey       string        `mapstructure:"secret_key"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Processor struct {
		Threshold    float64       `mapstructure:"threshold"`
		TickInterval time.Duration `mapstructure:"tick_interval"`
	} `mapstructure:"processor"`
	History struct {
		MaxSize int `mapstructure:"max_size"`
	} `mapstructure:"history"`
	Logging logger.Config `mapstructure:"logging"`
}

// envBindings maps config keys to the environment names operators already use.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.secret_key":       "SECRET_KEY",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"processor.threshold":     "ALARM_THRESHOLD",
	"processor.tick_interval": "TICK_INTERVAL",
	"history.max_size":        "HISTORY_MAX_SIZE",
	"logging.level":           "LOG_LEVEL",
	"logging.debug":           "DEBUG",
	"logging.output":          "LOG_OUTPUT",
}

// flagBindings maps config keys to command-line flag names.
var flagBindings = map[string]string{
	"server.port":             "port",
	"processor.threshold":     "threshold",
	"processor.tick_interval": "tick-interval",
	"history.max_size":        "history-size",
	"logging.level":           "log-level",
}

// Flags registers the command-line overrides understood by Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", ".", "Path to the configuration file directory")
	fs.Int("port", 5000, "HTTP listen port")
	fs.Float64("threshold", anomaly.DefaultThreshold, "Alarm value threshold")
	fs.Duration("tick-interval", time.Second, "Broadcast loop period")
	fs.Int("history-size", 100, "Maximum number of records kept in history")
	fs.String("log-level", "info", "Log level")
}

// Load reads config.yaml from path (optional), then environment, then any
// flags explicitly set on fs. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if fs != nil {
		for key, name := range flagBindings {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.History.MaxSize < 1 {
		return fmt.Errorf("%w: history.max_size must be positive, got %d", ErrInvalidConfig, c.History.MaxSize)
	}
	if c.Processor.TickInterval <= 0 {
		return fmt.Errorf("%w: processor.tick_interval must be positive, got %s", ErrInvalidConfig, c.Processor.TickInterval)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.secret_key", "change-me")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("processor.threshold", anomaly.DefaultThreshold)
	v.SetDefault("processor.tick_interval", time.Second)
	v.SetDefault("history.max_size", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
}
