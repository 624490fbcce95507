package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/dripsend/dripsend/internal/schedule"
)

// ErrInvalid marks configuration rejected at load time. It is the only error
// class that prevents a queue from starting.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type ChannelConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DispatchConfig struct {
	StartHour         int           `mapstructure:"start_hour"`
	StartMinute       int           `mapstructure:"start_minute"`
	EndHour           int           `mapstructure:"end_hour"`
	EndMinute         int           `mapstructure:"end_minute"`
	IntervalSeconds   int           `mapstructure:"interval_seconds"`
	IntervalMinutes   int           `mapstructure:"interval_minutes"`
	MaxMessagesPerDay int           `mapstructure:"max_messages_per_day"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
	ParentStaleness   time.Duration `mapstructure:"parent_staleness"`
	IdleRecheck       time.Duration `mapstructure:"idle_recheck"`
	WindowRecheck     time.Duration `mapstructure:"window_recheck"`
}

func (d DispatchConfig) Window() schedule.Window {
	return schedule.NewWindow(d.StartHour, d.StartMinute, d.EndHour, d.EndMinute)
}

func (d DispatchConfig) Interval() time.Duration {
	return time.Duration(d.IntervalMinutes)*time.Minute + time.Duration(d.IntervalSeconds)*time.Second
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("dripsend")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/dripsend")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DRIPSEND")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	d := c.Dispatch
	if d.StartHour < 0 || d.StartHour > 23 || d.EndHour < 0 || d.EndHour > 23 {
		return fmt.Errorf("%w: window hours must be in 0..23", ErrInvalid)
	}
	if d.StartMinute < 0 || d.StartMinute > 59 || d.EndMinute < 0 || d.EndMinute > 59 {
		return fmt.Errorf("%w: window minutes must be in 0..59", ErrInvalid)
	}
	if d.IntervalSeconds < 0 || d.IntervalMinutes < 0 {
		return fmt.Errorf("%w: send interval must not be negative", ErrInvalid)
	}
	if d.MaxMessagesPerDay < 0 {
		return fmt.Errorf("%w: max_messages_per_day must not be negative", ErrInvalid)
	}
	if d.MaxWait < 0 || d.ParentStaleness < 0 {
		return fmt.Errorf("%w: max_wait and parent_staleness must not be negative", ErrInvalid)
	}
	if d.IdleRecheck <= 0 || d.WindowRecheck <= 0 {
		return fmt.Errorf("%w: recheck intervals must be positive", ErrInvalid)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/dripsend.db")

	viper.SetDefault("channel.timeout", 30*time.Second)

	viper.SetDefault("dispatch.start_hour", 9)
	viper.SetDefault("dispatch.start_minute", 0)
	viper.SetDefault("dispatch.end_hour", 17)
	viper.SetDefault("dispatch.end_minute", 0)
	viper.SetDefault("dispatch.interval_seconds", 30)
	viper.SetDefault("dispatch.interval_minutes", 0)
	viper.SetDefault("dispatch.max_messages_per_day", 0)
	viper.SetDefault("dispatch.max_wait", 24*time.Hour)
	viper.SetDefault("dispatch.parent_staleness", 24*time.Hour)
	viper.SetDefault("dispatch.idle_recheck", 30*time.Second)
	viper.SetDefault("dispatch.window_recheck", time.Minute)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
