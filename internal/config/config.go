// Package config loads stockline settings from an optional YAML file, an
// optional .env file and STOCKLINE_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STOCKLINE_SERVER_URL.
const EnvPrefix = "STOCKLINE"

type Config struct {
	Server    ServerConfig  `mapstructure:"server"`
	Channel   ChannelConfig `mapstructure:"channel"`
	Sync      SyncConfig    `mapstructure:"sync"`
	Journal   JournalConfig `mapstructure:"journal"`
	Log       LogConfig     `mapstructure:"log"`
	Warehouse int64         `mapstructure:"warehouse"`
}

type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChannelConfig struct {
	URL         string        `mapstructure:"url"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type SyncConfig struct {
	EchoWindow time.Duration `mapstructure:"echo_window"`
	DedupSize  int           `mapstructure:"dedup_size"`
}

type JournalConfig struct {
	// Path of the SQLite journal; empty disables journaling.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadOptions selects the files Load reads. Empty paths are skipped.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:8080/api")
	v.SetDefault("server.token", "")
	v.SetDefault("server.timeout", 15*time.Second)
	v.SetDefault("channel.url", "")
	v.SetDefault("channel.base_delay", 500*time.Millisecond)
	v.SetDefault("channel.max_delay", 30*time.Second)
	v.SetDefault("channel.max_attempts", 8)
	v.SetDefault("sync.echo_window", 30*time.Second)
	v.SetDefault("sync.dedup_size", 4096)
	v.SetDefault("journal.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("warehouse", 0)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads and validates the configuration.
// A missing .env file is not an error; a missing config file is.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Channel.URL == "" {
		cfg.Channel.URL = DeriveChannelURL(cfg.Server.URL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DeriveChannelURL turns the server URL into its websocket endpoint:
// http(s)://host/base becomes ws(s)://host/base/ws.
func DeriveChannelURL(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Server.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.url %q must be an absolute http(s) URL", c.Server.URL))
	}
	if c.Server.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("server.timeout must be positive"))
	}
	if c.Channel.URL != "" {
		if u, err := url.Parse(c.Channel.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("channel.url %q must be a ws(s) URL", c.Channel.URL))
		}
	}
	if c.Channel.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("channel.base_delay must be positive"))
	}
	if c.Channel.MaxDelay < c.Channel.BaseDelay {
		errs = append(errs, fmt.Errorf("channel.max_delay %s is below base_delay %s", c.Channel.MaxDelay, c.Channel.BaseDelay))
	}
	if c.Channel.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("channel.max_attempts must be positive"))
	}
	if c.Sync.EchoWindow <= 0 {
		errs = append(errs, fmt.Errorf("sync.echo_window must be positive"))
	}
	if c.Sync.DedupSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.dedup_size must be positive"))
	}
	if c.Warehouse < 0 {
		errs = append(errs, fmt.Errorf("warehouse must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
