// Package config loads meetgate settings with priority flag > env > file >
// default and builds the stores and HTTP clients they describe.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-authgate/meetgate/obs"
	"github.com/go-authgate/meetgate/tokenstore"
)

const (
	EnvPrefix = "MEET"
	AppName   = "meetgate"

	KeyBaseURL        = "base_url"
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyTokenStore     = "token_store"
	KeyTokenFile      = "token_file"
	KeyRedisAddr      = "redis_addr"
	KeyRedisKey       = "redis_key"
	KeyLogLevel       = "log_level"
	KeyLogPretty      = "log_pretty"
	KeyHTTPMaxRetries = "http_max_retries"
	KeySingleFlight   = "single_flight"
	KeyListenAddr     = "listen_addr"
	KeyRequestTimeout = "request_timeout"
)

// Token store backends.
const (
	StoreFile    = "file"
	StoreKeyring = "keyring"
	StoreRedis   = "redis"
)

// Version is stamped at build time.
var Version = "dev"

type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TokenStore     string        `mapstructure:"token_store"`
	TokenFile      string        `mapstructure:"token_file"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisKey       string        `mapstructure:"redis_key"`
	LogLevel       string        `mapstructure:"log_level"`
	LogPretty      bool          `mapstructure:"log_pretty"`
	HTTPMaxRetries int           `mapstructure:"http_max_retries"`
	SingleFlight   bool          `mapstructure:"single_flight"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads .env, the optional YAML file at path, MEET_* variables and the
// flags in fs. Missing credentials are not an error here; they surface as a
// configuration error on first use.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.TokenStore = strings.ToLower(strings.TrimSpace(cfg.TokenStore))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyUsername, "")
	v.SetDefault(KeyPassword, "")
	v.SetDefault(KeyTokenStore, StoreFile)
	v.SetDefault(KeyTokenFile, tokenstore.DefaultFilePath())
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisKey, tokenstore.DefaultRedisKey)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPretty, false)
	v.SetDefault(KeyHTTPMaxRetries, 0)
	v.SetDefault(KeySingleFlight, false)
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyRequestTimeout, 30*time.Second)
}

// bindFlags binds every key to the flag of the same name with dashes, when
// fs defines one. Only flags the user actually set override env.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, key := range v.AllKeys() {
		f := fs.Lookup(FlagName(key))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", f.Name, err)
		}
	}
	return nil
}

// FlagName is the command-line flag for a config key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Validate checks the settings that can be checked without a network call.
func (c *Config) Validate() error {
	if c.BaseURL != "" {
		if err := validateServerURL(c.BaseURL); err != nil {
			return fmt.Errorf("invalid %s_BASE_URL: %w", EnvPrefix, err)
		}
	}
	switch c.TokenStore {
	case StoreFile:
		if c.TokenFile == "" {
			return errors.New("token_file must not be empty")
		}
	case StoreKeyring:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required when token_store is redis")
		}
	default:
		return fmt.Errorf("unknown token_store %q (want file, keyring or redis)", c.TokenStore)
	}
	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("http_max_retries must not be negative, got %d", c.HTTPMaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Insecure reports whether tokens would travel over plain HTTP.
func (c *Config) Insecure() bool {
	return strings.HasPrefix(strings.ToLower(c.BaseURL), "http://")
}

func (c *Config) AsLogConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.LogLevel,
		Pretty: c.LogPretty,
		App:    AppName,
		Ver:    Version,
	}
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}
