package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/go-authgate/meetgate/tokenstore"
)

// chdirTemp isolates the test from any .env in the working directory.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.BaseURL)
	assert.Equal(t, StoreFile, cfg.TokenStore)
	assert.Equal(t, tokenstore.DefaultFilePath(), cfg.TokenFile)
	assert.Equal(t, tokenstore.DefaultRedisKey, cfg.RedisKey)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Zero(t, cfg.HTTPMaxRetries)
	assert.False(t, cfg.SingleFlight)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoad_Precedence(t *testing.T) {
	dir := chdirTemp(t)

	file := filepath.Join(dir, "meetgate.yaml")
	require.NoError(t, os.WriteFile(file, []byte(strings.Join([]string{
		"base_url: https://file.example",
		"username: file-user",
		"listen_addr: :7000",
		"log_level: warn",
	}, "\n")), 0o600))

	t.Setenv("MEET_USERNAME", "env-user")
	t.Setenv("MEET_LISTEN_ADDR", ":7001")
	t.Setenv("MEET_SINGLE_FLIGHT", "true")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(FlagName(KeyListenAddr), ":8080", "")
	fs.String(FlagName(KeyLogLevel), "info", "")
	require.NoError(t, fs.Parse([]string{"--listen-addr=:7002"}))

	cfg, err := Load(file, fs)
	require.NoError(t, err)

	assert.Equal(t, "https://file.example", cfg.BaseURL, "file beats default")
	assert.Equal(t, "env-user", cfg.Username, "env beats file")
	assert.Equal(t, ":7002", cfg.ListenAddr, "flag beats env")
	assert.Equal(t, "warn", cfg.LogLevel, "unset flag does not shadow file")
	assert.True(t, cfg.SingleFlight)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MEET_BASE_URL=https://dotenv.example/\n"), 0o600))
	// Register restoration, then unset so godotenv is allowed to fill it.
	t.Setenv("MEET_BASE_URL", "")
	require.NoError(t, os.Unsetenv("MEET_BASE_URL"))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example", cfg.BaseURL, "trailing slash trimmed")
}

func TestLoad_MissingFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load("does-not-exist.yaml", nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			BaseURL:        "https://meet.example",
			TokenStore:     StoreFile,
			TokenFile:      "/tmp/meet/token.json",
			RequestTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty base URL is allowed", mutate: func(c *Config) { c.BaseURL = "" }},
		{name: "ftp scheme", mutate: func(c *Config) { c.BaseURL = "ftp://meet.example" }, wantErr: "scheme"},
		{name: "no host", mutate: func(c *Config) { c.BaseURL = "https://" }, wantErr: "host"},
		{name: "unknown store", mutate: func(c *Config) { c.TokenStore = "s3" }, wantErr: "unknown token_store"},
		{name: "empty token file", mutate: func(c *Config) { c.TokenFile = "" }, wantErr: "token_file"},
		{name: "keyring", mutate: func(c *Config) { c.TokenStore = StoreKeyring }},
		{name: "redis without addr", mutate: func(c *Config) { c.TokenStore = StoreRedis }, wantErr: "redis_addr"},
		{name: "negative retries", mutate: func(c *Config) { c.HTTPMaxRetries = -1 }, wantErr: "http_max_retries"},
		{name: "zero timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, wantErr: "request_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInsecure(t *testing.T) {
	assert.True(t, (&Config{BaseURL: "HTTP://meet.local"}).Insecure())
	assert.False(t, (&Config{BaseURL: "https://meet.example"}).Insecure())
}

func TestAsLogConfig(t *testing.T) {
	lc := (&Config{LogLevel: "debug", LogPretty: true}).AsLogConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.Pretty)
	assert.Equal(t, AppName, lc.App)
}

func TestNewClients(t *testing.T) {
	cfg := &Config{HTTPMaxRetries: 2}
	clients, err := cfg.NewClients(nil)
	require.NoError(t, err)
	assert.NotNil(t, clients.Identity)
	assert.NotNil(t, clients.Resource)
}

func TestNewClients_RetryLogsGoThroughZap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	clients, err := (&Config{}).NewClients(zap.New(core))
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/doctors", nil)
	require.NoError(t, err)
	resp, err := clients.Identity.DoWithContext(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()

	failed := logs.FilterMessage("request failed after all retries").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "http_retry", failed[0].LoggerName)
	assert.Equal(t, int64(http.StatusServiceUnavailable), failed[0].ContextMap()["final_status"])
}

func TestOpenStore(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		store, closeFn, err := (&Config{TokenStore: StoreFile, TokenFile: path}).OpenStore(ctx, nil)
		require.NoError(t, err)
		defer closeFn()
		assert.Equal(t, path, store.Location())
	})

	t.Run("keyring", func(t *testing.T) {
		store, closeFn, err := (&Config{TokenStore: StoreKeyring, BaseURL: "https://Meet.Example/"}).OpenStore(ctx, nil)
		require.NoError(t, err)
		defer closeFn()
		assert.Equal(t, "keyring:meetgate/https://meet.example", store.Location())

		rec := tokenstore.NewRecord("A1", "R1", time.Now(), time.Hour)
		require.NoError(t, store.Save(ctx, rec))
		got, ok := store.Load(ctx)
		require.True(t, ok)
		assert.Equal(t, rec, got)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		_, _, err := (&Config{TokenStore: StoreRedis, RedisAddr: "127.0.0.1:1"}).OpenStore(ctx, nil)
		assert.Error(t, err)
	})
}
