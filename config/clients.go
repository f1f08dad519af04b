package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/go-authgate/meetgate/obs"
	"github.com/go-authgate/meetgate/tokenstore"
)

// Clients holds the two outbound HTTP clients. Identity never retries on its
// own so credential issuance and refresh happen exactly once per call.
type Clients struct {
	Identity *retry.Client
	Resource *retry.Client
}

// NewHTTPClient returns the shared base client: TLS 1.2 minimum and an
// OpenTelemetry-instrumented transport.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// NewClients builds both clients over one transport. Retry attempts are
// logged through log; a nil log discards them.
func (c *Config) NewClients(log *zap.Logger) (*Clients, error) {
	base := NewHTTPClient()
	retryLog := obs.RetryLogger(log)

	identity, err := retry.NewClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(0),
		retry.WithLogger(retryLog),
	)
	if err != nil {
		return nil, fmt.Errorf("creating identity client: %w", err)
	}

	resource, err := retry.NewClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(c.HTTPMaxRetries),
		retry.WithLogger(retryLog),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource client: %w", err)
	}
	return &Clients{Identity: identity, Resource: resource}, nil
}

// OpenStore returns the configured token store and a func that releases
// anything it holds open.
func (c *Config) OpenStore(ctx context.Context, log *zap.Logger) (tokenstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.TokenStore {
	case StoreFile:
		return tokenstore.NewFileStore(c.TokenFile, log), noop, nil

	case StoreKeyring:
		// One entry per upstream, so switching base URLs never reuses a token.
		key := c.BaseURL
		if key == "" {
			key = "default"
		}
		return tokenstore.NewKeyringStore(key, log), noop, nil

	case StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, noop, fmt.Errorf("connecting to redis at %s: %w", c.RedisAddr, err)
		}
		return tokenstore.NewRedisStore(rdb, c.RedisKey, log), rdb.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown token_store %q", c.TokenStore)
}
