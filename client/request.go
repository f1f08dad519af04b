// Package client performs authenticated calls against the meet API.
//
// An Executor attaches the stored bearer token to every call and, when the
// API answers 401, asks its Refresher for a new token and replays the call
// once. TokenService is the Refresher: it exchanges credentials or a refresh
// token at the identity endpoints and persists the result in a
// tokenstore.Store.
package client

import (
	"context"
	"net/http"
	"net/url"
)

// Doer sends one HTTP request. *retry.Client from go-httpretry satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Refresher renews the stored access token and returns the new one.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Request describes one logical call. Body is replayed verbatim if the call
// is retried after a refresh.
type Request struct {
	Method string
	Header http.Header
	Body   []byte

	// SkipAuth bypasses the token store entirely: no Authorization header
	// is attached and a 401 is returned to the caller as is.
	SkipAuth bool

	// Op names the operation in logs and errors. Defaults to "execute".
	Op string
}

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerRequestID     = "X-Request-ID"

	contentTypeJSON = "application/json"
)

func (r Request) op() string {
	if r.Op == "" {
		return "execute"
	}
	return r.Op
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// endpointOf strips scheme, host, credentials and query so the value is
// safe to log.
func endpointOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
