package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/meetgate/tokenstore"
)

var fixedNow = time.UnixMilli(1_760_000_000_000)

func newDoer(t testing.TB) Doer {
	t.Helper()
	c, err := retry.NewClient(retry.WithMaxRetries(0), retry.WithNoLogging())
	require.NoError(t, err)
	return c
}

// seenRequest is what a fake upstream recorded about one call.
type seenRequest struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	RequestID     string
	Header        http.Header
	Body          string
}

func record(r *http.Request) seenRequest {
	body, _ := io.ReadAll(r.Body)
	return seenRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Header:        r.Header.Clone(),
		Body:          string(body),
	}
}

// fakeServer records every request and answers with handle(n, w, r) where
// n is the zero-based call index.
type fakeServer struct {
	*httptest.Server
	mu     sync.Mutex
	seen   []seenRequest
	calls  atomic.Int32
	handle func(n int, w http.ResponseWriter, r *http.Request)
}

func newFakeServer(t testing.TB, handle func(n int, w http.ResponseWriter, r *http.Request)) *fakeServer {
	t.Helper()
	fs := &fakeServer{handle: handle}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(fs.calls.Add(1)) - 1
		seen := record(r)
		fs.mu.Lock()
		fs.seen = append(fs.seen, seen)
		fs.mu.Unlock()
		fs.handle(n, w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) requests() []seenRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]seenRequest(nil), fs.seen...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// countingStore counts Load calls on top of a real store.
type countingStore struct {
	tokenstore.Store
	loads atomic.Int32
}

func (c *countingStore) Load(ctx context.Context) (*tokenstore.Record, bool) {
	c.loads.Add(1)
	return c.Store.Load(ctx)
}

func newStore(t testing.TB) *countingStore {
	t.Helper()
	return &countingStore{Store: tokenstore.NewFileStore(filepath.Join(t.TempDir(), "token.json"), nil)}
}

func seed(t testing.TB, store tokenstore.Store, rec *tokenstore.Record) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), rec))
}

// writeRaw puts content into a file-backed store without validation.
func writeRaw(t testing.TB, store tokenstore.Store, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(store.Location(), []byte(content), 0o600))
}

// recordingObserver keeps the order of executor events.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(ev string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) AccessTokenRejected(endpoint string) { o.add("rejected " + endpoint) }
func (o *recordingObserver) TokenRefreshed()                     { o.add("refreshed") }
func (o *recordingObserver) RefreshFailed(error)                 { o.add("refresh failed") }

func (o *recordingObserver) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}
