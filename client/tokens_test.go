package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/meetgate/apierr"
	"github.com/go-authgate/meetgate/tokenstore"
)

func TestIssue_PersistsTokenPair(t *testing.T) {
	identity := newFakeServer(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken":  "A1",
			"refreshToken": "R1",
			"expiresIn":    900,
		})
	})
	store := newStore(t)
	seed(t, store, tokenstore.NewRecord("OLD", "OLD-R", time.Now(), time.Hour))

	svc := NewTokenService(
		Credentials{BaseURL: identity.URL + "/", Username: "+995555000111", Password: "123456"},
		store,
		newDoer(t),
		WithClock(func() time.Time { return fixedNow }),
	)
	before := testutil.ToFloat64(issueTotal.WithLabelValues("ok"))

	token, err := svc.Issue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A1", token)

	reqs := identity.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/auth/token", reqs[0].Path, "trailing slash on base URL is trimmed")
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "application/json", reqs[0].ContentType)
	assert.Empty(t, reqs[0].Authorization, "stored token must not leak into issuance")
	assert.JSONEq(t, `{"username":"+995555000111","password":"123456"}`, reqs[0].Body)

	rec, ok := store.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, &tokenstore.Record{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    fixedNow.UnixMilli() + 900_000,
	}, rec, "issuance overwrites the previous record")
	assert.Equal(t, before+1, testutil.ToFloat64(issueTotal.WithLabelValues("ok")))
}

func TestIssue_DefaultsExpiry(t *testing.T) {
	identity := newFakeServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "A1", "refreshToken": "R1"})
	})
	store := newStore(t)
	svc := NewTokenService(Credentials{BaseURL: identity.URL, Username: "u", Password: "p"}, store, newDoer(t))

	start := time.Now()
	_, err := svc.Issue(context.Background())
	require.NoError(t, err)

	rec, ok := store.Load(context.Background())
	require.True(t, ok)
	expected := start.Add(3600 * time.Second).UnixMilli()
	assert.InDelta(t, expected, rec.ExpiresAt, 100, "expiresAt = issuance + 3600s")
}

func TestIssue_ConfigurationErrors(t *testing.T) {
	identity := newFakeServer(t, unexpected(t, "identity"))

	tests := []struct {
		name  string
		creds Credentials
	}{
		{name: "missing base URL", creds: Credentials{Username: "u", Password: "p"}},
		{name: "missing username", creds: Credentials{BaseURL: identity.URL, Password: "p"}},
		{name: "missing password", creds: Credentials{BaseURL: identity.URL, Username: "u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewTokenService(tt.creds, newStore(t), newDoer(t))
			_, err := svc.Issue(context.Background())
			require.Error(t, err)
			assert.True(t, apierr.IsCode(err, apierr.CodeConfiguration))
		})
	}
	assert.Empty(t, identity.requests())
}

func TestIssue_ResponseFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  func(int, http.ResponseWriter, *http.Request)
		wantCode apierr.Code
		status   int
	}{
		{
			name: "rejected credentials",
			handler: func(_ int, w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid OTP"})
			},
			wantCode: apierr.CodeUpstreamRejected,
			status:   http.StatusUnauthorized,
		},
		{
			name: "server error is not retried",
			handler: func(_ int, w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantCode: apierr.CodeUpstreamRejected,
			status:   http.StatusServiceUnavailable,
		},
		{
			name: "missing refresh token",
			handler: func(_ int, w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"accessToken": "A1", "expiresIn": 60})
			},
			wantCode: apierr.CodeMalformedResponse,
		},
		{
			name: "missing access token",
			handler: func(_ int, w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"refreshToken": "R1"})
			},
			wantCode: apierr.CodeMalformedResponse,
		},
		{
			name: "not json",
			handler: func(_ int, w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte("<html>"))
			},
			wantCode: apierr.CodeMalformedResponse,
			status:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := newFakeServer(t, tt.handler)
			store := newStore(t)
			svc := NewTokenService(Credentials{BaseURL: identity.URL, Username: "u", Password: "p"}, store, newDoer(t))

			_, err := svc.Issue(context.Background())
			require.Error(t, err)
			assert.True(t, apierr.IsCode(err, tt.wantCode), "got %v", err)
			assert.Equal(t, tt.status, apierr.StatusOf(err))
			assert.Len(t, identity.requests(), 1)

			_, ok := store.Load(context.Background())
			assert.False(t, ok, "nothing persisted on failure")
		})
	}
}

func TestIssue_NetworkFailure(t *testing.T) {
	identity := newFakeServer(t, unexpected(t, "identity"))
	identity.Close()

	svc := NewTokenService(Credentials{BaseURL: identity.URL, Username: "u", Password: "p"}, newStore(t), newDoer(t))
	_, err := svc.Issue(context.Background())
	require.Error(t, err)
	assert.True(t, apierr.IsCode(err, apierr.CodeTransport))
}

func TestRefresh_NoRefreshTokenShortCircuits(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty store"},
		{name: "record without refresh token", raw: `{"accessToken":"A1","refreshToken":"","expiresAt":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := newFakeServer(t, unexpected(t, "identity"))
			store := newStore(t)
			if tt.raw != "" {
				writeRaw(t, store, tt.raw)
			}
			svc := NewTokenService(Credentials{BaseURL: identity.URL}, store, newDoer(t))

			_, err := svc.Refresh(context.Background())
			require.Error(t, err)
			assert.True(t, apierr.IsCode(err, apierr.CodeNoRefreshToken))
			assert.Empty(t, identity.requests())

			if tt.raw != "" {
				rec, ok := store.Load(context.Background())
				require.True(t, ok, "storage is not touched")
				assert.Equal(t, "A1", rec.AccessToken)
			}
		})
	}
}

func TestRefresh_RefreshTokenRotation(t *testing.T) {
	tests := []struct {
		name                 string
		responseRefreshToken string
		expectedRefreshToken string
	}{
		{name: "server rotates refresh token", responseRefreshToken: "R2", expectedRefreshToken: "R2"},
		{name: "server keeps refresh token", responseRefreshToken: "", expectedRefreshToken: "R1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := newFakeServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
				resp := map[string]any{"accessToken": "A2", "expiresIn": 120}
				if tt.responseRefreshToken != "" {
					resp["refreshToken"] = tt.responseRefreshToken
				}
				writeJSON(w, http.StatusOK, resp)
			})
			store := newStore(t)
			seed(t, store, &tokenstore.Record{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: 5})

			svc := NewTokenService(Credentials{BaseURL: identity.URL}, store, newDoer(t),
				WithClock(func() time.Time { return fixedNow }))
			token, err := svc.Refresh(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "A2", token)

			rec, ok := store.Load(context.Background())
			require.True(t, ok)
			assert.Equal(t, &tokenstore.Record{
				AccessToken:  "A2",
				RefreshToken: tt.expectedRefreshToken,
				ExpiresAt:    fixedNow.UnixMilli() + 120_000,
			}, rec)
		})
	}
}

func TestRefresh_MissingAccessTokenClearsStore(t *testing.T) {
	identity := newFakeServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"refreshToken": "R2"})
	})
	store := newStore(t)
	seed(t, store, tokenstore.NewRecord("A1", "R1", time.Now(), time.Hour))
	before := testutil.ToFloat64(refreshTotal.WithLabelValues("error"))

	svc := NewTokenService(Credentials{BaseURL: identity.URL}, store, newDoer(t))
	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, apierr.IsCode(err, apierr.CodeMalformedResponse))

	_, ok := store.Load(context.Background())
	assert.False(t, ok)
	assert.Equal(t, before+1, testutil.ToFloat64(refreshTotal.WithLabelValues("error")))
}

// failingSaveStore accepts loads but refuses writes.
type failingSaveStore struct {
	*countingStore
	cleared bool
}

func (f *failingSaveStore) Save(context.Context, *tokenstore.Record) error {
	return errors.New("disk full")
}

func (f *failingSaveStore) Clear(ctx context.Context) error {
	f.cleared = true
	return f.countingStore.Clear(ctx)
}

func TestRefresh_PersistFailureIsRefreshFailure(t *testing.T) {
	identity := newFakeServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "A2"})
	})
	inner := newStore(t)
	seed(t, inner, tokenstore.NewRecord("A1", "R1", time.Now(), time.Hour))
	store := &failingSaveStore{countingStore: inner}

	svc := NewTokenService(Credentials{BaseURL: identity.URL}, store, newDoer(t))
	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, store.cleared)
}

func TestRefresh_SingleFlightCollapsesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	identity := newFakeServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "A2"})
	})
	store := newStore(t)
	seed(t, store, tokenstore.NewRecord("A1", "R1", time.Now(), time.Hour))

	svc := NewTokenService(Credentials{BaseURL: identity.URL}, store, newDoer(t), WithSingleFlight())

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = svc.Refresh(context.Background())
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "A2", tokens[i])
	}
	assert.Len(t, identity.requests(), 1)
}

func TestExecute_ConcurrentCallsWithoutSingleFlightEachSucceed(t *testing.T) {
	var mu sync.Mutex
	valid := map[string]bool{}
	h := newHarness(t,
		func(_ int, w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			ok := valid[r.Header.Get("Authorization")]
			mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		},
		func(n int, w http.ResponseWriter, _ *http.Request) {
			token := "A" + string(rune('a'+n))
			mu.Lock()
			valid["Bearer "+token] = true
			mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": token})
		},
	)
	seed(t, h.store, tokenstore.NewRecord("expired", "R1", time.Now(), time.Hour))

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := h.exec.Execute(context.Background(), h.url("/doctors"), Request{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	refreshes := len(h.identity.requests())
	assert.GreaterOrEqual(t, refreshes, 1)
	assert.LessOrEqual(t, refreshes, callers)
}
