package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/meetgate/apierr"
	"github.com/go-authgate/meetgate/obs"
	"github.com/go-authgate/meetgate/tokenstore"
)

const (
	tokenPath   = "/auth/token"
	refreshPath = "/auth/refresh-token"
)

// Credentials configure the identity endpoints.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// TokenService issues and renews token records. Its own calls go through a
// SkipAuth executor so they never carry a stale Authorization header and
// never trigger a nested refresh.
type TokenService struct {
	creds Credentials
	store tokenstore.Store
	exec  *Executor
	log   *zap.Logger
	now   func() time.Time

	// group collapses concurrent refreshes when single-flight is enabled.
	group *singleflight.Group
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithSingleFlight makes concurrent Refresh calls against the same store
// location share a single upstream call.
func WithSingleFlight() TokenOption {
	return func(s *TokenService) {
		s.group = &singleflight.Group{}
	}
}

// WithClock overrides the time source used to compute expiry.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(log *zap.Logger) TokenOption {
	return func(s *TokenService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewTokenService returns a service that persists into store and talks to
// the identity endpoints through doer. doer should not retry on its own.
func NewTokenService(creds Credentials, store tokenstore.Store, doer Doer, opts ...TokenOption) *TokenService {
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	s := &TokenService{
		creds: creds,
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.exec = NewExecutor(doer, nil, nil, WithLogger(s.log))
	return s
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    *int64 `json:"expiresIn"`
}

func (r *tokenResponse) lifetime() time.Duration {
	if r.ExpiresIn == nil {
		return tokenstore.DefaultLifetime
	}
	return time.Duration(*r.ExpiresIn) * time.Second
}

// Issue exchanges the configured username and password for a new token
// pair, persists it and returns the access token. It does not retry.
func (s *TokenService) Issue(ctx context.Context) (token string, err error) {
	const op = "issue"
	defer func() { issueTotal.WithLabelValues(resultLabel(err)).Inc() }()
	log := obs.WithTrace(ctx, s.log).With(zap.String("op", op))

	if s.creds.BaseURL == "" {
		return "", apierr.Configuration(op, "base URL is not configured (set MEET_BASE_URL)")
	}
	if s.creds.Username == "" || s.creds.Password == "" {
		return "", apierr.Configuration(op, "credentials are not configured (set MEET_USERNAME and MEET_PASSWORD)")
	}

	resp, err := s.post(ctx, op, tokenPath, map[string]string{
		"username": s.creds.Username,
		"password": s.creds.Password,
	})
	if err != nil {
		log.Error("credential exchange failed", zap.Int("status", apierr.StatusOf(err)), zap.Error(err))
		return "", err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		err := apierr.New(apierr.CodeMalformedResponse, op,
			fmt.Errorf("token response must include accessToken and refreshToken"))
		log.Error("credential exchange returned an incomplete token pair", zap.Error(err))
		return "", err
	}

	rec := tokenstore.NewRecord(resp.AccessToken, resp.RefreshToken, s.now(), resp.lifetime())
	if err := s.store.Save(ctx, rec); err != nil {
		log.Error("failed to persist issued token", zap.String("store", s.store.Location()), zap.Error(err))
		return "", fmt.Errorf("%s: persisting token: %w", op, err)
	}
	log.Info("token issued", zap.Time("expires_at", rec.Expiry()))
	return rec.AccessToken, nil
}

// Refresh renews the stored access token with its refresh token. If the
// server omits a new refresh token the previous one is kept. Any failure
// after the precondition check clears the store.
func (s *TokenService) Refresh(ctx context.Context) (string, error) {
	if s.group == nil {
		return s.refresh(ctx)
	}
	v, err, shared := s.group.Do(s.store.Location(), func() (any, error) {
		return s.refresh(ctx)
	})
	if shared {
		s.log.Debug("joined in-flight token refresh", zap.String("store", s.store.Location()))
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenService) refresh(ctx context.Context) (token string, err error) {
	const op = "refresh"
	log := obs.WithTrace(ctx, s.log).With(zap.String("op", op))

	prev, ok := s.store.Load(ctx)
	if !ok || prev.RefreshToken == "" {
		log.Warn("no refresh token stored", zap.String("store", s.store.Location()))
		return "", apierr.New(apierr.CodeNoRefreshToken, op, nil)
	}
	if s.creds.BaseURL == "" {
		return "", apierr.Configuration(op, "base URL is not configured (set MEET_BASE_URL)")
	}

	defer func() {
		refreshTotal.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			s.discard(ctx, log)
		}
	}()

	resp, err := s.post(ctx, op, refreshPath, map[string]string{"refreshToken": prev.RefreshToken})
	if err != nil {
		log.Error("refresh call failed", zap.Int("status", apierr.StatusOf(err)), zap.Error(err))
		return "", err
	}
	if resp.AccessToken == "" {
		err := apierr.New(apierr.CodeMalformedResponse, op, fmt.Errorf("refresh response has no accessToken"))
		log.Error("refresh returned no access token", zap.Error(err))
		return "", err
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = prev.RefreshToken
	}
	rec := tokenstore.NewRecord(resp.AccessToken, refreshToken, s.now(), resp.lifetime())
	if err := s.store.Save(ctx, rec); err != nil {
		log.Error("failed to persist refreshed token", zap.String("store", s.store.Location()), zap.Error(err))
		return "", fmt.Errorf("%s: persisting token: %w", op, err)
	}
	log.Info("token refreshed",
		zap.Bool("rotated", resp.RefreshToken != ""),
		zap.Time("expires_at", rec.Expiry()),
	)
	return rec.AccessToken, nil
}

// discard removes a record that can no longer be refreshed.
func (s *TokenService) discard(ctx context.Context, log *zap.Logger) {
	if err := s.store.Clear(context.WithoutCancel(ctx)); err != nil {
		log.Error("failed to clear token store", zap.String("store", s.store.Location()), zap.Error(err))
		return
	}
	log.Info("cleared stored token after failed refresh", zap.String("store", s.store.Location()))
}

func (s *TokenService) post(ctx context.Context, op, path string, payload any) (*tokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encoding request: %w", op, err)
	}
	var resp tokenResponse
	err = s.exec.ExecuteJSON(ctx, s.creds.BaseURL+path, Request{
		Method:   http.MethodPost,
		Header:   http.Header{headerContentType: []string{contentTypeJSON}},
		Body:     body,
		SkipAuth: true,
		Op:       op,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
