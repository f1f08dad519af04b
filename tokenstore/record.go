// Package tokenstore persists the single access/refresh token record used to
// authenticate calls to the meet API.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultLifetime is assumed when the identity endpoint omits expiresIn.
const DefaultLifetime = 3600 * time.Second

// ErrInvalidRecord is returned by Save when a record lacks a token.
var ErrInvalidRecord = errors.New("token record requires access and refresh tokens")

// Record is the persisted token triple. ExpiresAt is milliseconds since the
// Unix epoch.
type Record struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// NewRecord builds a record whose expiry is issuedAt plus lifetime. A
// non-positive lifetime falls back to DefaultLifetime.
func NewRecord(accessToken, refreshToken string, issuedAt time.Time, lifetime time.Duration) *Record {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Record{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    issuedAt.Add(lifetime).UnixMilli(),
	}
}

// Expiry returns ExpiresAt as a time.Time.
func (r *Record) Expiry() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

// Expired reports whether the access token is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.Expiry())
}

// Validate checks the invariants every persisted record must hold.
func (r *Record) Validate() error {
	if r == nil || r.AccessToken == "" || r.RefreshToken == "" {
		return ErrInvalidRecord
	}
	return nil
}

// OAuth2 converts the record to an oauth2 bearer token.
func (r *Record) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.Expiry(),
	}
}

// decodeRecord parses persisted bytes. Anything that does not describe a
// usable record yields nil.
func decodeRecord(data []byte) *Record {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	if rec.AccessToken == "" {
		return nil
	}
	return &rec
}

func encodeRecord(rec *Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token record: %w", err)
	}
	return data, nil
}

// Store holds at most one Record.
//
// Load never fails: a missing, unreadable or corrupt record is reported as
// absent so that callers re-authenticate. Save and Clear return storage
// errors to the caller. Implementations must make Save and Clear atomic with
// respect to concurrent Load calls.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context) (*Record, bool)
	Clear(ctx context.Context) error
	// Location identifies the backing storage, e.g. a file path.
	Location() string
}

// TokenSource adapts a Store to oauth2.TokenSource. It returns the stored
// token as is and never refreshes it.
func TokenSource(ctx context.Context, store Store) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: store}
}

type storeTokenSource struct {
	ctx   context.Context
	store Store
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	rec, ok := s.store.Load(s.ctx)
	if !ok {
		return nil, fmt.Errorf("no token stored at %s", s.store.Location())
	}
	return rec.OAuth2(), nil
}
