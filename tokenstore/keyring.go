package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const keyringService = "meetgate"

// KeyringStore keeps the record in the OS keyring. The keyring replaces an
// entry in a single call, which gives the same all-or-nothing visibility as
// the file store's rename.
type KeyringStore struct {
	key string
	log *zap.Logger
}

// NewKeyringStore stores the record under key, normalized the same way for
// every caller so trailing slashes or case do not create duplicates.
func NewKeyringStore(key string, log *zap.Logger) *KeyringStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyringStore{key: normalizeKey(key), log: log}
}

func normalizeKey(key string) string {
	s := strings.TrimSpace(key)
	s = strings.TrimRight(s, "/")
	return strings.ToLower(s)
}

func (s *KeyringStore) Location() string {
	return "keyring:" + keyringService + "/" + s.key
}

func (s *KeyringStore) Load(_ context.Context) (*Record, bool) {
	secret, err := keyring.Get(keyringService, s.key)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			s.log.Warn("keyring unreadable, treating token as absent", zap.Error(err))
		}
		return nil, false
	}
	rec := decodeRecord([]byte(secret))
	if rec == nil {
		s.log.Warn("keyring token corrupt, treating as absent", zap.String("key", s.key))
		return nil, false
	}
	return rec, true
}

func (s *KeyringStore) Save(_ context.Context, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := keyring.Set(keyringService, s.key, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}
	return nil
}

func (s *KeyringStore) Clear(_ context.Context) error {
	if err := keyring.Delete(keyringService, s.key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}
