package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStore persists tokens in a PebbleDB directory so a sign-in survives
// restarts of the client. Keys are "<profile>/access_token" and
// "<profile>/refresh_token".
type PebbleStore struct {
	db      *pebble.DB
	profile string
}

// OpenPebbleStore opens (creating if needed) the store at dir.
func OpenPebbleStore(dir, profile string) (*PebbleStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create data dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("session: open pebble: %w", err)
	}
	return &PebbleStore{db: db, profile: profile}, nil
}

func (s *PebbleStore) key(name string) []byte {
	return []byte(s.profile + "/" + name)
}

func (s *PebbleStore) read(name string) (string, error) {
	data, closer, err := s.db.Get(s.key(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer closer.Close()
	return string(data), nil
}

// Get reads both tokens.
func (s *PebbleStore) Get(ctx context.Context) (Tokens, bool, error) {
	access, err := s.read(KeyAccessToken)
	if err != nil {
		return Tokens{}, false, fmt.Errorf("session: get access token: %w", err)
	}
	refresh, err := s.read(KeyRefreshToken)
	if err != nil {
		return Tokens{}, false, fmt.Errorf("session: get refresh token: %w", err)
	}
	tokens := Tokens{AccessToken: access, RefreshToken: refresh}
	return tokens, access != "", nil
}

// Set writes both tokens in one synced batch.
func (s *PebbleStore) Set(ctx context.Context, tokens Tokens) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(s.key(KeyAccessToken), []byte(tokens.AccessToken), nil); err != nil {
		return fmt.Errorf("session: set tokens: %w", err)
	}
	if err := b.Set(s.key(KeyRefreshToken), []byte(tokens.RefreshToken), nil); err != nil {
		return fmt.Errorf("session: set tokens: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("session: set tokens: %w", err)
	}
	return nil
}

// Remove deletes both tokens.
func (s *PebbleStore) Remove(ctx context.Context) error {
	b := s.db.NewBatch()
	defer b.Close()
	_ = b.Delete(s.key(KeyAccessToken), nil)
	_ = b.Delete(s.key(KeyRefreshToken), nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("session: remove tokens: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
