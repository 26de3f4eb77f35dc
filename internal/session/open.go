package session

import (
	"fmt"
	"path/filepath"

	"github.com/whisper/chat-client/internal/config"
)

// Open creates the token store selected by cfg.Store.
func Open(cfg config.Config) (TokenStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StorePebble:
		return OpenPebbleStore(filepath.Join(cfg.DataDir, "tokens"), cfg.Profile)
	case config.StoreRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.Profile, cfg.TokenTTL)
	default:
		return nil, fmt.Errorf("session: unknown store %q", cfg.Store)
	}
}
