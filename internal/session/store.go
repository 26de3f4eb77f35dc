package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TokenPrefix is the Redis key prefix for all token hashes.
	TokenPrefix = "token:"

	// DefaultTokenTTL is used when the store is created with a zero TTL.
	DefaultTokenTTL = 24 * time.Hour
)

// RedisStore keeps the tokens of one profile in a Redis hash so several
// client processes can share a sign-in.
type RedisStore struct {
	client  *redis.Client
	profile string
	ttl     time.Duration
}

// NewRedisStore creates a token store connected to Redis.
func NewRedisStore(redisAddr, profile string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewRedisStoreWithClient(client, profile, ttl), nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, profile string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &RedisStore{client: client, profile: profile, ttl: ttl}
}

func (s *RedisStore) key() string {
	return TokenPrefix + s.profile
}

// Get reads the token hash. A missing hash is reported as ok == false.
func (s *RedisStore) Get(ctx context.Context) (Tokens, bool, error) {
	var tokens Tokens
	if err := s.client.HGetAll(ctx, s.key()).Scan(&tokens); err != nil {
		return Tokens{}, false, fmt.Errorf("session: get tokens: %w", err)
	}
	return tokens, tokens.AccessToken != "", nil
}

// Set stores both tokens and refreshes the TTL.
func (s *RedisStore) Set(ctx context.Context, tokens Tokens) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.key(), map[string]interface{}{
		KeyAccessToken:  tokens.AccessToken,
		KeyRefreshToken: tokens.RefreshToken,
		"updated_at":    time.Now().Unix(),
	})
	pipe.Expire(ctx, s.key(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: set tokens: %w", err)
	}
	return nil
}

// Remove deletes the token hash.
func (s *RedisStore) Remove(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("session: remove tokens: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
