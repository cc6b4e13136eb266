package evidence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix = "canary:"
	redisNonceSet  = "canary:nonces"
)

// RedisStore is the key-value evidence backend: canary:<nonce>:<kind> holds
// the artifact JSON, and a sorted set tracks nonces that have a plan so
// LatestNonce stays O(log n). Same layout semantics as the filesystem store.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ctx: context.Background()}
}

// NewNonce mints a time-ordered nonce.
func (s *RedisStore) NewNonce() string {
	return NewNonce(time.Now())
}

// LatestNonce reads the lexicographically greatest nonce with a plan. All
// members share score zero, so sorted-set order is lexical order.
func (s *RedisStore) LatestNonce() (string, bool) {
	nonces, err := s.client.ZRevRange(s.ctx, redisNonceSet, 0, 0).Result()
	if err != nil || len(nonces) == 0 {
		return "", false
	}
	return nonces[0], true
}

// Read decodes an artifact; false on absence or corruption.
func (s *RedisStore) Read(nonce string, kind Kind, out any) bool {
	data, err := s.client.Get(s.ctx, s.Location(nonce, kind)).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn().Str("nonce", nonce).Str("kind", string(kind)).Err(err).
			Msg("Corrupt evidence artifact, treating as unknown")
		return false
	}
	return true
}

// Write stores the artifact. SET is atomic per key, which gives the same
// no-partial-read guarantee the filesystem store gets from rename.
func (s *RedisStore) Write(nonce string, kind Kind, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := s.client.Set(s.ctx, s.Location(nonce, kind), data, 0).Err(); err != nil {
		return err
	}
	if kind == KindPlan {
		if err := s.client.ZAdd(s.ctx, redisNonceSet, &redis.Z{Score: 0, Member: nonce}).Err(); err != nil {
			return err
		}
	}
	return nil
}

// NonceRoot returns the key prefix for a nonce.
func (s *RedisStore) NonceRoot(nonce string) string {
	return redisKeyPrefix + nonce
}

// Location returns the artifact key.
func (s *RedisStore) Location(nonce string, kind Kind) string {
	return redisKeyPrefix + nonce + ":" + string(kind)
}
