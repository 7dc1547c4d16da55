package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionsKey   = "licensed:admin_sessions"
	sessionPrefix = "licensed:session:"
)

// RedisStore keeps sessions in Redis so several server processes can share
// admin logins. A sorted set bounds how many sessions stay alive.
type RedisStore struct {
	client      *redis.Client
	maxSessions int
}

func NewRedisStore(client *redis.Client, maxSessions int) *RedisStore {
	return &RedisStore{client: client, maxSessions: maxSessions}
}

func DialRedis(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func (r *RedisStore) Put(ctx context.Context, s Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", s.ID)
	}
	key := sessionPrefix + s.ID

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "created_at", s.CreatedAt.Unix(), "expires_at", s.ExpiresAt.Unix())
	pipe.Expire(ctx, key, ttl)
	pipe.ZAdd(ctx, sessionsKey, redis.Z{Score: float64(s.CreatedAt.UnixNano()), Member: s.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return r.evictOverflow(ctx)
}

// evictOverflow drops the oldest sessions beyond maxSessions.
func (r *RedisStore) evictOverflow(ctx context.Context) error {
	stale, err := r.client.ZRange(ctx, sessionsKey, 0, -int64(r.maxSessions)-1).Result()
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, id := range stale {
		pipe.Del(ctx, sessionPrefix+id)
		pipe.ZRem(ctx, sessionsKey, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	vals, err := r.client.HGetAll(ctx, sessionPrefix+id).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return Session{}, ErrUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	var created, expires int64
	if _, err := fmt.Sscan(vals["created_at"], &created); err != nil {
		return Session{}, ErrUnauthorized
	}
	if _, err := fmt.Sscan(vals["expires_at"], &expires); err != nil {
		return Session{}, ErrUnauthorized
	}
	return Session{ID: id, CreatedAt: time.Unix(created, 0).UTC(), ExpiresAt: time.Unix(expires, 0).UTC()}, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionPrefix+id)
	pipe.ZRem(ctx, sessionsKey, id)
	_, err := pipe.Exec(ctx)
	return err
}
