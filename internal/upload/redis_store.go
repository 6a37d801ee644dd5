package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix    = "upload:session:"
	redisMaxTxRetries = 16
)

// RedisStore keeps each session as a JSON value with a key TTL, so expiry is
// handled by Redis and several server instances can share sessions.
type RedisStore struct {
	client    *redis.Client
	retention Retention
	now       func() time.Time
}

var _ SessionStore = (*RedisStore)(nil)

// NewRedisStore wires a connected client.
func NewRedisStore(client *redis.Client, r Retention) *RedisStore {
	return &RedisStore{client: client, retention: r, now: time.Now}
}

func redisKey(id SessionID) string {
	return redisKeyPrefix + string(id)
}

// Put implements SessionStore.Put.
func (r *RedisStore) Put(ctx context.Context, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(s.ID), b, r.retention.ttl(s, r.now())).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get implements SessionStore.Get.
func (r *RedisStore) Get(ctx context.Context, id SessionID) (Session, error) {
	b, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("redis get: %w", err)
	}
	return decodeSession(b)
}

// Update implements SessionStore.Update with an optimistic WATCH/MULTI
// transaction, retried when another writer touched the key first.
func (r *RedisStore) Update(ctx context.Context, id SessionID, fn func(s *Session) error) (Session, error) {
	key := redisKey(id)
	var next Session

	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("redis get: %w", err)
		}
		prev, err := decodeSession(b)
		if err != nil {
			return err
		}
		next = prev
		if err := fn(&next); err != nil {
			return err
		}
		if err := checkTransition(prev, next); err != nil {
			return err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.retention.ttl(next, r.now()))
			return nil
		})
		return err
	}

	for range redisMaxTxRetries {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Session{}, err
	}
	return Session{}, fmt.Errorf("update session %s: too much contention", id)
}

// Delete implements SessionStore.Delete.
func (r *RedisStore) Delete(ctx context.Context, id SessionID) error {
	if err := r.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func decodeSession(b []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}
