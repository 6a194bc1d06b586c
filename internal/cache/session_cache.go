// Package cache keeps recently used session records in Redis in front of the
// durable session store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"inspectline/internal/domain"
	"inspectline/internal/logger"
)

type SessionCache interface {
	Set(ctx context.Context, rec domain.SessionRecord) error
	// Get reports ok=false on a miss.
	Get(ctx context.Context, id string) (rec domain.SessionRecord, ok bool, err error)
	Delete(ctx context.Context, id string) error
}

type sessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client, ttl time.Duration) SessionCache {
	return &sessionCache{client: client, ttl: ttl}
}

func key(id string) string { return "inspectline:session:" + id }

func (c *sessionCache) Set(ctx context.Context, rec domain.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(rec.SessionID), data, c.ttl).Err()
}

func (c *sessionCache) Get(ctx context.Context, id string) (domain.SessionRecord, bool, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionRecord{}, false, nil
	}
	if err != nil {
		return domain.SessionRecord{}, false, err
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("decode cached session %s: %w", id, err)
	}
	return rec, true, nil
}

func (c *sessionCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, key(id)).Err()
}

// Store is the durable session store behind the cache.
type Store interface {
	Load(ctx context.Context, sessionID string) (domain.SessionRecord, error)
	Save(ctx context.Context, rec domain.SessionRecord) error
}

// CachedStore reads through and writes through the cache. Cache failures are
// logged and never fail the operation; the durable store stays authoritative.
type CachedStore struct {
	Store Store
	Cache SessionCache
	Log   *logger.Logger
}

func (s CachedStore) Load(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	rec, ok, err := s.Cache.Get(ctx, sessionID)
	if err != nil {
		s.warn("session cache read failed", sessionID, err)
	}
	if ok {
		return rec, nil
	}
	rec, err = s.Store.Load(ctx, sessionID)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	if err := s.Cache.Set(ctx, rec); err != nil {
		s.warn("session cache fill failed", sessionID, err)
	}
	return rec, nil
}

func (s CachedStore) Save(ctx context.Context, rec domain.SessionRecord) error {
	if err := s.Store.Save(ctx, rec); err != nil {
		// The stored record may or may not have changed; drop the cached copy.
		if derr := s.Cache.Delete(ctx, rec.SessionID); derr != nil {
			s.warn("session cache evict failed", rec.SessionID, derr)
		}
		return err
	}
	if err := s.Cache.Set(ctx, rec); err != nil {
		s.warn("session cache write failed", rec.SessionID, err)
		if derr := s.Cache.Delete(ctx, rec.SessionID); derr != nil {
			s.warn("session cache evict failed", rec.SessionID, derr)
		}
	}
	return nil
}

func (s CachedStore) warn(msg, sessionID string, err error) {
	if s.Log != nil {
		s.Log.Warn(msg, "session", sessionID, "error", err)
	}
}
