package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gopherai-legal/internal/model"
	"gopherai-legal/internal/rag"
)

const keyPrefix = "legal:session:"

// SnapshotCache stores session snapshots in Redis. Keys expire after ttl, refreshed
// on every save and touch, so an abandoned session disappears with its idle timeout.
type SnapshotCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewSnapshotCache(client *redisv9.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func (c *SnapshotCache) Save(ctx context.Context, snap *model.SessionSnapshot) error {
	meta, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot failed: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Set(ctx, c.indexKey(snap.SessionID), snap.Index, c.ttl)
		pipe.Set(ctx, c.metaKey(snap.SessionID), meta, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session snapshot failed: %w", err)
	}
	return nil
}

// Touch pushes the expiry of both keys out by another ttl. Missing keys are not an
// error: a session without uploads has nothing persisted.
func (c *SnapshotCache) Touch(ctx context.Context, sessionID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Expire(ctx, c.indexKey(sessionID), c.ttl)
		pipe.Expire(ctx, c.metaKey(sessionID), c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis touch session snapshot failed: %w", err)
	}
	return nil
}

func (c *SnapshotCache) Load(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	meta, err := c.client.Get(ctx, c.metaKey(sessionID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, fmt.Errorf("%w: %s", rag.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session snapshot failed: %w", err)
	}
	index, err := c.client.Get(ctx, c.indexKey(sessionID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, fmt.Errorf("%w: session %s has metadata but no index", rag.ErrCorrupted, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session index failed: %w", err)
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(meta, &snap); err != nil {
		return nil, fmt.Errorf("%w: unmarshal cached snapshot: %w", rag.ErrCorrupted, err)
	}
	if snap.SessionID == "" {
		snap.SessionID = sessionID
	}
	snap.Index = index
	return &snap, nil
}

func (c *SnapshotCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.metaKey(sessionID), c.indexKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete session snapshot failed: %w", err)
	}
	return nil
}

func (c *SnapshotCache) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := c.client.Scan(ctx, 0, keyPrefix+"*:meta", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), keyPrefix)
		ids = append(ids, strings.TrimSuffix(key, ":meta"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan session snapshots failed: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *SnapshotCache) metaKey(sessionID string) string {
	return keyPrefix + sessionID + ":meta"
}

func (c *SnapshotCache) indexKey(sessionID string) string {
	return keyPrefix + sessionID + ":index"
}
