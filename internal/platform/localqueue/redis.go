package localqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPersistence stores the snapshot under a single Redis key, letting several
// terminals in one venue share a queue host.
type RedisPersistence struct {
	client redis.Cmdable
	key    string
}

// NewRedisPersistence returns a persistence keyed by terminal.
func NewRedisPersistence(client redis.Cmdable, terminalID string) *RedisPersistence {
	return &RedisPersistence{client: client, key: snapshotKey(terminalID)}
}

// Load implements Persistence.
func (p *RedisPersistence) Load(ctx context.Context) (Snapshot, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{Version: snapshotVersion}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get failed: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot failed: %w", err)
	}
	return snapshot, nil
}

// Save implements Persistence.
func (p *RedisPersistence) Save(ctx context.Context, snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Clear implements Persistence.
func (p *RedisPersistence) Clear(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func snapshotKey(terminalID string) string {
	if terminalID == "" {
		terminalID = "default"
	}
	return fmt.Sprintf("pos:queue:%s", terminalID)
}
