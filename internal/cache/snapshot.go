package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/marketchat/internal/models"
)

// Snapshots stores the last reconciled timeline per conversation so a
// remounted session can render immediately while its first refresh is in
// flight. A nil redis client turns every call into a no-op.
type Snapshots struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
}

func New(cli *redis.Client, prefix string, ttl time.Duration) *Snapshots {
	if prefix == "" {
		prefix = "marketchat"
	}
	return &Snapshots{cli: cli, prefix: prefix, ttl: ttl}
}

func (s *Snapshots) key(conversationID string) string {
	return s.prefix + ":timeline:" + conversationID
}

func (s *Snapshots) Put(ctx context.Context, conversationID string, timeline []models.Message) error {
	if s == nil || s.cli == nil {
		return nil
	}
	b, err := json.Marshal(timeline)
	if err != nil {
		return err
	}
	return s.cli.Set(ctx, s.key(conversationID), b, s.ttl).Err()
}

// Get returns the cached timeline, or nil on a miss.
func (s *Snapshots) Get(ctx context.Context, conversationID string) ([]models.Message, error) {
	if s == nil || s.cli == nil {
		return nil, nil
	}
	b, err := s.cli.Get(ctx, s.key(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var timeline []models.Message
	if err := json.Unmarshal(b, &timeline); err != nil {
		return nil, err
	}
	return timeline, nil
}
