package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Source reads entries from an events stream.
type Source interface {
	// Read returns entries after lastID, blocking up to block when none
	// are available. A timeout returns no entries and no error.
	Read(ctx context.Context, key, lastID string, block time.Duration, count int64) ([]goredis.XMessage, error)

	// LastID returns the id of the newest entry, or "0-0" for an empty
	// stream.
	LastID(ctx context.Context, key string) (string, error)
}

// redisSource reads a stream with XREAD BLOCK.
type redisSource struct {
	client goredis.UniversalClient
}

var _ Source = redisSource{}

func (s redisSource) Read(ctx context.Context, key, lastID string, block time.Duration, count int64) ([]goredis.XMessage, error) {
	streams, err := s.client.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{key, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strand/event: xread: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

func (s redisSource) LastID(ctx context.Context, key string) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("strand/event: xrevrange: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}
