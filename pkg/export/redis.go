package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glancesec/glance/pkg/flow"
)

// redisWriteTimeout bounds how long enforcement can be held up by a slow
// Redis backend. Persistence failure never changes a decision.
const redisWriteTimeout = 2 * time.Second

// RedisSink mirrors records into Redis streams, one stream key per record
// stream, for operators aggregating several interception sessions.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects and verifies the backend is reachable.
func NewRedisSink(addr, prefix string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "glance"
	}
	return &RedisSink{client: client, prefix: prefix}, nil
}

func (s *RedisSink) Write(rec flow.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(rec.Stream),
		Values: map[string]interface{}{
			"id":     rec.ID,
			"host":   rec.Host,
			"record": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.streamKey(rec.Stream), err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) streamKey(stream flow.Stream) string {
	return s.prefix + ":" + string(stream)
}
