package monitor

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamAdder is the part of the redis client the sink uses
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends every episode to a redis stream
type RedisSink struct {
	client StreamAdder
	stream string
	runID  string
}

var _ Sink = &RedisSink{}

func NewRedisSink(client StreamAdder, stream, runID string) *RedisSink {
	return &RedisSink{
		client: client,
		stream: stream,
		runID:  runID,
	}
}

// DialRedisSink connects to the redis server at addr
func DialRedisSink(ctx context.Context, addr, stream, runID string) (*RedisSink, func() error, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisSink(cli, stream, runID), cli.Close, nil
}

func (r *RedisSink) Record(ctx context.Context, ep Episode) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"run_id": r.runID,
			"r":      ep.Return,
			"l":      ep.Length,
			"t":      ep.Time,
		},
	}).Err()
}
