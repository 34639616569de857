package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dirtySetKey = "activeUrls"
)

func clicksKey(urlID string) string           { return "clicks:" + urlID }
func clickCountKey(urlID string) string       { return "clickCount:" + urlID }
func uniqueCountKey(urlID string) string      { return "uniqueCount:" + urlID }
func uniqueMarkerKey(urlID, ip string) string { return "unique:" + urlID + ":" + ip }

// BufferedClick is one serialized click waiting for the flusher.
type BufferedClick struct {
	URLID     string
	IPAddress string
	Payload   string
}

// BufferDrain is everything taken out of the buffer for one URL in a single transaction.
type BufferDrain struct {
	URLID  string
	Events []string
	Clicks int64
	Unique int64
}

// ClickBuffer keeps unflushed clicks in Redis: a list per URL, pending and unique counters,
// per-IP uniqueness markers and the set of dirty URLs.
type ClickBuffer interface {
	// Append buffers clicks and reports, per click, whether it was the first from its IP within the window.
	Append(ctx context.Context, clicks []BufferedClick, uniqueWindow time.Duration) ([]bool, error)
	PopDirty(ctx context.Context) ([]string, error)
	Drain(ctx context.Context, urlID string) (*BufferDrain, error)
	Restore(ctx context.Context, drain *BufferDrain) error
	Pending(ctx context.Context, urlID string) (int64, error)
}

type clickBuffer struct {
	redis *RedisDB
}

func NewClickBuffer(redis *RedisDB) ClickBuffer {
	return &clickBuffer{redis: redis}
}

func (b *clickBuffer) Append(ctx context.Context, clicks []BufferedClick, uniqueWindow time.Duration) ([]bool, error) {
	unique := make([]bool, len(clicks))
	if len(clicks) == 0 {
		return unique, nil
	}

	// SET NX EX is the only uniqueness primitive; repeated IPs inside one batch lose to the first.
	markers := make([]*redis.BoolCmd, len(clicks))
	_, err := b.redis.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, c := range clicks {
			if c.IPAddress == "" {
				continue
			}
			markers[i] = pipe.SetNX(ctx, uniqueMarkerKey(c.URLID, c.IPAddress), 1, uniqueWindow)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set unique markers: %w", err)
	}
	for i, cmd := range markers {
		if cmd != nil {
			unique[i] = cmd.Val()
		}
	}

	_, err = b.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, c := range clicks {
			pipe.RPush(ctx, clicksKey(c.URLID), c.Payload)
			pipe.Incr(ctx, clickCountKey(c.URLID))
			if unique[i] {
				pipe.Incr(ctx, uniqueCountKey(c.URLID))
			}
			pipe.SAdd(ctx, dirtySetKey, c.URLID)
		}
		return nil
	})
	if err != nil {
		return unique, fmt.Errorf("failed to buffer clicks: %w", err)
	}

	return unique, nil
}

// PopDirty atomically takes every dirty URL id, so URLs dirtied during a sweep land in the next one.
func (b *clickBuffer) PopDirty(ctx context.Context) ([]string, error) {
	var members *redis.StringSliceCmd
	_, err := b.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, dirtySetKey)
		pipe.Del(ctx, dirtySetKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop dirty urls: %w", err)
	}
	return members.Val(), nil
}

func (b *clickBuffer) Drain(ctx context.Context, urlID string) (*BufferDrain, error) {
	var (
		events *redis.StringSliceCmd
		clicks *redis.StringCmd
		unique *redis.StringCmd
	)
	_, err := b.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		events = pipe.LRange(ctx, clicksKey(urlID), 0, -1)
		clicks = pipe.Get(ctx, clickCountKey(urlID))
		unique = pipe.Get(ctx, uniqueCountKey(urlID))
		pipe.Del(ctx, clicksKey(urlID), clickCountKey(urlID), uniqueCountKey(urlID))
		return nil
	})
	// a missing counter makes EXEC report redis.Nil for that command only
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to drain clicks for %s: %w", urlID, err)
	}

	drain := &BufferDrain{URLID: urlID, Events: events.Val()}
	if drain.Clicks, err = counterValue(clicks); err != nil {
		return nil, err
	}
	if drain.Unique, err = counterValue(unique); err != nil {
		return nil, err
	}
	return drain, nil
}

// Restore puts a drained buffer back after a failed flush.
func (b *clickBuffer) Restore(ctx context.Context, drain *BufferDrain) error {
	_, err := b.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(drain.Events) > 0 {
			values := make([]interface{}, len(drain.Events))
			for i, e := range drain.Events {
				values[i] = e
			}
			pipe.RPush(ctx, clicksKey(drain.URLID), values...)
		}
		if drain.Clicks > 0 {
			pipe.IncrBy(ctx, clickCountKey(drain.URLID), drain.Clicks)
		}
		if drain.Unique > 0 {
			pipe.IncrBy(ctx, uniqueCountKey(drain.URLID), drain.Unique)
		}
		pipe.SAdd(ctx, dirtySetKey, drain.URLID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to restore clicks for %s: %w", drain.URLID, err)
	}
	return nil
}

// Pending returns clicks recorded but not yet flushed.
func (b *clickBuffer) Pending(ctx context.Context, urlID string) (int64, error) {
	n, err := b.redis.Client.Get(ctx, clickCountKey(urlID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get pending clicks for %s: %w", urlID, err)
	}
	return n, nil
}

func counterValue(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to parse counter: %w", err)
	}
	return n, nil
}
