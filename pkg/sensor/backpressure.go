package sensor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// WatermarkCounter tracks in-flight queue depth against a watermark.
// The local implementation is a single sensor process's own counter;
// RedisWatermarkCounter shares the same watermark across every ingest
// replica emitting through the same backpressure key, so a drop
// decision made by one replica's sensor is visible to the rest.
type WatermarkCounter interface {
	Incr(ctx context.Context) (depth int64, err error)
	Decr(ctx context.Context) error
}

// localWatermarkCounter is an in-process atomic counter, the default
// when no shared Redis counter is configured.
type localWatermarkCounter struct {
	depth atomic.Int64
}

func (c *localWatermarkCounter) Incr(ctx context.Context) (int64, error) {
	return c.depth.Add(1), nil
}

func (c *localWatermarkCounter) Decr(ctx context.Context) error {
	c.depth.Add(-1)
	return nil
}

// RedisWatermarkCounter shares queue depth across replicas via a single
// Redis key, INCR/DECR the way the teacher's token-bucket limiter
// shares rate state across actors in limiter_redis.go.
type RedisWatermarkCounter struct {
	client *redis.Client
	key    string
}

// NewRedisWatermarkCounter builds a shared watermark counter over key
// on the given Redis client.
func NewRedisWatermarkCounter(client *redis.Client, key string) *RedisWatermarkCounter {
	return &RedisWatermarkCounter{client: client, key: key}
}

func (c *RedisWatermarkCounter) Incr(ctx context.Context) (int64, error) {
	depth, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("sensor: redis incr watermark: %w", err)
	}
	return depth, nil
}

func (c *RedisWatermarkCounter) Decr(ctx context.Context) error {
	if err := c.client.Decr(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("sensor: redis decr watermark: %w", err)
	}
	return nil
}

// BackpressureManager admits or drops events against a bounded-queue
// watermark. Once admitted depth exceeds the watermark, every further
// event is dropped and counted until depth falls back below it.
type BackpressureManager struct {
	mu        sync.RWMutex
	watermark int64
	counter   WatermarkCounter
	dropped   atomic.Uint64
}

// NewBackpressureManager builds a manager enforcing watermark over
// counter. A nil counter defaults to an in-process counter.
func NewBackpressureManager(watermark int64, counter WatermarkCounter) *BackpressureManager {
	if counter == nil {
		counter = &localWatermarkCounter{}
	}
	return &BackpressureManager{watermark: watermark, counter: counter}
}

// Admit reports whether a new event may be enqueued. A refusal
// increments the dropped counter — the caller must not enqueue on a
// false result.
func (b *BackpressureManager) Admit(ctx context.Context) bool {
	b.mu.RLock()
	watermark := b.watermark
	b.mu.RUnlock()

	depth, err := b.counter.Incr(ctx)
	if err != nil {
		// Fail closed on a broken shared counter: treat as over
		// watermark rather than risk unbounded admission.
		b.dropped.Add(1)
		return false
	}
	if depth > watermark {
		_ = b.counter.Decr(ctx)
		b.dropped.Add(1)
		return false
	}
	return true
}

// Release returns one admitted slot to the pool after the event has
// been durably spooled or delivered.
func (b *BackpressureManager) Release(ctx context.Context) {
	_ = b.counter.Decr(ctx)
}

// Dropped returns the cumulative number of events refused admission.
func (b *BackpressureManager) Dropped() uint64 {
	return b.dropped.Load()
}
