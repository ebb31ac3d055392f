// Package sensor implements the edge delivery harness every sensor
// (Linux host agent, DPI probe) uses to get an extracted record safely
// to the ingest endpoint: envelope construction and signing, a local
// durable spool, backpressure, rate limiting, and a tamper watchdog.
// It does not capture telemetry itself — callers supply already
// extracted records.
package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ransomeye/core/pkg/envelope"
)

// Config bounds a Sensor's backpressure watermark, rate limit, and
// delivery target.
type Config struct {
	ComponentID      string
	IngestURL        string
	Watermark        int64
	EventsPerSecond  float64
	Burst            int
	DeliveryBatch    int
	DeliveryInterval time.Duration
}

// Sensor builds, spools, rate-limits, and delivers signed events.
type Sensor struct {
	cfg     Config
	builder *envelope.Builder
	spool   *Spool
	backp   *BackpressureManager
	limiter *RateLimiter
	client  *http.Client

	rateDropped atomic.Uint64
}

// New builds a Sensor. counter may be nil for a single-process
// in-memory watermark; pass a RedisWatermarkCounter to share backpressure
// state across replicas.
func New(cfg Config, builder *envelope.Builder, spool *Spool, counter WatermarkCounter) *Sensor {
	return &Sensor{
		cfg:     cfg,
		builder: builder,
		spool:   spool,
		backp:   NewBackpressureManager(cfg.Watermark, counter),
		limiter: NewRateLimiter(cfg.EventsPerSecond, cfg.Burst),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Result describes what happened to one Emit call.
type Result string

const (
	ResultDelivered Result = "delivered"
	ResultSpooled   Result = "spooled"
	ResultDropped   Result = "dropped"
)

// Emit builds and signs an envelope around data, then either delivers
// it immediately or durably spools it for the delivery loop to retry.
// An event refused by the rate limiter or backpressure manager is
// dropped (counted) rather than blocking the caller indefinitely.
func (s *Sensor) Emit(ctx context.Context, timestamp time.Time, data interface{}) (Result, error) {
	if !s.limiter.Allow() {
		s.rateDropped.Add(1)
		return ResultDropped, nil
	}
	if !s.backp.Admit(ctx) {
		return ResultDropped, nil
	}
	defer s.backp.Release(ctx)

	env := envelope.NewEnvelope(s.cfg.ComponentID, timestamp, data)
	signed, err := s.builder.Build(env)
	if err != nil {
		return "", fmt.Errorf("sensor: build envelope: %w", err)
	}

	if err := s.deliver(ctx, signed); err == nil {
		return ResultDelivered, nil
	}

	if err := s.spool.Enqueue(ctx, signed); err != nil {
		return "", fmt.Errorf("sensor: spool after delivery failure: %w", err)
	}
	return ResultSpooled, nil
}

func (s *Sensor) deliver(ctx context.Context, signed envelope.SignedEvent) error {
	raw, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("sensor: marshal signed event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.IngestURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("sensor: build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sensor: delivery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sensor: ingest endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Flush attempts redelivery of every spooled event, oldest first,
// acknowledging (removing) each one that succeeds. It stops at the
// first delivery failure so the spool preserves arrival order rather
// than reordering around a persistently failing event.
func (s *Sensor) Flush(ctx context.Context) (delivered int, err error) {
	events, err := s.spool.Oldest(ctx, s.cfg.DeliveryBatch)
	if err != nil {
		return 0, fmt.Errorf("sensor: read spool: %w", err)
	}

	for _, se := range events {
		if err := s.deliver(ctx, se.Event); err != nil {
			return delivered, nil
		}
		if err := s.spool.Ack(ctx, se.ID); err != nil {
			return delivered, fmt.Errorf("sensor: ack delivered event %d: %w", se.ID, err)
		}
		delivered++
	}
	return delivered, nil
}

// RunDeliveryLoop blocks, calling Flush on cfg.DeliveryInterval, until
// stop is closed.
func (s *Sensor) RunDeliveryLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.DeliveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Flush(ctx)
		}
	}
}

// Dropped returns the cumulative number of events refused admission by
// backpressure or the rate limiter's Allow path.
func (s *Sensor) Dropped() uint64 {
	return s.backp.Dropped() + s.rateDropped.Load()
}
