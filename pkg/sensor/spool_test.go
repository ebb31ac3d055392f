package sensor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ransomeye/core/pkg/envelope"
	"github.com/ransomeye/core/pkg/sensor"
)

func openTestSpool(t *testing.T) *sensor.Spool {
	t.Helper()
	spool, err := sensor.OpenSpool("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { spool.Close() })
	return spool
}

func TestSpool_EnqueueThenOldestRoundTrips(t *testing.T) {
	spool := openTestSpool(t)
	ctx := t.Context()

	evt := envelope.SignedEvent{SignerID: "sensor-1", Sequence: 1}
	require.NoError(t, spool.Enqueue(ctx, evt))

	depth, err := spool.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	events, err := spool.Oldest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sensor-1", events[0].Event.SignerID)
}

func TestSpool_AckRemovesEvent(t *testing.T) {
	spool := openTestSpool(t)
	ctx := t.Context()

	require.NoError(t, spool.Enqueue(ctx, envelope.SignedEvent{SignerID: "sensor-1"}))
	events, err := spool.Oldest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, spool.Ack(ctx, events[0].ID))

	depth, err := spool.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSpool_OldestReturnsFIFOOrder(t *testing.T) {
	spool := openTestSpool(t)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		require.NoError(t, spool.Enqueue(ctx, envelope.SignedEvent{Sequence: uint64(i)}))
		time.Sleep(time.Millisecond)
	}

	events, err := spool.Oldest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(0), events[0].Event.Sequence)
	assert.Equal(t, uint64(1), events[1].Event.Sequence)
	assert.Equal(t, uint64(2), events[2].Event.Sequence)
}
