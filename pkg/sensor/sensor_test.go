package sensor_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ransomeye/core/pkg/crypto"
	"github.com/ransomeye/core/pkg/envelope"
	"github.com/ransomeye/core/pkg/sensor"
)

func newTestSensor(t *testing.T, ingestURL string) *sensor.Sensor {
	t.Helper()
	signer, err := crypto.NewEventSigner("sensor-test")
	require.NoError(t, err)
	builder := envelope.NewBuilder(signer)
	spool := openTestSpool(t)

	cfg := sensor.Config{
		ComponentID:      "edge_sensor:host-1",
		IngestURL:        ingestURL,
		Watermark:        10,
		EventsPerSecond:  1000,
		Burst:            10,
		DeliveryBatch:    10,
		DeliveryInterval: 10 * time.Millisecond,
	}
	return sensor.New(cfg, builder, spool, nil)
}

func TestSensor_EmitDeliversImmediatelyOnSuccess(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSensor(t, srv.URL)
	result, err := s.Emit(t.Context(), time.Now(), map[string]string{"kind": "process_start"})

	require.NoError(t, err)
	assert.Equal(t, sensor.ResultDelivered, result)
	assert.Equal(t, int64(1), received.Load())
}

func TestSensor_EmitSpoolsOnDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSensor(t, srv.URL)
	result, err := s.Emit(t.Context(), time.Now(), map[string]string{"kind": "process_start"})

	require.NoError(t, err)
	assert.Equal(t, sensor.ResultSpooled, result)
}

func TestSensor_FlushRedeliversSpooledEvents(t *testing.T) {
	failing := true
	var delivered atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSensor(t, srv.URL)
	result, err := s.Emit(t.Context(), time.Now(), map[string]string{"kind": "process_start"})
	require.NoError(t, err)
	require.Equal(t, sensor.ResultSpooled, result)

	failing = false
	n, err := s.Flush(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), delivered.Load())
}

func TestSensor_EmitDropsWhenBackpressureExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	signer, err := crypto.NewEventSigner("sensor-test")
	require.NoError(t, err)
	builder := envelope.NewBuilder(signer)
	spool := openTestSpool(t)

	cfg := sensor.Config{
		ComponentID:     "edge_sensor:host-1",
		IngestURL:       srv.URL,
		Watermark:       0,
		EventsPerSecond: 1000,
		Burst:           10,
	}
	s := sensor.New(cfg, builder, spool, nil)

	result, err := s.Emit(t.Context(), time.Now(), map[string]string{"kind": "x"})
	require.NoError(t, err)
	assert.Equal(t, sensor.ResultDropped, result)
}
