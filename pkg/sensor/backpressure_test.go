package sensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ransomeye/core/pkg/sensor"
)

func TestBackpressureManager_AdmitsUnderWatermark(t *testing.T) {
	mgr := sensor.NewBackpressureManager(2, nil)
	ctx := t.Context()

	assert.True(t, mgr.Admit(ctx))
	assert.True(t, mgr.Admit(ctx))
	assert.Equal(t, uint64(0), mgr.Dropped())
}

func TestBackpressureManager_DropsOverWatermark(t *testing.T) {
	mgr := sensor.NewBackpressureManager(1, nil)
	ctx := t.Context()

	require.True(t, mgr.Admit(ctx))
	assert.False(t, mgr.Admit(ctx))
	assert.Equal(t, uint64(1), mgr.Dropped())
}

func TestBackpressureManager_ReleaseFreesASlot(t *testing.T) {
	mgr := sensor.NewBackpressureManager(1, nil)
	ctx := t.Context()

	require.True(t, mgr.Admit(ctx))
	mgr.Release(ctx)
	assert.True(t, mgr.Admit(ctx))
}
