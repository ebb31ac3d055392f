package sensor_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ransomeye/core/pkg/sensor"
)

func writeTempBinary(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestWatchdog_TripsOnIntegrityMismatch(t *testing.T) {
	dir := t.TempDir()
	binPath := writeTempBinary(t, dir, "agent", "original-binary-bytes")
	cfgPath := writeTempBinary(t, dir, "agent.conf", "original-config")

	var haltReason string
	wd, err := sensor.NewWatchdog(binPath, []string{cfgPath}, 10*time.Millisecond, time.Hour, func(reason string) {
		haltReason = reason
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(binPath, []byte("tampered-binary-bytes"), 0o755))

	stop := make(chan struct{})
	go wd.Run(stop)
	time.Sleep(50 * time.Millisecond)
	close(stop)

	assert.True(t, wd.Halted())
	assert.Contains(t, haltReason, "integrity digest mismatch")
}

func TestWatchdog_TripsOnStaleHeartbeat(t *testing.T) {
	dir := t.TempDir()
	binPath := writeTempBinary(t, dir, "agent", "binary-bytes")
	cfgPath := writeTempBinary(t, dir, "agent.conf", "config-bytes")

	halted := false
	wd, err := sensor.NewWatchdog(binPath, []string{cfgPath}, 10*time.Millisecond, 20*time.Millisecond, func(reason string) {
		halted = true
	})
	require.NoError(t, err)

	stop := make(chan struct{})
	go wd.Run(stop)
	time.Sleep(60 * time.Millisecond)
	close(stop)

	assert.True(t, halted)
	assert.True(t, wd.Halted())
}

func TestWatchdog_StaysHealthyWithFreshHeartbeatAndUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	binPath := writeTempBinary(t, dir, "agent", "binary-bytes")
	cfgPath := writeTempBinary(t, dir, "agent.conf", "config-bytes")

	wd, err := sensor.NewWatchdog(binPath, []string{cfgPath}, 10*time.Millisecond, time.Hour, func(string) {})
	require.NoError(t, err)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				wd.Heartbeat()
			}
		}
	}()
	go wd.Run(stop)
	time.Sleep(50 * time.Millisecond)
	close(stop)

	assert.False(t, wd.Halted())
}
