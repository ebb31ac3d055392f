package sensor

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
)

// SafeHaltFunc is invoked exactly once, the first time the watchdog
// detects a stale heartbeat or an integrity mismatch. It is expected to
// stop event emission and alert an operator.
type SafeHaltFunc func(reason string)

// Watchdog verifies a sensor's own liveness (heartbeat recency) and
// tamper-resistance (binary/config digest) on an interval, distinct
// from the SHA-256 used for payload hashing — a BLAKE2b digest so a
// compromise of one hash family does not also compromise the other.
type Watchdog struct {
	binaryPath    string
	configPaths   []string
	expectedDigest [32]byte
	interval      time.Duration
	maxHeartbeatAge time.Duration
	lastHeartbeat atomic.Int64 // unix nanos
	halted        atomic.Bool
	onHalt        SafeHaltFunc
}

// NewWatchdog builds a watchdog over binaryPath and configPaths,
// computing the expected integrity digest at construction time — a
// later mismatch means the binary or config changed underneath the
// running process.
func NewWatchdog(binaryPath string, configPaths []string, interval, maxHeartbeatAge time.Duration, onHalt SafeHaltFunc) (*Watchdog, error) {
	digest, err := integrityDigest(binaryPath, configPaths)
	if err != nil {
		return nil, fmt.Errorf("sensor: compute initial integrity digest: %w", err)
	}
	w := &Watchdog{
		binaryPath:      binaryPath,
		configPaths:     configPaths,
		expectedDigest:  digest,
		interval:        interval,
		maxHeartbeatAge: maxHeartbeatAge,
		onHalt:          onHalt,
	}
	w.Heartbeat()
	return w, nil
}

// Heartbeat records that the sensor's emission loop is alive.
func (w *Watchdog) Heartbeat() {
	w.lastHeartbeat.Store(time.Now().UnixNano())
}

// Halted reports whether the watchdog has tripped SafeHalt.
func (w *Watchdog) Halted() bool {
	return w.halted.Load()
}

// Run blocks, checking heartbeat recency and integrity every interval,
// until stop is closed.
func (w *Watchdog) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

func (w *Watchdog) checkOnce() {
	if w.Halted() {
		return
	}

	age := time.Since(time.Unix(0, w.lastHeartbeat.Load()))
	if age > w.maxHeartbeatAge {
		w.trip(fmt.Sprintf("heartbeat stale: last beat %s ago", age))
		return
	}

	digest, err := integrityDigest(w.binaryPath, w.configPaths)
	if err != nil {
		w.trip(fmt.Sprintf("integrity check failed: %v", err))
		return
	}
	if digest != w.expectedDigest {
		w.trip(fmt.Sprintf("integrity digest mismatch: expected %s, got %s",
			hex.EncodeToString(w.expectedDigest[:]), hex.EncodeToString(digest[:])))
	}
}

func (w *Watchdog) trip(reason string) {
	if !w.halted.CompareAndSwap(false, true) {
		return
	}
	if w.onHalt != nil {
		w.onHalt(reason)
	}
}

func integrityDigest(binaryPath string, configPaths []string) ([32]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("sensor: init blake2b: %w", err)
	}

	binData, err := os.ReadFile(binaryPath)
	if err != nil {
		return [32]byte{}, fmt.Errorf("sensor: read binary %s: %w", binaryPath, err)
	}
	h.Write(binData)

	for _, p := range configPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return [32]byte{}, fmt.Errorf("sensor: read config %s: %w", p, err)
		}
		h.Write(data)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
