// Package timer drives the engine's periodic tick: one quick initial tick
// shortly after start (so a freshly-started tunnel doesn't wait a full
// cadence before its first handshake retry), then a steady-state ticker.
package timer

import (
	"context"
	"sync"
	"time"

	libtick "github.com/nabbar/golib/runner/ticker"
)

// InitialDelay is how long after Start the first, out-of-cadence tick
// fires.
const InitialDelay = 10 * time.Millisecond

// Cadence is the steady-state tick interval once the initial kick has
// fired.
const Cadence = 500 * time.Millisecond

// TickFunc is called once per tick, on the ticker's own goroutine.
type TickFunc func()

// Driver wraps runner/ticker with the initial-kick behavior described
// above.
type Driver struct {
	fn TickFunc

	mu     sync.Mutex
	kick   *time.Timer
	ticker libtick.Ticker
}

// New builds a Driver that calls fn on every tick.
func New(fn TickFunc) *Driver {
	d := &Driver{fn: fn}
	d.ticker = libtick.New(Cadence, func(ctx context.Context, t *time.Ticker) error {
		fn()
		return nil
	})
	return d
}

// Start arms the initial kick and starts the steady-state ticker.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	d.kick = time.AfterFunc(InitialDelay, d.fn)
	d.mu.Unlock()
	return d.ticker.Start(ctx)
}

// Stop cancels the initial kick (a no-op if it already fired) and stops
// the steady-state ticker.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.kick != nil {
		d.kick.Stop()
	}
	d.mu.Unlock()
	return d.ticker.Stop(ctx)
}

// IsRunning reports whether the steady-state ticker is currently active.
func (d *Driver) IsRunning() bool {
	return d.ticker.IsRunning()
}
