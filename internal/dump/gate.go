package dump

import (
	"context"
	"sync"
)

// watermarkGate bounds the number of in-flight record handlers. Once the
// count reaches the high mark the gate pauses; it stays paused until the
// count drains to the low mark (half the high mark). The hysteresis avoids
// thrashing the reader on and off at the boundary.
type watermarkGate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	inflight int
	high     int
	low      int
	paused   bool
	closed   bool
}

func newWatermarkGate(high int) *watermarkGate {
	if high < 2 {
		high = 2
	}
	g := &watermarkGate{
		high: high,
		low:  high / 2,
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// add registers one in-flight handler. The caller must have observed the
// gate resumed via waitResumed first, so in-flight never exceeds high.
func (g *watermarkGate) add() {
	g.mu.Lock()
	g.inflight++
	if g.inflight >= g.high {
		g.paused = true
	}
	g.mu.Unlock()
}

// done retires one in-flight handler, resuming the reader once the count
// falls to the low mark.
func (g *watermarkGate) done() {
	g.mu.Lock()
	g.inflight--
	if g.paused && g.inflight <= g.low {
		g.paused = false
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// waitResumed blocks while the gate is paused. Cancellation of ctx releases
// the wait via the watcher started in close's counterpart below; callers
// re-check ctx themselves after returning.
func (g *watermarkGate) waitResumed(ctx context.Context) {
	g.mu.Lock()
	if g.paused && !g.closed {
		// Wake the wait if the context dies while we are parked.
		stop := context.AfterFunc(ctx, func() {
			g.mu.Lock()
			g.cond.Broadcast()
			g.mu.Unlock()
		})
		defer stop()
		for g.paused && !g.closed && ctx.Err() == nil {
			g.cond.Wait()
		}
	}
	g.mu.Unlock()
}

// close releases any parked waiter permanently.
func (g *watermarkGate) close() {
	g.mu.Lock()
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()
}
