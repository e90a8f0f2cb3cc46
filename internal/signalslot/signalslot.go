// Package signalslot implements the signal/slot bus: a connection list
// that can be emitted synchronously on the caller's goroutine, or
// asynchronously by posting each slot invocation onto the connection's
// worker. It is the one connect/disconnect/block-aware notification
// primitive shared by every object and service in the runtime.
package signalslot

import (
	"sync"
	"sync/atomic"

	"muster/internal/metrics"
	"muster/internal/worker"
)

// Slot is a callback invoked with the arguments passed to emit/async_emit.
type Slot func(args ...interface{})

// Signal is a connection list that can be emitted synchronously or
// asynchronously. The zero value is not usable; construct with New.
type Signal struct {
	mu     sync.RWMutex
	conns  []*Connection
	nextID uint64
}

// New creates an empty signal.
func New() *Signal {
	return &Signal{}
}

// Connection owns the three-way link between a signal, a slot, and the
// slot's optional worker. Destroying a connection (Disconnect) removes it
// from its signal permanently; a Connection is not reusable afterward.
type Connection struct {
	id         uint64
	signal     *Signal
	slot       Slot
	w          *worker.Worker
	blockCount atomic.Int32
}

// Connect registers slot on the signal and returns the Connection handle.
// If w is non-nil, async_emit posts the slot invocation to w; otherwise
// async_emit for this connection falls back to synchronous dispatch.
func (s *Signal) Connect(slot Slot, w *worker.Worker) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &Connection{id: s.nextID, signal: s, slot: slot, w: w}
	s.conns = append(s.conns, c)
	return c
}

// Disconnect removes c from its signal. Disconnect is idempotent.
func (s *Signal) Disconnect(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.conns {
		if existing == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// DisconnectAll removes every connection from the signal.
func (s *Signal) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = nil
}

// NumConnections reports the number of currently connected slots,
// including blocked ones.
func (s *Signal) NumConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// snapshot copies the connection list under the read lock so emission can
// proceed without holding it: connect/disconnect during emission is safe
// and only takes effect on the next emission.
func (s *Signal) snapshot() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Connection, len(s.conns))
	copy(out, s.conns)
	return out
}

// Emit invokes every non-blocked connection's slot synchronously, in
// connection order, on the caller's goroutine.
func (s *Signal) Emit(args ...interface{}) {
	metrics.SignalEmitsTotal.WithLabelValues("sync").Inc()
	for _, c := range s.snapshot() {
		if c.blockCount.Load() > 0 {
			continue
		}
		metrics.SignalConnectionsInvokedTotal.WithLabelValues("sync").Inc()
		c.slot(args...)
	}
}

// AsyncEmit invokes every non-blocked connection's slot by posting it to
// the connection's worker (so it runs serialized with that worker's other
// tasks); a connection with no worker runs synchronously instead, as if
// by Emit. AsyncEmit returns once all invocations have been posted (or,
// for worker-less connections, have run); it does not wait for posted
// tasks to complete.
func (s *Signal) AsyncEmit(args ...interface{}) {
	metrics.SignalEmitsTotal.WithLabelValues("async").Inc()
	for _, c := range s.snapshot() {
		if c.blockCount.Load() > 0 {
			continue
		}
		metrics.SignalConnectionsInvokedTotal.WithLabelValues("async").Inc()
		if c.w == nil {
			c.slot(args...)
			continue
		}
		c.w.Post(func() {
			if c.blockCount.Load() > 0 {
				return
			}
			c.slot(args...)
		})
	}
}

// Disconnect removes this connection from its signal. Disconnect is
// idempotent.
func (c *Connection) Disconnect() {
	c.signal.Disconnect(c)
}

// NewBlocker returns a Blocker that, while alive, skips this connection
// during emission. Blockers nest: the connection is skipped as long as
// any blocker on it is still open.
func (c *Connection) NewBlocker() *Blocker {
	c.blockCount.Add(1)
	return &Blocker{conn: c}
}

// Blocker is a scoped guard that suppresses a connection's slot while
// open. Typical use: a slot that updates its own service's data object
// blocks its own self-update connection for the duration, to avoid
// reentry.
type Blocker struct {
	conn   *Connection
	closed atomic.Bool
}

// Close releases the block. Close is idempotent; calling it more than
// once only decrements the connection's block count once.
func (b *Blocker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		b.conn.blockCount.Add(-1)
	}
}
