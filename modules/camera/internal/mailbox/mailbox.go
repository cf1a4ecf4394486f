// Package mailbox implements a single-slot, overwrite-on-publish frame holder.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
// The analyzer samples whatever is newest when its timer fires; older
// unread frames are simply replaced.
package mailbox

import (
	"sync"
	"sync/atomic"
)

// Mailbox holds the most recent value published to it.
//
// Thread-safety: Publish and Latest may be called from different goroutines.
type Mailbox[T any] struct {
	mu     sync.Mutex
	value  *T
	unread bool

	published   uint64
	overwritten uint64
}

// Publish stores v, replacing the previous value (non-blocking).
//
// If the previous value was never read, the overwrite counter is incremented.
func (m *Mailbox[T]) Publish(v *T) {
	m.mu.Lock()
	if m.unread {
		atomic.AddUint64(&m.overwritten, 1)
	}
	m.value = v
	m.unread = true
	m.mu.Unlock()

	atomic.AddUint64(&m.published, 1)
}

// Latest returns the newest value, or nil if nothing was published since
// the last Reset. The value stays in the slot; a second call returns it again.
func (m *Mailbox[T]) Latest() *T {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread = false
	return m.value
}

// Reset empties the slot. Counters are kept.
func (m *Mailbox[T]) Reset() {
	m.mu.Lock()
	m.value = nil
	m.unread = false
	m.mu.Unlock()
}

// Published returns the total number of Publish calls
func (m *Mailbox[T]) Published() uint64 {
	return atomic.LoadUint64(&m.published)
}

// Overwritten returns how many values were replaced before being read
func (m *Mailbox[T]) Overwritten() uint64 {
	return atomic.LoadUint64(&m.overwritten)
}
