// Package ring keeps the bounded recent-events buffer used for late
// joiners' catch-up reads. The buffer is the only event history the relay
// retains; everything else is broadcast and discarded.
package ring

import (
	"sync"

	"github.com/drblury/bidrelay/internal/relay/wire"
)

// DefaultCapacity is the number of envelopes retained when no capacity is
// configured.
const DefaultCapacity = 20

// Buffer is a fixed-capacity ring of broadcast envelopes. Appends evict the
// oldest entry once the buffer is full.
type Buffer struct {
	mu      sync.Mutex
	entries []wire.Envelope
	next    int
	filled  int
}

// NewBuffer creates a ring holding at most capacity envelopes. A
// non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]wire.Envelope, capacity)}
}

// Append records an envelope, evicting the oldest entry on overflow.
func (b *Buffer) Append(env wire.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = env
	b.next = (b.next + 1) % len(b.entries)
	if b.filled < len(b.entries) {
		b.filled++
	}
}

// Snapshot returns the retained envelopes, oldest first.
func (b *Buffer) Snapshot() []wire.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]wire.Envelope, 0, b.filled)
	for i := 0; i < b.filled; i++ {
		idx := b.next - b.filled + i
		if idx < 0 {
			idx += len(b.entries)
		}
		out = append(out, b.entries[idx])
	}
	return out
}

// Newest returns the most recently appended envelope, if any.
func (b *Buffer) Newest() (wire.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.filled == 0 {
		return wire.Envelope{}, false
	}
	idx := b.next - 1
	if idx < 0 {
		idx += len(b.entries)
	}
	return b.entries[idx], true
}

// Len reports how many envelopes are currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}
