// Package broadcast fans a session's raw output out to every live
// subscriber and keeps a bounded replay history for late joiners.
package broadcast

import (
	"sync"
	"time"

	"github.com/termpilot/termpilot/internal/shared/id"
	"github.com/termpilot/termpilot/internal/types"
)

// Subscriber is one live consumer of a session's output stream. The
// broadcaster does not own subscriber lifetimes: a consumer going away
// unsubscribes itself without affecting the session.
type Subscriber struct {
	ID id.SubscriberID
	ch chan types.OutputChunk
}

// Chunks returns the subscriber's delivery channel. It is closed when the
// broadcaster shuts down or the subscriber is removed.
func (s *Subscriber) Chunks() <-chan types.OutputChunk {
	return s.ch
}

// Broadcaster delivers every published chunk to all registered subscribers
// without letting a slow consumer block the publisher or its peers. The
// ring buffer, not the per-subscriber queues, is the durability guarantee
// for replay.
type Broadcaster struct {
	sessionID string
	bufferCap int

	mu      sync.Mutex
	ring    []types.OutputChunk
	start   int
	count   int
	nextSeq uint64
	subs    map[id.SubscriberID]*Subscriber
	dropped uint64
	closed  bool
}

// New creates a broadcaster retaining the last ringCapacity chunks, with
// per-subscriber delivery queues of bufferCap chunks.
func New(sessionID string, ringCapacity, bufferCap int) *Broadcaster {
	if ringCapacity <= 0 {
		ringCapacity = 1024
	}
	if bufferCap <= 0 {
		bufferCap = 256
	}
	return &Broadcaster{
		sessionID: sessionID,
		bufferCap: bufferCap,
		ring:      make([]types.OutputChunk, ringCapacity),
		subs:      make(map[id.SubscriberID]*Subscriber),
	}
}

// Publish assigns the next sequence number to the bytes, records the chunk
// in the ring buffer, and enqueues it to every subscriber. A subscriber
// whose queue is full has its oldest undelivered chunk dropped rather than
// blocking anyone else.
func (b *Broadcaster) Publish(data []byte) types.OutputChunk {
	buf := make([]byte, len(data))
	copy(buf, data)

	b.mu.Lock()
	chunk := types.OutputChunk{
		SessionID: b.sessionID,
		Seq:       b.nextSeq,
		Bytes:     buf,
		Timestamp: time.Now(),
	}
	b.nextSeq++
	b.push(chunk)
	b.deliver(chunk)
	b.mu.Unlock()

	return chunk
}

// PublishEOF emits the final marker chunk after the shell has exited.
func (b *Broadcaster) PublishEOF() {
	b.mu.Lock()
	chunk := types.OutputChunk{
		SessionID: b.sessionID,
		Seq:       b.nextSeq,
		Timestamp: time.Now(),
		EOF:       true,
	}
	b.nextSeq++
	b.push(chunk)
	b.deliver(chunk)
	b.mu.Unlock()
}

// Subscribe registers a consumer and returns it together with a snapshot of
// the currently buffered chunks for immediate catch-up.
func (b *Broadcaster) Subscribe() (*Subscriber, []types.OutputChunk) {
	sub := &Subscriber{
		ID: id.NewSubscriberID(),
		ch: make(chan types.OutputChunk, b.bufferCap),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub, b.snapshot(0)
	}

	b.subs[sub.ID] = sub
	return sub, b.snapshot(0)
}

// Unsubscribe removes a subscriber. Removing an unknown or already-removed
// ID is a no-op.
func (b *Broadcaster) Unsubscribe(subID id.SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subID]
	if !ok {
		return
	}
	delete(b.subs, subID)
	close(sub.ch)
}

// ReplayFrom returns retained chunks with sequence numbers >= seq, in order.
func (b *Broadcaster) ReplayFrom(seq uint64) []types.OutputChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot(seq)
}

// NextSeq returns the sequence number the next published chunk will carry.
func (b *Broadcaster) NextSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

// Dropped returns how many chunks were discarded due to slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Subscribers returns the number of registered subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel and rejects further subscriptions.
// Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, sub := range b.subs {
		delete(b.subs, subID)
		close(sub.ch)
	}
}

// push appends to the ring buffer, evicting the oldest chunk on overflow.
// Caller holds b.mu.
func (b *Broadcaster) push(chunk types.OutputChunk) {
	pos := (b.start + b.count) % len(b.ring)
	b.ring[pos] = chunk
	if b.count < len(b.ring) {
		b.count++
	} else {
		b.start = (b.start + 1) % len(b.ring)
	}
}

// deliver enqueues the chunk for every subscriber, dropping each slow
// subscriber's oldest queued chunk on overflow. Drops never reorder: what
// remains in a queue is always a subsequence in ascending seq order.
// Caller holds b.mu.
func (b *Broadcaster) deliver(chunk types.OutputChunk) {
	for _, sub := range b.subs {
		select {
		case sub.ch <- chunk:
			continue
		default:
		}

		select {
		case <-sub.ch:
			b.dropped++
		default:
		}

		select {
		case sub.ch <- chunk:
		default:
			b.dropped++
		}
	}
}

// snapshot copies retained chunks with seq >= from. Caller holds b.mu.
func (b *Broadcaster) snapshot(from uint64) []types.OutputChunk {
	out := make([]types.OutputChunk, 0, b.count)
	for i := 0; i < b.count; i++ {
		chunk := b.ring[(b.start+i)%len(b.ring)]
		if chunk.Seq >= from {
			out = append(out, chunk)
		}
	}
	return out
}
