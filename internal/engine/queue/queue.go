// Package queue serializes command submission per session. An interactive
// shell has no notion of concurrent commands; interleaved writes would
// corrupt sentinel matching, so at most one command is in flight at a time.
package queue

import (
	"context"
	"sync"

	sharederrors "github.com/termpilot/termpilot/internal/shared/errors"
	"github.com/termpilot/termpilot/internal/types"
)

// Pending tracks one enqueued command until its result is delivered.
type Pending struct {
	Req    types.CommandRequest
	result chan types.CommandResult
}

// Result returns a channel that yields exactly one CommandResult.
func (p *Pending) Result() <-chan types.CommandResult {
	return p.result
}

// Resolve delivers the result. Safe to call once; the channel is buffered
// so resolution never blocks on an absent caller.
func (p *Pending) Resolve(res types.CommandResult) {
	select {
	case p.result <- res:
	default:
	}
}

// Queue is a per-session FIFO of command requests. Critical-risk commands
// submitted without confirmation are parked until Confirm admits them.
type Queue struct {
	mu     sync.Mutex
	items  []*Pending
	held   map[string]*Pending
	notify chan struct{}
	closed bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		held:   make(map[string]*Pending),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a request. It returns ErrQueueClosed once the session is
// closing, and ErrConfirmationRequired for a critical-risk request without
// the confirmed flag; the latter parks the request, and the returned
// Pending resolves only after Confirm admits it.
func (q *Queue) Enqueue(req types.CommandRequest) (*Pending, error) {
	p := &Pending{
		Req:    req,
		result: make(chan types.CommandResult, 1),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, sharederrors.ErrQueueClosed
	}

	if req.Risk == types.RiskCritical && !req.Confirmed {
		q.held[req.CorrelationID] = p
		return p, sharederrors.ErrConfirmationRequired
	}

	q.items = append(q.items, p)
	q.wake()
	return p, nil
}

// Confirm admits a previously parked critical-risk command to the FIFO.
// Unknown correlation IDs return ErrNotFound.
func (q *Queue) Confirm(correlationID string) (*Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, sharederrors.ErrQueueClosed
	}

	p, ok := q.held[correlationID]
	if !ok {
		return nil, sharederrors.ErrNotFound
	}
	delete(q.held, correlationID)

	q.items = append(q.items, p)
	q.wake()
	return p, nil
}

// Dequeue blocks until a request is available or the queue closes. The
// second return is false once the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (*Pending, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return p, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close rejects further submissions and resolves every queued and parked
// request with a SessionTerminated result so no caller hangs. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	items := q.items
	q.items = nil
	held := q.held
	q.held = make(map[string]*Pending)
	q.mu.Unlock()

	for _, p := range items {
		p.Resolve(terminatedResult(p.Req.CorrelationID))
	}
	for _, p := range held {
		p.Resolve(terminatedResult(p.Req.CorrelationID))
	}

	q.wake()
}

// Len returns the number of queued (not parked) requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HeldCount returns the number of requests awaiting confirmation.
func (q *Queue) HeldCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.held)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func terminatedResult(correlationID string) types.CommandResult {
	return types.CommandResult{
		CorrelationID: correlationID,
		Status:        types.StatusSessionTerminated,
	}
}
