package lsp

import (
	"sync"
)

// envelope is an encoded outgoing message. sent, when non-nil, receives
// the write outcome.
type envelope struct {
	body []byte
	sent chan error
}

// outbox is an unbounded FIFO between callers and the writer goroutine.
// Enqueue never blocks on I/O.
type outbox struct {
	mu     sync.Mutex
	queue  []envelope
	wake   chan struct{}
	closed bool
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

// push appends a message. It reports false once the outbox is closed.
func (o *outbox) push(e envelope) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, e)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

// drain takes every queued message.
func (o *outbox) drain() []envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.queue
	o.queue = nil
	return out
}

// close rejects further pushes and returns what was still queued.
func (o *outbox) close() []envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	out := o.queue
	o.queue = nil
	return out
}
