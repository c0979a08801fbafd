package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Future is the eventual outcome of a request. It resolves exactly once
// with a result, an *RPCError, ErrCancelled, ErrTimeout, or
// ErrDisconnected.
type Future struct {
	id     int64
	method string

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newFuture(id int64, method string) *Future {
	return &Future{id: id, method: method, done: make(chan struct{})}
}

// ID returns the request id.
func (f *Future) ID() int64 { return f.id }

// Method returns the request method.
func (f *Future) Method() string { return f.method }

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome without blocking. Before resolution it returns
// ErrPending.
func (f *Future) Result() (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
		return nil, ErrPending
	}
}

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the result and unmarshals it into v.
func (f *Future) Decode(ctx context.Context, v any) error {
	raw, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if len(raw) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s result: %w", f.method, err)
	}
	return nil
}

// resolve settles the future. Later calls are ignored; it reports whether
// this call won.
func (f *Future) resolve(result json.RawMessage, err error) bool {
	won := false
	f.once.Do(func() {
		f.result, f.err = result, err
		close(f.done)
		won = true
	})
	return won
}
