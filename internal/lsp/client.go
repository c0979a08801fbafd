package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.lsp.dev/protocol"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/quill/internal/logging"
)

// State is the lifecycle state of a client.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateRunning
	StateShuttingDown
	StateExited
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateExited:
		return "exited"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// NotificationHandler receives a server notification on the dispatch
// goroutine.
type NotificationHandler func(msg *Inbound)

// Client speaks JSON-RPC to one language server over a byte stream. Calls
// never block on stream I/O: requests return a Future immediately and a
// single writer goroutine drains the outgoing queue.
type Client struct {
	name string
	in   *bufio.Reader
	out  io.Writer
	conn io.Closer
	log  *logrus.Entry

	state  atomic.Int32
	nextID atomic.Int64

	mu        sync.Mutex
	pending   map[int64]*PendingRequest
	abandoned map[int64]struct{}
	dropOrder []int64
	finished  bool
	caps      Capabilities

	hmu           sync.RWMutex
	handlers      map[string][]NotificationHandler
	diagHandlers  []DiagnosticsHandler
	crashHandlers []func(error)

	outbox   *outbox
	inbox    chan *Inbound
	timeouts Timeouts
	settings []byte

	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The client tags entries with its component.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = logging.WithComponent(l, "lsp") }
}

// WithTimeouts sets per-class request deadlines.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) { c.timeouts = t }
}

// WithInboxSize bounds the queue between the reader and dispatcher.
func WithInboxSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.inbox = make(chan *Inbound, n)
		}
	}
}

// WithSettings sets the JSON document that workspace/configuration
// requests are answered from. Each requested section is looked up as a
// dotted path; an empty section receives the whole document.
func WithSettings(settings []byte) Option {
	return func(c *Client) { c.settings = settings }
}

// WithName labels the server in log entries.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// DefaultInboxSize is the queue length between reader and dispatcher.
const DefaultInboxSize = 64

// maxAbandoned bounds the ids remembered for late responses. A response to
// an id evicted past this bound is logged as unexpected.
const maxAbandoned = 512

// NewClient creates a client reading server output from r and writing
// requests to w. conn, if not nil, is closed when the client stops; closing
// it must unblock reads on r.
func NewClient(r io.Reader, w io.Writer, conn io.Closer, opts ...Option) *Client {
	c := &Client{
		name:      "server",
		in:        bufio.NewReaderSize(r, 64*1024),
		out:       w,
		conn:      conn,
		pending:   make(map[int64]*PendingRequest),
		abandoned: make(map[int64]struct{}),
		handlers:  make(map[string][]NotificationHandler),
		outbox:    newOutbox(),
		inbox:     make(chan *Inbound, DefaultInboxSize),
		timeouts:  DefaultTimeouts(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.Component("lsp")
	}
	c.log = c.log.WithField("server", c.name)
	return c
}

// Start launches the reader, dispatcher, and writer goroutines. Cancelling
// ctx stops the client as if the stream had closed.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("lsp client already started")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(c.dispatchLoop)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		c.closeConn()
		return nil
	})

	go func() {
		err := g.Wait()
		if err == nil {
			err = ctx.Err()
		}
		c.finish(err)
	}()
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.WithFields(logrus.Fields{"from": old, "to": s}).Debug("state change")
	}
}

// Capabilities returns what the server announced during initialize.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Done is closed once the client has stopped and every pending request has
// been resolved.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped. It is nil until Done is closed and
// for a clean shutdown.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// PendingCount returns the number of requests awaiting a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Initialize performs the initialize / initialized handshake and moves the
// client to Running.
func (c *Client) Initialize(ctx context.Context, params any) (Capabilities, error) {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return Capabilities{}, fmt.Errorf("initialize in state %s: %w", c.State(), ErrNotReady)
	}
	c.log.Debug("state change to initializing")

	f, err := c.issue(MethodInitialize, params, []RequestOption{WithClass(ClassLifecycle)})
	if err != nil {
		return Capabilities{}, err
	}
	raw, err := f.Wait(ctx)
	if err != nil {
		c.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return Capabilities{}, fmt.Errorf("initialize: %w", err)
	}

	caps := parseCapabilities(raw)
	c.mu.Lock()
	c.caps = caps
	c.mu.Unlock()
	c.setState(StateInitialized)

	if err := c.send(newNotification(MethodInitialized, struct{}{}), nil); err != nil {
		return Capabilities{}, err
	}
	c.setState(StateRunning)
	c.log.WithFields(logrus.Fields{
		"name":    caps.ServerName,
		"version": caps.ServerVersion,
		"sync":    caps.Sync,
	}).Info("language server ready")
	return caps, nil
}

// Request issues a request and returns its future. Calls before the
// handshake completes fail with ErrNotReady; calls after the stream closed
// fail with ErrDisconnected.
func (c *Client) Request(method string, params any, opts ...RequestOption) (*Future, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.issue(method, params, opts)
}

// Notify sends a notification.
func (c *Client) Notify(method string, params any) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.send(newNotification(method, params), nil)
}

func (c *Client) ready() error {
	switch c.State() {
	case StateRunning:
		return nil
	case StateExited, StateCrashed:
		return ErrDisconnected
	default:
		return ErrNotReady
	}
}

func (c *Client) issue(method string, params any, opts []RequestOption) (*Future, error) {
	id := c.nextID.Add(1)
	body, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	p := &PendingRequest{ID: id, Method: method, IssuedAt: time.Now(), future: newFuture(id, method)}
	for _, opt := range opts {
		opt(p)
	}

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.pending[id] = p
	if d := c.timeouts.For(p.Class); d > 0 {
		p.timer = time.AfterFunc(d, func() { c.expire(id) })
	}
	c.mu.Unlock()

	if !c.outbox.push(envelope{body: body}) {
		c.settle(id, nil, ErrDisconnected)
	}
	return p.future, nil
}

// send marshals msg and queues it. When sent is non-nil it receives the
// write outcome.
func (c *Client) send(msg *outgoing, sent chan error) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Method, err)
	}
	if !c.outbox.push(envelope{body: body, sent: sent}) {
		return ErrDisconnected
	}
	return nil
}

// CancelStale cancels every cancellable request issued against a document
// version older than version. Each gets exactly one $/cancelRequest and
// resolves with ErrCancelled. It returns how many were cancelled.
func (c *Client) CancelStale(version int64) int {
	c.mu.Lock()
	var stale []*PendingRequest
	for id, p := range c.pending {
		if p.Cancellable && p.IssuedAtVersion < version {
			stale = append(stale, p)
			delete(c.pending, id)
			c.abandonLocked(id)
		}
	}
	c.mu.Unlock()

	for _, p := range stale {
		c.abandon(p, ErrCancelled)
	}
	if len(stale) > 0 {
		c.log.WithFields(logrus.Fields{"count": len(stale), "version": version}).Debug("cancelled stale requests")
	}
	return len(stale)
}

// Cancel cancels one request by id. It reports false if the request is no
// longer pending.
func (c *Client) Cancel(id int64) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.abandonLocked(id)
	}
	c.mu.Unlock()

	if ok {
		c.abandon(p, ErrCancelled)
	}
	return ok
}

// abandon notifies the server that p is no longer wanted and resolves it.
// p must already be removed from the pending table.
func (c *Client) abandon(p *PendingRequest, reason error) {
	p.stop()
	if p.Cancellable || errors.Is(reason, ErrCancelled) {
		_ = c.send(newNotification(MethodCancelRequest, map[string]int64{"id": p.ID}), nil)
	}
	p.future.resolve(nil, fmt.Errorf("%s #%d: %w", p.Method, p.ID, reason))
}

// abandonLocked remembers id so a late response is dropped quietly. The
// oldest ids are forgotten once more than maxAbandoned are held.
// c.mu must be held.
func (c *Client) abandonLocked(id int64) {
	c.abandoned[id] = struct{}{}
	c.dropOrder = append(c.dropOrder, id)
	for len(c.dropOrder) > maxAbandoned {
		delete(c.abandoned, c.dropOrder[0])
		c.dropOrder = c.dropOrder[1:]
	}
}

func (c *Client) expire(id int64) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.abandonLocked(id)
	}
	c.mu.Unlock()

	if ok {
		c.log.WithFields(logrus.Fields{"id": id, "method": p.Method, "class": p.Class}).Warn("request timed out")
		c.abandon(p, ErrTimeout)
	}
}

// settle removes id from the pending table and resolves it.
func (c *Client) settle(id int64, result json.RawMessage, err error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		p.stop()
		p.future.resolve(result, err)
	}
}

// Shutdown performs the shutdown / exit sequence and closes the stream.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		if s := c.State(); s == StateExited || s == StateCrashed {
			return nil
		}
		return fmt.Errorf("shutdown in state %s: %w", c.State(), ErrNotReady)
	}
	c.log.Debug("state change to shutting down")

	var shutdownErr error
	if f, err := c.issue(MethodShutdown, nil, []RequestOption{WithClass(ClassLifecycle)}); err != nil {
		shutdownErr = err
	} else if _, err := f.Wait(ctx); err != nil {
		shutdownErr = fmt.Errorf("shutdown: %w", err)
	}

	sent := make(chan error, 1)
	if err := c.send(newNotification(MethodExit, nil), sent); err == nil {
		select {
		case <-sent:
		case <-ctx.Done():
		}
	}

	c.setState(StateExited)
	c.closeConn()

	select {
	case <-c.done:
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}
	return shutdownErr
}

// Close stops the client without the shutdown handshake.
func (c *Client) Close() error {
	if s := c.State(); s != StateCrashed {
		c.setState(StateExited)
	}
	c.closeConn()
	if !c.started.Load() {
		c.finish(nil)
	}
	<-c.done
	return nil
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// finish resolves everything outstanding once the stream is gone.
func (c *Client) finish(cause error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	pending := c.pending
	c.pending = make(map[int64]*PendingRequest)
	c.abandoned = make(map[int64]struct{})
	c.dropOrder = nil
	c.mu.Unlock()

	crashed := false
	switch c.State() {
	case StateExited, StateShuttingDown:
		c.setState(StateExited)
	default:
		crashed = true
		c.setState(StateCrashed)
	}

	for _, env := range c.outbox.close() {
		if env.sent != nil {
			env.sent <- ErrDisconnected
		}
	}
	for _, p := range pending {
		p.stop()
		p.future.resolve(nil, fmt.Errorf("%s #%d: %w", p.Method, p.ID, ErrDisconnected))
	}

	if crashed {
		if cause == nil {
			cause = io.ErrUnexpectedEOF
		}
		c.err = fmt.Errorf("%w: %w", ErrDisconnected, cause)
		c.log.WithError(cause).WithField("pending", len(pending)).Error("language server stream closed unexpectedly")
	}
	c.closeConn()
	close(c.done)

	if crashed {
		c.hmu.RLock()
		handlers := append([]func(error){}, c.crashHandlers...)
		c.hmu.RUnlock()
		for _, h := range handlers {
			h(c.err)
		}
	}
}

// OnCrash registers a callback run once if the stream fails while the
// client is not shutting down.
func (c *Client) OnCrash(fn func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.crashHandlers = append(c.crashHandlers, fn)
}

// OnNotification registers a handler for a notification method. The
// method "*" receives every notification.
func (c *Client) OnNotification(method string, fn NotificationHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[method] = append(c.handlers[method], fn)
}

func (c *Client) readLoop(ctx context.Context) error {
	defer close(c.inbox)
	for {
		body, err := ReadFrame(c.in)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msg, err := Decode(body)
		if err != nil {
			c.log.WithError(err).Warn("dropping undecodable message")
			continue
		}
		select {
		case c.inbox <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) dispatchLoop() error {
	for msg := range c.inbox {
		switch msg.Kind {
		case KindResponse:
			c.handleResponse(msg)
		case KindNotification:
			c.handleNotification(msg)
		case KindServerRequest:
			c.handleServerRequest(msg)
		}
	}
	return nil
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.outbox.wake:
		}
		for _, env := range c.outbox.drain() {
			err := WriteFrame(c.out, env.body)
			if env.sent != nil {
				env.sent <- err
			}
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *Client) handleResponse(msg *Inbound) {
	c.mu.Lock()
	p, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	} else if _, late := c.abandoned[msg.ID]; late {
		delete(c.abandoned, msg.ID)
		c.mu.Unlock()
		c.log.WithField("id", msg.ID).Debug("dropping response to abandoned request")
		return
	}
	c.mu.Unlock()

	if !ok {
		err := &ProtocolError{Reason: fmt.Sprintf("response id %d matches no pending request", msg.ID)}
		c.log.WithError(err).Warn("dropping response")
		return
	}

	p.stop()
	if msg.Error != nil {
		p.future.resolve(nil, fmt.Errorf("%s #%d: %w", p.Method, p.ID, responseError(msg.Error)))
		return
	}
	p.future.resolve(msg.Result, nil)
}

func (c *Client) handleNotification(msg *Inbound) {
	switch payload := msg.Payload.(type) {
	case *protocol.PublishDiagnosticsParams:
		ev := newDiagnosticsEvent(payload, msg.Params)
		c.hmu.RLock()
		handlers := c.diagHandlers
		c.hmu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	case *protocol.LogMessageParams:
		c.logServerMessage(payload.Type, payload.Message)
	case *protocol.ShowMessageParams:
		c.logServerMessage(payload.Type, payload.Message)
	}

	c.hmu.RLock()
	handlers := append(append([]NotificationHandler{}, c.handlers[msg.Method]...), c.handlers["*"]...)
	c.hmu.RUnlock()
	if len(handlers) == 0 && msg.Payload == nil {
		c.log.WithField("method", msg.Method).Debug("unhandled notification")
	}
	for _, h := range handlers {
		h(msg)
	}
}

func (c *Client) handleServerRequest(msg *Inbound) {
	var (
		result any
		rpcErr *RPCError
	)
	switch msg.Method {
	case methodConfiguration:
		result = json.RawMessage(c.configuration(msg.Params))
	case methodProgressCreate, methodRegisterCap, methodUnregisterCap, methodWorkspaceFolders:
		result = nil
	default:
		rpcErr = &RPCError{Code: CodeMethodNotFound, Message: "method not supported: " + msg.Method}
	}
	if err := c.send(newResponse(msg.RawID, result, rpcErr), nil); err != nil {
		c.log.WithError(err).WithField("method", msg.Method).Debug("could not answer server request")
	}
}

func (c *Client) logServerMessage(typ protocol.MessageType, text string) {
	entry := c.log.WithField("origin", "server")
	switch typ {
	case protocol.MessageTypeError:
		entry.Error(text)
	case protocol.MessageTypeWarning:
		entry.Warn(text)
	case protocol.MessageTypeInfo:
		entry.Info(text)
	default:
		entry.Debug(text)
	}
}

// configuration builds the workspace/configuration reply: one entry per
// requested item, null where the settings have no such section.
func (c *Client) configuration(params json.RawMessage) []byte {
	out := []byte("[]")
	valid := gjson.ValidBytes(c.settings)
	for _, item := range gjson.GetBytes(params, "items").Array() {
		value := "null"
		if valid {
			switch section := item.Get("section").String(); section {
			case "":
				value = string(c.settings)
			default:
				if r := gjson.GetBytes(c.settings, section); r.Exists() {
					value = r.Raw
				}
			}
		}
		next, err := sjson.SetRawBytes(out, "-1", []byte(value))
		if err != nil {
			c.log.WithError(err).Debug("could not build configuration reply")
			continue
		}
		out = next
	}
	return out
}
