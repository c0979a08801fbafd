package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/lsp"
)

// State is the session's relationship with its server.
type State int32

const (
	// StateIdle means the session has not been opened.
	StateIdle State = iota
	// StateRunning means a server is connected.
	StateRunning
	// StateRestarting means the server crashed and is being relaunched.
	StateRestarting
	// StateDegraded means language features are off; editing continues.
	StateDegraded
	// StateClosed means the session was closed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventType identifies a supervision event.
type EventType int

const (
	// EventCrash reports that the server went away.
	EventCrash EventType = iota
	// EventRestarting reports a launch attempt.
	EventRestarting
	// EventRecovered reports that a relaunched server is in sync.
	EventRecovered
	// EventDegraded reports that language features were turned off.
	EventDegraded
)

func (t EventType) String() string {
	switch t {
	case EventCrash:
		return "crash"
	case EventRestarting:
		return "restarting"
	case EventRecovered:
		return "recovered"
	case EventDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Event is one supervision notice.
type Event struct {
	Type    EventType
	Err     error
	Attempt int
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.log.WithFields(logrus.Fields{"from": old, "to": st}).Debug("state change")
	}
}

func (s *Session) emit(ev Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// connect launches a server, performs the handshake, and opens the
// document on it at the current version.
func (s *Session) connect(ctx context.Context) error {
	rwc, err := s.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	name := s.cfg.ServerName
	if name == "" {
		name = s.cfg.LanguageID
	}
	opts := []lsp.Option{
		lsp.WithLogger(s.log),
		lsp.WithName(name),
		lsp.WithTimeouts(s.cfg.Timeouts),
		lsp.WithInboxSize(s.cfg.InboxSize),
	}
	if s.cfg.Settings != nil {
		settings, err := json.Marshal(s.cfg.Settings)
		if err != nil {
			_ = rwc.Close()
			return fmt.Errorf("encode settings: %w", err)
		}
		opts = append(opts, lsp.WithSettings(settings))
	}
	c := lsp.NewClient(rwc, rwc, rwc, opts...)
	c.OnDiagnostics(s.onDiagnostics)
	if err := c.Start(s.ctx); err != nil {
		_ = c.Close()
		return err
	}
	params := lsp.NewInitializeParams(s.cfg.ClientName, s.cfg.ClientVersion, s.cfg.RootURI, s.cfg.InitializationOptions)
	caps, err := c.Initialize(ctx, params)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = c.Close()
		return ErrClosed
	}
	s.client, s.caps, s.lastStart = c, caps, s.now()
	s.mu.Unlock()

	if err := s.doc.Attach(c, caps.Sync); err != nil {
		// The watcher sees the crash and recovers.
		s.log.WithError(err).Warn("document not re-opened")
	}
	s.setState(StateRunning)
	s.log.WithFields(logrus.Fields{"server": caps.ServerName, "sync": caps.Sync}).Info("language server ready")

	s.wg.Add(1)
	go s.watch(c)
	return nil
}

// watch waits for c to stop and starts recovery if it crashed.
func (s *Session) watch(c *lsp.Client) {
	defer s.wg.Done()
	<-c.Done()
	if c.State() != lsp.StateCrashed {
		return
	}

	s.mu.Lock()
	if s.client != c || s.closing {
		s.mu.Unlock()
		return
	}
	s.client = nil
	s.mu.Unlock()

	_ = c.Close()
	s.recover(c.Err())
}

// recover applies the restart policy after the server went away.
func (s *Session) recover(cause error) {
	if err := s.doc.Attach(nil, protocol.TextDocumentSyncKindNone); err != nil {
		s.log.WithError(err).Debug("detach")
	}
	s.emit(Event{Type: EventCrash, Err: cause})
	s.log.WithError(cause).Warn("language server lost")

	rc := s.cfg.Restart
	if rc.Policy == PolicyDisable {
		s.degrade(cause)
		return
	}

	s.mu.Lock()
	if !s.lastStart.IsZero() && s.now().Sub(s.lastStart) > rc.ResetWindow {
		s.crashes = 0
	}
	s.crashes++
	crashes := s.crashes
	s.mu.Unlock()
	if rc.MaxCrashes > 0 && crashes > rc.MaxCrashes {
		s.degrade(fmt.Errorf("%d crashes in a row: %w", crashes, cause))
		return
	}

	s.setState(StateRestarting)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialBackoff
	b.MaxInterval = rc.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(s.ctx, func() (struct{}, error) {
		attempt++
		s.emit(Event{Type: EventRestarting, Attempt: attempt})
		err := s.connect(s.ctx)
		if errors.Is(err, ErrClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(rc.MaxAttempts, 1))),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": next}).Warn("restart failed")
		}),
	)
	if err != nil {
		if s.ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return
		}
		s.degrade(err)
		return
	}
	s.emit(Event{Type: EventRecovered, Attempt: attempt})
	s.log.WithField("attempt", attempt).Info("language server recovered")
}

// degrade turns language features off. The cache keeps its last known
// state, which renders as stale from here on.
func (s *Session) degrade(cause error) {
	s.setState(StateDegraded)
	s.emit(Event{Type: EventDegraded, Err: cause})
	s.log.WithError(cause).Error("language features disabled")
}
