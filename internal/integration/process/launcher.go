package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/quill/internal/logging"
)

// ErrLauncherShutdown is returned by Start once Shutdown has begun.
var ErrLauncherShutdown = errors.New("launcher is shutting down")

// Spec describes how to start a language server.
type Spec struct {
	// Name labels the server in logs.
	Name string
	// Command is the executable, resolved through PATH.
	Command string
	Args    []string
	// Env is appended to the parent environment.
	Env []string
	Dir string
	// StderrTail bounds the retained stderr; zero uses DefaultStderrTail.
	StderrTail int64
	// Grace is how long Close waits before each signal.
	Grace time.Duration
}

// Launcher starts server processes from a Spec and tracks the live ones.
// It is safe for concurrent use.
type Launcher struct {
	spec Spec
	log  *logrus.Entry

	mu        sync.RWMutex
	processes map[string]*Process
	closed    atomic.Bool

	onExit func(*Process)
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) LauncherOption {
	return func(s *Launcher) { s.log = logging.WithComponent(l, "process") }
}

// WithExitCallback sets a callback run after a process exits.
func WithExitCallback(fn func(*Process)) LauncherOption {
	return func(s *Launcher) { s.onExit = fn }
}

// NewLauncher returns a launcher for spec.
func NewLauncher(spec Spec, opts ...LauncherOption) *Launcher {
	if spec.Name == "" {
		spec.Name = spec.Command
	}
	if spec.Grace <= 0 {
		spec.Grace = DefaultGrace
	}
	l := &Launcher{
		spec:      spec,
		log:       logging.Component("process"),
		processes: make(map[string]*Process),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Spec returns the launch spec.
func (l *Launcher) Spec() Spec { return l.spec }

// Start launches a new server process.
func (l *Launcher) Start(ctx context.Context) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.spec.Command == "" {
		return nil, errors.New("no server command configured")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return nil, ErrLauncherShutdown
	}

	cmd := exec.Command(l.spec.Command, l.spec.Args...)
	cmd.Dir = l.spec.Dir
	if len(l.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), l.spec.Env...)
	}

	proc, err := newProcess(uuid.NewString(), l.spec.Name, cmd, l.spec.StderrTail, l.spec.Grace, l.log)
	if err != nil {
		return nil, err
	}
	if err := proc.start(); err != nil {
		return nil, fmt.Errorf("%s: %w", l.spec.Name, err)
	}
	l.processes[proc.ID] = proc
	go l.monitor(proc)
	return proc, nil
}

func (l *Launcher) monitor(proc *Process) {
	<-proc.Done()
	if l.onExit != nil {
		l.onExit(proc)
	}
	l.mu.Lock()
	delete(l.processes, proc.ID)
	l.mu.Unlock()
}

// Get returns a live process by ID, or nil.
func (l *Launcher) Get(id string) *Process {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.processes[id]
}

// Count returns the number of live processes.
func (l *Launcher) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.processes)
}

func (l *Launcher) list() []*Process {
	l.mu.RLock()
	defer l.mu.RUnlock()
	procs := make([]*Process, 0, len(l.processes))
	for _, p := range l.processes {
		procs = append(procs, p)
	}
	return procs
}

// Shutdown stops accepting launches, terminates every live process, and
// kills any still running after timeout. It blocks until all have exited.
func (l *Launcher) Shutdown(timeout time.Duration) {
	l.mu.Lock()
	already := l.closed.Swap(true)
	l.mu.Unlock()
	if already {
		return
	}

	procs := l.list()
	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			if p.IsRunning() {
				_ = p.Kill()
			}
		}
		<-done
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (l *Launcher) IsShuttingDown() bool {
	return l.closed.Load()
}
