package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/armon/circbuf"
	"github.com/sirupsen/logrus"
)

// State is where a server process is in its life.
type State int

const (
	// StateCreated means the command is built but not yet started.
	StateCreated State = iota
	// StateRunning means the server is up and its pipes are open.
	StateRunning
	// StateExited indicates the process has exited on its own.
	StateExited
	// StateKilled means a signal ended the server.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

const (
	// DefaultStderrTail is how much of a server's stderr is retained.
	DefaultStderrTail = 8 << 10
	// DefaultGrace is how long Close waits for the server before each
	// signal.
	DefaultGrace = 2 * time.Second
)

var (
	// ErrProcessNotStarted is returned by I/O and signals before Start.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when a process is started twice.
	ErrProcessAlreadyStarted = errors.New("process already started")
)

// Process is a running language server. Read yields the server's stdout
// and Write feeds its stdin.
type Process struct {
	// ID tags the process in logs.
	ID string

	// Name is the server name from the launch spec.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tail
	grace  time.Duration
	log    *logrus.Entry

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	waitOnce  sync.Once
	closeOnce sync.Once
}

func newProcess(id, name string, cmd *exec.Cmd, tailSize int64, grace time.Duration, log *logrus.Entry) (*Process, error) {
	t, err := newTail(tailSize)
	if err != nil {
		return nil, err
	}
	p := &Process{
		ID:     id,
		Name:   name,
		Cmd:    cmd,
		stderr: t,
		grace:  grace,
		log:    log.WithFields(logrus.Fields{"process": id, "name": name}),
		done:   make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p, nil
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 while the process runs.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done is closed once the server has exited and its exit state is recorded.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports whether the process is running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// StderrTail returns the last bytes the process wrote to stderr.
func (p *Process) StderrTail() string {
	return p.stderr.String()
}

// Read reads from the server's stdout.
func (p *Process) Read(b []byte) (int, error) {
	if p.stdout == nil {
		return 0, ErrProcessNotStarted
	}
	return p.stdout.Read(b)
}

// Write writes to the server's stdin.
func (p *Process) Write(b []byte) (int, error) {
	if p.stdin == nil {
		return 0, ErrProcessNotStarted
	}
	return p.stdin.Write(b)
}

// Signal delivers sig to the server.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return fmt.Errorf("process not running: %w", ErrProcessNotStarted)
	}
	return p.Cmd.Process.Signal(sig)
}

// Terminate asks the server to exit.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Kill ends the server at once.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Close closes the server's stdin and waits for it to exit. A server still
// running after the grace period is terminated, then killed.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		if p.State() == StateCreated {
			return
		}
		p.reap(p.grace)
		_ = p.stdout.Close()
	})
	return nil
}

// reap waits up to grace for the process to exit, escalating to SIGTERM
// and then SIGKILL.
func (p *Process) reap(grace time.Duration) {
	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}
	p.log.Debug("terminating")
	_ = p.Terminate()
	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}
	p.log.Warn("killing")
	_ = p.Kill()
	<-p.done
}

func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	stdin, err := p.Cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	// Wait closes pipes made by StdoutPipe, losing output that is still
	// buffered when the server exits; an os.Pipe stays readable to EOF.
	stdout, child, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	p.Cmd.Stdout = child
	p.Cmd.Stderr = p.stderr

	err = p.Cmd.Start()
	_ = child.Close()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return fmt.Errorf("start process: %w", err)
	}
	p.stdin, p.stdout = stdin, stdout
	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	p.log.WithField("pid", p.PID()).Info("started")

	go p.waitLoop()
	return nil
}

func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
				}
			} else {
				exitCode = -1
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))

		entry := p.log.WithFields(logrus.Fields{"exit_code": exitCode, "state": state})
		if exitCode != 0 {
			entry.WithField("stderr", p.StderrTail()).Warn("exited")
		} else {
			entry.Info("exited")
		}
		close(p.done)
	})
}

// tail keeps the last bytes written to it. exec copies stderr on its own
// goroutine while callers read, so writes are locked.
type tail struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

func newTail(size int64) (*tail, error) {
	if size <= 0 {
		size = DefaultStderrTail
	}
	buf, err := circbuf.NewBuffer(size)
	if err != nil {
		return nil, fmt.Errorf("stderr buffer: %w", err)
	}
	return &tail{buf: buf}, nil
}

func (t *tail) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Write(b)
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
