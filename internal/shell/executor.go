package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/postalsys/ptyshell/internal/locale"
	"github.com/postalsys/ptyshell/internal/logging"
	"github.com/postalsys/ptyshell/internal/recovery"
)

// Config contains executor configuration.
type Config struct {
	// Shell is the interpreter used as `<Shell> -c <command>`.
	Shell string

	// Term is exported to the command as TERM.
	Term string

	// WorkDir is the command's working directory (empty = inherit).
	WorkDir string

	// Env holds extra environment variables for the command.
	Env map[string]string

	// Rows and Cols set the initial terminal size.
	Rows uint16
	Cols uint16

	// ReadChunkSize caps a single read from the pty. Any value >= 1 works.
	ReadChunkSize int

	// FlushQuietPeriod is how long output must be idle before the sink is
	// flushed.
	FlushQuietPeriod time.Duration

	// FlushRate caps idle flushes per second (<= 0 = unlimited).
	FlushRate float64

	// EchoPollInterval is how often terminal echo is sampled while the
	// stdin forwarder waits for input.
	EchoPollInterval time.Duration

	// WatchdogGrace is the delay before the watchdog escalates.
	WatchdogGrace time.Duration

	// WatchdogMode selects when the watchdog is armed.
	WatchdogMode WatchdogMode

	// DrainTimeout bounds how long output is drained after the process
	// exits while something else still holds the terminal open (0 = wait).
	DrainTimeout time.Duration

	// MaxSessions limits concurrent executions (0 = unlimited).
	MaxSessions int
}

// DefaultConfig returns default executor configuration.
func DefaultConfig() Config {
	return Config{
		Shell:            "/bin/bash",
		Term:             "xterm-256color",
		Rows:             24,
		Cols:             80,
		ReadChunkSize:    1 << 20,
		FlushQuietPeriod: 50 * time.Millisecond,
		FlushRate:        10,
		EchoPollInterval: 50 * time.Millisecond,
		WatchdogGrace:    500 * time.Millisecond,
		WatchdogMode:     WatchdogAfterSigterm,
		DrainTimeout:     2 * time.Second,
	}
}

// CommandSpec describes one execution. It is not modified once Execute
// starts.
type CommandSpec struct {
	Command string

	// RaiseOnNonzero turns a nonzero or signal exit into a
	// *CommandFailedError.
	RaiseOnNonzero bool

	// StdinEnabled forwards lines from the host's InputSource.
	StdinEnabled bool
}

// InputSource supplies lines typed by the user.
type InputSource interface {
	// NextLine blocks until a line is available. It returns ErrInterrupted
	// when the user interrupts instead, and io.EOF when no more input will
	// come. Implementations must return when ctx is done.
	NextLine(ctx context.Context) (string, error)
}

// EchoSink is told when the terminal's echo mode flips, e.g. while a
// command reads a password.
type EchoSink interface {
	OnEchoChange(enabled bool)
}

// OutputSink receives decoded output. *bufio.Writer satisfies it.
type OutputSink interface {
	io.StringWriter
	Flush() error
}

// Winsize is a terminal size.
type Winsize struct {
	Rows uint16
	Cols uint16
}

// Host bundles the collaborators of one execution.
type Host struct {
	Input  InputSource
	Echo   EchoSink
	Output OutputSink

	// Interrupts delivers external interrupt events (nil = none).
	Interrupts <-chan struct{}

	// Resize delivers terminal size changes (nil = none).
	Resize <-chan Winsize

	// Locale is checked before anything is spawned.
	Locale locale.Settings
}

// ptySession is the terminal-backed child process used by the executor.
type ptySession interface {
	io.Reader
	io.Writer
	EchoEnabled() (bool, error)
	Resize(rows, cols uint16) error
	SignalGroup(sig syscall.Signal) error
	Pid() int
	Done() <-chan struct{}
	ExitStatus() (int, bool)
	Close() error
}

type sessionOpener func(command string, cfg Config, stdinEnabled bool) (ptySession, error)

// forwarderStopTimeout bounds the wait for an InputSource that ignores
// context cancellation.
const forwarderStopTimeout = time.Second

// Executor runs commands on a pseudo-terminal.
type Executor struct {
	config Config
	logger *slog.Logger
	open   sessionOpener

	mu       sync.Mutex
	sessions int
}

// NewExecutor creates a new executor.
func NewExecutor(cfg Config, logger *slog.Logger) *Executor {
	if cfg.ReadChunkSize < 1 {
		cfg.ReadChunkSize = 1
	}
	return &Executor{
		config: cfg,
		logger: logging.WithComponent(logger, "executor"),
		open:   openSession,
	}
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.config
}

// AcquireSession tries to acquire an execution slot.
// Returns an error if max sessions reached.
func (e *Executor) AcquireSession() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.MaxSessions > 0 && e.sessions >= e.config.MaxSessions {
		return fmt.Errorf("max sessions (%d) reached", e.config.MaxSessions)
	}

	e.sessions++
	return nil
}

// ReleaseSession releases an execution slot.
func (e *Executor) ReleaseSession() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sessions > 0 {
		e.sessions--
	}
}

// ActiveSessions returns the current number of acquired slots.
func (e *Executor) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions
}

// Execute runs spec.Command on a fresh pty and blocks until it exits.
//
// The returned Result is always non-nil once the command was spawned. When
// spec.RaiseOnNonzero is set and the command failed, the Result is returned
// together with a *CommandFailedError carrying it. Cancelling ctx kills the
// command's process group.
func (e *Executor) Execute(ctx context.Context, spec CommandSpec, host Host) (*Result, error) {
	if !host.Locale.IsUTF8() {
		RecordRejected()
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedLocale, host.Locale.Charset())
	}

	stdinEnabled := spec.StdinEnabled && !host.Locale.StdinDisabled && host.Input != nil

	session, err := e.open(spec.Command, e.config, stdinEnabled)
	if err != nil {
		RecordRejected()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	defer session.Close()

	start := time.Now()
	SessionStarted()

	logger := e.logger.With(logging.KeyCommand, spec.Command, logging.KeyPID, session.Pid())
	logger.Debug("command started", "stdin", stdinEnabled, logging.KeyLocale, host.Locale.String())

	esc := newEscalator(session.SignalGroup, e.config.WatchdogGrace, e.config.WatchdogMode, logger)
	stream := newStreamer(e.config, host.Output, logger)
	go stream.run(session)

	fwdCtx, cancelFwd := context.WithCancel(context.Background())
	defer cancelFwd()
	fwdDone := make(chan struct{})
	if stdinEnabled {
		fwd := newForwarder(session, host.Input, host.Echo, esc.Interrupt, e.config.EchoPollInterval, logger)
		go func() {
			defer close(fwdDone)
			defer recovery.Guard(logger, "stdin", nil)
			fwd.run(fwdCtx)
		}()
	} else {
		close(fwdDone)
	}

	ctxDone := ctx.Done()
wait:
	for {
		select {
		case <-session.Done():
			break wait
		case <-host.Interrupts:
			esc.Interrupt()
		case ws := <-host.Resize:
			if err := session.Resize(ws.Rows, ws.Cols); err != nil {
				logger.Debug("resize failed", logging.KeyError, err)
			}
		case <-ctxDone:
			logger.Info("context cancelled, killing command", logging.KeyError, ctx.Err())
			esc.Kill()
			ctxDone = nil
		}
	}
	esc.Stop()

	status, _ := session.ExitStatus()

	if !waitFor(stream.done, e.config.DrainTimeout) {
		logger.Warn("terminal still held open after exit, closing",
			logging.KeyDuration, e.config.DrainTimeout)
	}

	// Stop the forwarder before closing the terminal so it can take a last
	// look at the echo state.
	cancelFwd()
	if !waitFor(fwdDone, forwarderStopTimeout) {
		logger.Debug("input source did not return after cancellation")
	}

	if err := session.Close(); err != nil {
		logger.Debug("close pty", logging.KeyError, err)
	}
	if !waitFor(stream.done, e.config.DrainTimeout) {
		stream.abandon()
	}

	result := &Result{
		Command:  spec.Command,
		ExitCode: status,
		Output:   stream.output(),
	}

	duration := time.Since(start)
	SessionEnded(status, duration.Seconds())
	logger.Debug("command finished",
		logging.KeyExitCode, status,
		logging.KeyState, esc.State().String(),
		logging.KeyDuration, duration)

	if spec.RaiseOnNonzero && status != 0 {
		return result, &CommandFailedError{Result: result, FailedWithoutStdin: !stdinEnabled}
	}
	return result, nil
}

// waitFor waits for ch to close, at most d (d <= 0 waits indefinitely).
func waitFor(ch <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		<-ch
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
