package shell

import (
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/postalsys/ptyshell/internal/logging"
)

// InterruptState is the position on the escalation ladder. It only moves
// forward.
type InterruptState int32

const (
	StateRunning InterruptState = iota
	StateSigintSent
	StateSigtermSent
	StateKilled
)

// InterruptSteps is the number of interrupt events that take a process
// from running to killed. Queues of interrupt events hold this many; any
// further event cannot change the outcome.
const InterruptSteps = int(StateKilled)

func (s InterruptState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSigintSent:
		return "sigint_sent"
	case StateSigtermSent:
		return "sigterm_sent"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// WatchdogMode selects after which escalation steps the watchdog is armed.
type WatchdogMode string

const (
	// WatchdogAfterSigterm arms the watchdog only once SIGTERM was sent.
	WatchdogAfterSigterm WatchdogMode = "sigterm"

	// WatchdogEveryStep arms the watchdog after every signal, so a process
	// that ignores SIGINT is escalated without a further interrupt.
	WatchdogEveryStep WatchdogMode = "every"
)

// escalator drives the SIGINT, SIGTERM, SIGKILL ladder for one process
// group. Interrupt events and watchdog expiry are serialized by mu.
type escalator struct {
	signal func(syscall.Signal) error
	grace  time.Duration
	mode   WatchdogMode
	logger *slog.Logger

	mu     sync.Mutex
	state  InterruptState
	exited bool
	timer  *time.Timer
	killed chan struct{}
}

func newEscalator(signal func(syscall.Signal) error, grace time.Duration, mode WatchdogMode, logger *slog.Logger) *escalator {
	if mode == "" {
		mode = WatchdogAfterSigterm
	}
	return &escalator{
		signal: signal,
		grace:  grace,
		mode:   mode,
		logger: logging.WithComponent(logger, "interrupt"),
		killed: make(chan struct{}),
	}
}

// Interrupt handles one external interrupt event.
func (e *escalator) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance("interrupt")
}

// Kill skips the remaining steps and sends SIGKILL.
func (e *escalator) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exited || e.state == StateKilled {
		return
	}
	e.state = StateSigtermSent
	e.advance("cancel")
}

// Stop records that the process has exited. Later events are ignored.
func (e *escalator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exited = true
	e.stopTimer()
}

// State returns the current ladder position.
func (e *escalator) State() InterruptState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Killed is closed once SIGKILL has been sent.
func (e *escalator) Killed() <-chan struct{} {
	return e.killed
}

// advance moves one step up the ladder. Callers hold mu.
func (e *escalator) advance(cause string) {
	if e.exited || e.state == StateKilled {
		return
	}
	e.stopTimer()

	var sig syscall.Signal
	var next InterruptState
	switch e.state {
	case StateRunning:
		sig, next = syscall.SIGINT, StateSigintSent
	case StateSigintSent:
		sig, next = syscall.SIGTERM, StateSigtermSent
	default:
		sig, next = syscall.SIGKILL, StateKilled
	}

	if err := e.signal(sig); err != nil {
		e.logger.Debug("signal delivery failed",
			logging.KeySignal, sig.String(),
			logging.KeyError, err)
	}
	e.logger.Warn("escalating",
		"cause", cause,
		logging.KeySignal, sig.String(),
		logging.KeyState, next.String())

	e.state = next
	RecordInterrupt(sig)

	if next == StateKilled {
		close(e.killed)
		return
	}
	if next == StateSigtermSent || e.mode == WatchdogEveryStep {
		e.arm(next)
	}
}

func (e *escalator) arm(expected InterruptState) {
	e.timer = time.AfterFunc(e.grace, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		// An interrupt may have advanced the ladder while the timer fired.
		if e.state != expected {
			return
		}
		e.advance("watchdog")
	})
}

func (e *escalator) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
