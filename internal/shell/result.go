package shell

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrUnsupportedLocale is returned before spawning when the active
	// locale is not a UTF-8 variant.
	ErrUnsupportedLocale = errors.New("a UTF-8 locale is required")

	// ErrSpawn matches every *SpawnError.
	ErrSpawn = errors.New("failed to start command")

	// ErrCommandFailed matches every *CommandFailedError.
	ErrCommandFailed = errors.New("command failed")

	// ErrStdinUnavailable matches a *CommandFailedError for a command that
	// exited nonzero while input forwarding was disabled. Whether the command
	// actually tried to read cannot be observed, so the match only says stdin
	// was unavailable when it failed. Signal deaths never match.
	ErrStdinUnavailable = errors.New("stdin is not available")

	// ErrInterrupted is returned by an InputSource when the user asked to
	// interrupt the running command instead of supplying a line.
	ErrInterrupted = errors.New("interrupted")
)

// Result is the outcome of one command execution.
type Result struct {
	// Command is the command text as executed by the shell.
	Command string

	// ExitCode is the exit status, or the negated signal number when the
	// process was terminated by a signal.
	ExitCode int

	// Output is the merged, decoded stdout and stderr of the command.
	Output string
}

// Signaled reports whether the process was terminated by a signal.
func (r *Result) Signaled() bool {
	return r.ExitCode < 0
}

// Signal returns the terminating signal, or 0 for a normal exit.
func (r *Result) Signal() syscall.Signal {
	if r.ExitCode >= 0 {
		return 0
	}
	return syscall.Signal(-r.ExitCode)
}

// CheckReturnCode returns a *CommandFailedError when the command did not
// exit with status 0.
func (r *Result) CheckReturnCode() error {
	if r.ExitCode == 0 {
		return nil
	}
	return &CommandFailedError{Result: r}
}

// SpawnError reports a failure to allocate the terminal or start the shell.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSpawn) true for any spawn failure.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// CommandFailedError carries the result of a command that exited with a
// nonzero status or was killed by a signal.
type CommandFailedError struct {
	Result *Result

	// FailedWithoutStdin is set when the command failed while input
	// forwarding was disabled and its stdin was /dev/null.
	FailedWithoutStdin bool
}

func (e *CommandFailedError) Error() string {
	if e.Result.Signaled() {
		return fmt.Sprintf("command %q died with signal %d (%s)",
			e.Result.Command, int(e.Result.Signal()), e.Result.Signal())
	}
	msg := fmt.Sprintf("command %q returned non-zero exit status %d", e.Result.Command, e.Result.ExitCode)
	if e.FailedWithoutStdin {
		msg += " (stdin was disabled)"
	}
	return msg
}

func (e *CommandFailedError) Is(target error) bool {
	switch target {
	case ErrCommandFailed:
		return true
	case ErrStdinUnavailable:
		return e.FailedWithoutStdin && !e.Result.Signaled()
	}
	return false
}
