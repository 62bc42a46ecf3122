package shell

import (
	"context"
	"strings"
	"syscall"
)

// interruptedSignals are the signals the escalation ladder sends. A command
// that died of one of them is reported to the user as interrupted.
var interruptedSignals = []syscall.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL}

// WasInterrupted reports whether an exit code means the command was stopped
// by SIGINT, SIGTERM or SIGKILL.
func WasInterrupted(code int) bool {
	if code >= 0 {
		return false
	}
	for _, sig := range interruptedSignals {
		if syscall.Signal(-code) == sig {
			return true
		}
	}
	return false
}

// System runs command with input forwarding, streams its output to the
// host sink and returns the exit code. An interrupted command additionally
// prints "^C".
func System(ctx context.Context, e *Executor, command string, host Host) (int, error) {
	result, err := e.Execute(ctx, CommandSpec{Command: command, StdinEnabled: true}, host)
	if err != nil {
		return 0, err
	}
	if WasInterrupted(result.ExitCode) {
		writeInterruptMarker(host.Output)
	}
	return result.ExitCode, nil
}

// GetOutput runs command without streaming and returns its output split
// into lines. An interrupted command prints "^C" to the host sink.
func GetOutput(ctx context.Context, e *Executor, command string, host Host) ([]string, error) {
	sink := host.Output
	host.Output = nil
	result, err := e.Execute(ctx, CommandSpec{Command: command, StdinEnabled: true}, host)
	if err != nil {
		return nil, err
	}
	if WasInterrupted(result.ExitCode) {
		writeInterruptMarker(sink)
	}
	return splitLines(result.Output), nil
}

func writeInterruptMarker(sink OutputSink) {
	if sink == nil {
		return
	}
	if _, err := sink.WriteString("^C\n"); err == nil {
		sink.Flush()
	}
}

// splitLines splits on \n, \r\n and \r. A trailing line break does not
// produce an empty last element.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
