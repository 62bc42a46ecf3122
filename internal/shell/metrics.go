package shell

import (
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ShellSessionsActive is a gauge of commands currently running on a pty.
	ShellSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ptyshell",
			Subsystem: "shell",
			Name:      "sessions_active",
			Help:      "Number of commands currently running on a pty",
		},
	)

	// ShellSessionsTotal counts finished executions by result.
	ShellSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptyshell",
			Subsystem: "shell",
			Name:      "sessions_total",
			Help:      "Total number of command executions by result",
		},
		[]string{"result"},
	)

	// ShellDurationSeconds measures command run time.
	ShellDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ptyshell",
			Subsystem: "shell",
			Name:      "duration_seconds",
			Help:      "Duration of command executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~45 minutes
		},
	)

	// ShellBytesTotal measures bytes moved through the pty.
	ShellBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptyshell",
			Subsystem: "shell",
			Name:      "bytes_total",
			Help:      "Total bytes transferred through the pty",
		},
		[]string{"direction"},
	)

	// ShellInterruptsTotal counts signals sent by the escalation ladder.
	ShellInterruptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptyshell",
			Subsystem: "shell",
			Name:      "interrupts_total",
			Help:      "Signals sent to command process groups by escalation step",
		},
		[]string{"signal"},
	)

	// ShellFlushesTotal counts flushes issued to output sinks.
	ShellFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ptyshell",
			Subsystem: "shell",
			Name:      "flushes_total",
			Help:      "Total number of output sink flushes",
		},
	)
)

// Result constants for metrics.
const (
	ResultSuccess  = "success"  // Exit status 0
	ResultFailure  = "failure"  // Nonzero exit status
	ResultSignaled = "signaled" // Terminated by a signal
	ResultRejected = "rejected" // Refused before spawn (locale, spawn error)
)

// Direction constants for byte metrics.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// SessionStarted records a command starting.
func SessionStarted() {
	ShellSessionsActive.Inc()
}

// SessionEnded records a command finishing.
func SessionEnded(exitCode int, duration float64) {
	ShellSessionsActive.Dec()
	ShellSessionsTotal.WithLabelValues(resultLabel(exitCode)).Inc()
	ShellDurationSeconds.Observe(duration)
}

// RecordRejected records an execution refused before spawning.
func RecordRejected() {
	ShellSessionsTotal.WithLabelValues(ResultRejected).Inc()
}

// RecordInputBytes records bytes written to the pty.
func RecordInputBytes(bytes int) {
	ShellBytesTotal.WithLabelValues(DirectionInput).Add(float64(bytes))
}

// RecordOutputBytes records bytes read from the pty.
func RecordOutputBytes(bytes int) {
	ShellBytesTotal.WithLabelValues(DirectionOutput).Add(float64(bytes))
}

// RecordInterrupt records one escalation signal.
func RecordInterrupt(sig syscall.Signal) {
	ShellInterruptsTotal.WithLabelValues(signalName(sig)).Inc()
}

// RecordFlush records one sink flush.
func RecordFlush() {
	ShellFlushesTotal.Inc()
}

func resultLabel(exitCode int) string {
	switch {
	case exitCode == 0:
		return ResultSuccess
	case exitCode < 0:
		return ResultSignaled
	default:
		return ResultFailure
	}
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	default:
		return sig.String()
	}
}
