// Package recovery keeps a panicking sink or input source from taking the
// whole process down with it.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/postalsys/ptyshell/internal/logging"
)

// PanicsTotal counts recovered panics by goroutine name.
var PanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ptyshell",
		Name:      "recovered_panics_total",
		Help:      "Panics recovered in background goroutines",
	},
	[]string{"goroutine"},
)

// Guard recovers a panic in the goroutine it is deferred in, logs it with
// the stack and, when onPanic is set, hands it the recovered value.
//
//	go func() {
//	    defer recovery.Guard(logger, "streamer", nil)
//	    ...
//	}()
func Guard(logger *slog.Logger, name string, onPanic func(recovered any)) {
	r := recover()
	if r == nil {
		return
	}
	PanicsTotal.WithLabelValues(name).Inc()
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
	if onPanic != nil {
		onPanic(r)
	}
}

// Go runs fn on a new goroutine under Guard.
func Go(logger *slog.Logger, name string, fn func()) {
	go func() {
		defer Guard(logger, name, nil)
		fn()
	}()
}
