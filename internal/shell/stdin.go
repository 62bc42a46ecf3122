package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/postalsys/ptyshell/internal/logging"
)

// echoTerminal is the part of a pty session the forwarder writes to.
type echoTerminal interface {
	io.Writer
	EchoEnabled() (bool, error)
}

// forwarder owns the write side of the pty: it moves lines from the input
// source into the terminal and reports echo mode transitions.
type forwarder struct {
	term      echoTerminal
	input     InputSource
	echo      EchoSink
	interrupt func()
	interval  time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	echoKnown bool
	echoState bool
}

func newForwarder(term echoTerminal, input InputSource, echo EchoSink, interrupt func(), interval time.Duration, logger *slog.Logger) *forwarder {
	return &forwarder{
		term:      term,
		input:     input,
		echo:      echo,
		interrupt: interrupt,
		interval:  interval,
		logger:    logging.WithComponent(logger, "stdin"),
	}
}

// run forwards input until ctx is done, the source is exhausted or the
// user interrupts.
func (f *forwarder) run(ctx context.Context) {
	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if f.interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.watchEcho(watchCtx)
		}()
	}
	defer func() {
		stopWatch()
		wg.Wait()
		f.checkEcho()
	}()

	for ctx.Err() == nil {
		f.checkEcho()

		line, err := f.input.NextLine(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrInterrupted):
				f.logger.Debug("input interrupted")
				f.interrupt()
			case errors.Is(err, io.EOF), ctx.Err() != nil:
			default:
				f.logger.Debug("input source failed", logging.KeyError, err)
			}
			return
		}

		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		n, err := io.WriteString(f.term, line)
		RecordInputBytes(n)
		if err != nil {
			f.logger.Debug("pty write failed", logging.KeyError, err)
			return
		}
	}
}

// watchEcho samples the echo mode while run is blocked on input.
func (f *forwarder) watchEcho(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.checkEcho()
		}
	}
}

// checkEcho reports the echo mode when it differs from the last report.
// The first successful observation is always reported. Sampling happens
// under f.mu so a slow sample cannot be reported after a newer one.
func (f *forwarder) checkEcho() {
	f.mu.Lock()
	defer f.mu.Unlock()

	enabled, err := f.term.EchoEnabled()
	if err != nil {
		return
	}
	if f.echoKnown && f.echoState == enabled {
		return
	}
	f.echoKnown = true
	f.echoState = enabled
	f.logger.Debug("echo changed", logging.KeyEcho, enabled)
	if f.echo != nil {
		f.echo.OnEchoChange(enabled)
	}
}
