// Package console binds command execution to the terminal ptyshell was
// started from.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/postalsys/ptyshell/internal/locale"
	"github.com/postalsys/ptyshell/internal/logging"
	"github.com/postalsys/ptyshell/internal/shell"
)

// Console supplies shell.Host collaborators backed by the process's own
// stdin and stdout.
type Console struct {
	in     *os.File
	out    *os.File
	writer *bufio.Writer
	logger *slog.Logger

	interrupts chan struct{}
	resize     chan shell.Winsize

	readOnce sync.Once
	lines    chan lineResult

	mu   sync.Mutex
	stop func()
}

type lineResult struct {
	line string
	err  error
}

// New creates a console reading lines from in and writing output to out.
func New(in, out *os.File, logger *slog.Logger) *Console {
	return &Console{
		in:         in,
		out:        out,
		writer:     bufio.NewWriter(out),
		logger:     logging.WithComponent(logger, "console"),
		interrupts: make(chan struct{}, shell.InterruptSteps),
		resize:     make(chan shell.Winsize, 1),
		lines:      make(chan lineResult),
	}
}

// Start routes SIGINT to the interrupt channel and window size changes to
// the resize channel until Stop is called.
func (c *Console) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}

	intCh := make(chan os.Signal, 1)
	signal.Notify(intCh, syscall.SIGINT)
	winCh := make(chan os.Signal, 1)
	setupResizeSignal(winCh)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-intCh:
				c.logger.Debug("interrupt received")
				c.Interrupt()
			case <-winCh:
				if ws, ok := c.Size(); ok {
					select {
					case c.resize <- ws:
					default:
					}
				}
			}
		}
	}()

	c.stop = func() {
		signal.Stop(intCh)
		signal.Stop(winCh)
		close(done)
	}
}

// Stop undoes Start.
func (c *Console) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
}

// Interrupt queues one interrupt event. Up to shell.InterruptSteps events
// stay pending; later ones are dropped since the process is already being
// killed.
func (c *Console) Interrupt() {
	select {
	case c.interrupts <- struct{}{}:
	default:
	}
}

// Size returns the size of the output terminal.
func (c *Console) Size() (shell.Winsize, bool) {
	fd := int(c.out.Fd())
	if !term.IsTerminal(fd) {
		return shell.Winsize{}, false
	}
	width, height, err := term.GetSize(fd)
	if err != nil {
		return shell.Winsize{}, false
	}
	return shell.Winsize{Rows: uint16(height), Cols: uint16(width)}, true
}

// Host returns the collaborators for one execution.
func (c *Console) Host(settings locale.Settings) shell.Host {
	return shell.Host{
		Input:      c,
		Echo:       c,
		Output:     c.writer,
		Interrupts: c.interrupts,
		Resize:     c.resize,
		Locale:     settings,
	}
}

// Output returns the buffered stdout sink.
func (c *Console) Output() shell.OutputSink {
	return c.writer
}

// NextLine returns the next line typed by the user. Input from a terminal
// is read without local echo because the command's own terminal echoes it.
func (c *Console) NextLine(ctx context.Context) (string, error) {
	c.readOnce.Do(func() { go c.readLines() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.interrupts:
		return "", shell.ErrInterrupted
	case r, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return r.line, r.err
	}
}

// readLines feeds c.lines until input ends. It outlives individual
// NextLine calls since a blocked read cannot be cancelled.
func (c *Console) readLines() {
	defer close(c.lines)

	fd := int(c.in.Fd())
	if term.IsTerminal(fd) {
		for {
			b, err := term.ReadPassword(fd)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.Debug("terminal read failed", logging.KeyError, err)
				}
				return
			}
			c.lines <- lineResult{line: string(b)}
		}
	}

	r := bufio.NewReader(c.in)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			c.lines <- lineResult{line: strings.TrimRight(line, "\r\n")}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("stdin read failed", logging.KeyError, err)
			}
			return
		}
	}
}

// OnEchoChange records echo transitions of the command's terminal.
func (c *Console) OnEchoChange(enabled bool) {
	c.logger.Debug("echo changed", logging.KeyEcho, enabled)
}
