package shell

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/ptyshell/internal/decoder"
	"github.com/postalsys/ptyshell/internal/logging"
	"github.com/postalsys/ptyshell/internal/recovery"
)

// streamer owns the read side of the pty. It decodes output into the
// accumulated buffer, forwards it to the sink and flushes the sink once
// output goes quiet.
type streamer struct {
	chunkSize int
	quiet     time.Duration
	limiter   *rate.Limiter
	decoder   *decoder.Decoder
	logger    *slog.Logger
	done      chan struct{}

	mu        sync.Mutex
	sink      OutputSink
	buf       strings.Builder
	dirty     bool
	finished  bool
	sinkError bool
	timer     *time.Timer
	flushes   int
}

func newStreamer(cfg Config, sink OutputSink, logger *slog.Logger) *streamer {
	limit := rate.Inf
	if cfg.FlushRate > 0 {
		limit = rate.Limit(cfg.FlushRate)
	}
	chunk := cfg.ReadChunkSize
	if chunk < 1 {
		chunk = 1
	}
	return &streamer{
		chunkSize: chunk,
		quiet:     cfg.FlushQuietPeriod,
		limiter:   rate.NewLimiter(limit, 1),
		decoder:   decoder.New(),
		logger:    logging.WithComponent(logger, "streamer"),
		done:      make(chan struct{}),
		sink:      sink,
	}
}

// run reads r until end of stream. It closes s.done when finished.
func (s *streamer) run(r io.Reader) {
	defer close(s.done)
	defer recovery.Guard(s.logger, "streamer", func(any) { s.fail() })

	p := make([]byte, s.chunkSize)
	for {
		n, err := r.Read(p)
		if n > 0 {
			RecordOutputBytes(n)
			s.emit(s.decoder.Feed(p[:n]))
			s.touch()
		}
		if err != nil {
			if !isEndOfStream(err) {
				s.logger.Debug("pty read failed", logging.KeyError, err)
			}
			break
		}
	}

	s.finish(s.decoder.Flush())
}

func (s *streamer) emit(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(text)
}

func (s *streamer) writeLocked(text string) {
	s.buf.WriteString(text)
	if s.sink == nil || s.sinkError {
		return
	}
	if _, err := s.sink.WriteString(text); err != nil {
		// Keep accumulating; the result still carries the full output.
		s.sinkError = true
		s.logger.Debug("output sink write failed", logging.KeyError, err)
		return
	}
	s.dirty = true
}

// touch restarts the quiescence window.
func (s *streamer) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.quiet <= 0 {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.quiet, s.quiescent)
		return
	}
	s.timer.Reset(s.quiet)
}

// quiescent runs when no output arrived for the quiet period.
func (s *streamer) quiescent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || !s.dirty {
		return
	}
	r := s.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		s.timer.Reset(d)
		return
	}
	s.flushLocked()
}

func (s *streamer) finish(tail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if tail != "" {
		s.writeLocked(tail)
	}
	s.flushLocked()
}

// fail finalizes the stream after the sink panicked. The sink is not
// touched again.
func (s *streamer) fail() {
	s.mu.Lock()
	s.sinkError = true
	s.mu.Unlock()
	s.finish("")
}

// abandon finalizes the stream without waiting for the read loop, which is
// stuck on a terminal that never hung up.
func (s *streamer) abandon() {
	s.logger.Debug("abandoning read loop")
	s.finish("")
}

func (s *streamer) flushLocked() {
	s.dirty = false
	s.flushes++
	RecordFlush()
	if s.sink == nil || s.sinkError {
		return
	}
	if err := s.sink.Flush(); err != nil {
		s.sinkError = true
		s.logger.Debug("output sink flush failed", logging.KeyError, err)
	}
}

func (s *streamer) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *streamer) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// isEndOfStream reports errors that mean the terminal will produce no more
// output. Linux returns EIO from the controller once every subordinate
// descriptor is closed.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed)
}
