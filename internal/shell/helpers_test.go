package shell

import (
	"context"
	"io"
	"strings"
	"sync"
)

// recordingSink is an OutputSink that remembers everything it was given.
type recordingSink struct {
	mu      sync.Mutex
	buf     strings.Builder
	flushes int
	writes  []string
}

func (s *recordingSink) WriteString(text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(text)
	s.writes = append(s.writes, text)
	return len(text), nil
}

func (s *recordingSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *recordingSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *recordingSink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// echoRecorder collects echo transitions.
type echoRecorder struct {
	mu      sync.Mutex
	changes []bool
	notify  chan bool
}

func newEchoRecorder() *echoRecorder {
	return &echoRecorder{notify: make(chan bool, 64)}
}

func (r *echoRecorder) OnEchoChange(enabled bool) {
	r.mu.Lock()
	r.changes = append(r.changes, enabled)
	r.mu.Unlock()
	select {
	case r.notify <- enabled:
	default:
	}
}

func (r *echoRecorder) Changes() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.changes...)
}

// chanInput serves lines from a channel. A closed channel means EOF.
type chanInput struct {
	lines chan string
	errs  chan error
}

func newChanInput() *chanInput {
	return &chanInput{lines: make(chan string, 16), errs: make(chan error, 1)}
}

func (in *chanInput) NextLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-in.errs:
		return "", err
	case line, ok := <-in.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// funcInput adapts a function to InputSource.
type funcInput func(ctx context.Context) (string, error)

func (f funcInput) NextLine(ctx context.Context) (string, error) { return f(ctx) }
