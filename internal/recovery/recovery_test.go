package recovery

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGuard_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer Guard(logger, "testGoroutine", nil)
		panic("test panic")
	}()

	wg.Wait()

	output := buf.String()
	if !strings.Contains(output, "panic recovered") {
		t.Errorf("expected 'panic recovered' in output, got: %s", output)
	}
	if !strings.Contains(output, "testGoroutine") {
		t.Errorf("expected goroutine name in output, got: %s", output)
	}
	if !strings.Contains(output, "test panic") {
		t.Errorf("expected panic message in output, got: %s", output)
	}
	if !strings.Contains(output, "stack=") {
		t.Errorf("expected stack trace in output, got: %s", output)
	}
}

func TestGuard_NoopOnNoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	called := false
	func() {
		defer Guard(logger, "normalGoroutine", func(any) { called = true })
	}()

	if buf.Len() > 0 {
		t.Errorf("expected no output when no panic, got: %s", buf.String())
	}
	if called {
		t.Error("callback called without a panic")
	}
}

func TestGuard_CallsCallback(t *testing.T) {
	var recovered any
	func() {
		defer Guard(nil, "callbackGoroutine", func(r any) { recovered = r })
		panic("callback test")
	}()

	if recovered != "callback test" {
		t.Errorf("recovered = %v, want %q", recovered, "callback test")
	}
}

func TestGuard_CountsPanics(t *testing.T) {
	before := testutil.ToFloat64(PanicsTotal.WithLabelValues("countedGoroutine"))

	for i := 0; i < 2; i++ {
		func() {
			defer Guard(nil, "countedGoroutine", nil)
			panic(i)
		}()
	}

	if got := testutil.ToFloat64(PanicsTotal.WithLabelValues("countedGoroutine")) - before; got != 2 {
		t.Errorf("counted %v panics, want 2", got)
	}
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "spawned", func() {
		defer close(done)
		panic("in spawned goroutine")
	})
	<-done
}
