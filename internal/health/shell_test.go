package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/postalsys/ptyshell/internal/locale"
	"github.com/postalsys/ptyshell/internal/shell"
)

// fakeRunner plays a scripted command against the websocket host.
type fakeRunner struct {
	mu       sync.Mutex
	max      int
	sessions int
	specs    []shell.CommandSpec
	sizes    []shell.Winsize
	run      func(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error)
}

func (f *fakeRunner) AcquireSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.max > 0 && f.sessions >= f.max {
		return fmt.Errorf("max sessions (%d) reached", f.max)
	}
	f.sessions++
	return nil
}

func (f *fakeRunner) ReleaseSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions--
}

func (f *fakeRunner) Execute(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()

	select {
	case ws := <-host.Resize:
		f.mu.Lock()
		f.sizes = append(f.sizes, ws)
		f.mu.Unlock()
	default:
	}

	if f.run != nil {
		return f.run(ctx, spec, host)
	}
	result := &shell.Result{Command: spec.Command}
	return result, nil
}

func newShellTestServer(t *testing.T, cfg ServerConfig, runner CommandRunner) string {
	t.Helper()
	if cfg.Locale.Name == "" {
		cfg.Locale = locale.Settings{Name: "C.UTF-8"}
	}
	s := NewServer(cfg, &mockStatsProvider{running: true}, nil)
	if runner != nil {
		s.SetCommandRunner(runner)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/shell"
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(hash)
}

// collectSink is a local OutputSink for the client side.
type collectSink struct {
	mu      sync.Mutex
	sb      strings.Builder
	flushes int
}

func (c *collectSink) WriteString(s string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sb.WriteString(s)
}

func (c *collectSink) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

type echoLog struct {
	mu      sync.Mutex
	changes []bool
}

func (e *echoLog) OnEchoChange(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, on)
}

type lineInput struct{ lines chan string }

func (l *lineInput) NextLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-l.lines:
		return line, nil
	}
}

func TestServer_ValidateAuth(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		password string
		wantErr  bool
	}{
		{"no auth configured", "", "", false},
		{"no auth configured, password given", "", "anything", false},
		{"correct password", mustHashPassword(t, "secret"), "secret", false},
		{"wrong password", mustHashPassword(t, "secret"), "wrong", true},
		{"missing password", mustHashPassword(t, "secret"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			cfg.PasswordHash = tt.hash
			s := NewServer(cfg, nil, nil)

			err := s.ValidateAuth(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAuth() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestShellWebSocket_NoRunner(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/shell", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestShellWebSocket_Execute(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error) {
			host.Echo.OnEchoChange(true)
			host.Echo.OnEchoChange(false)
			line, err := host.Input.NextLine(ctx)
			if err != nil {
				return nil, err
			}
			host.Echo.OnEchoChange(true)
			out := "len " + fmt.Sprint(len(line)) + "\n"
			host.Output.WriteString(out)
			host.Output.Flush()
			return &shell.Result{Command: spec.Command, Output: out}, nil
		},
	}

	cfg := DefaultServerConfig()
	cfg.PasswordHash = mustHashPassword(t, "pw")
	url := newShellTestServer(t, cfg, runner)

	input := &lineInput{lines: make(chan string, 1)}
	input.lines <- "hunter2"
	sink := &collectSink{}
	echo := &echoLog{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := shell.NewClient(shell.ClientConfig{URL: url, Password: "pw"})
	res, err := client.Run(ctx,
		shell.CommandSpec{Command: `read -s pw; echo "len ${#pw}"`, RaiseOnNonzero: true, StdinEnabled: true},
		shell.Winsize{Rows: 33, Cols: 99},
		shell.Host{Input: input, Echo: echo, Output: sink})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.ReturnCode != 0 || res.Output != "len 7\n" {
		t.Errorf("result = %+v", res)
	}
	if sink.sb.String() != "len 7\n" || sink.flushes != 1 {
		t.Errorf("sink = %q (%d flushes)", sink.sb.String(), sink.flushes)
	}
	if len(echo.changes) != 3 || !echo.changes[0] || echo.changes[1] || !echo.changes[2] {
		t.Errorf("echo changes = %v, want [true false true]", echo.changes)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.specs) != 1 || !runner.specs[0].RaiseOnNonzero || !runner.specs[0].StdinEnabled {
		t.Errorf("specs = %+v", runner.specs)
	}
	if len(runner.sizes) != 1 || runner.sizes[0] != (shell.Winsize{Rows: 33, Cols: 99}) {
		t.Errorf("sizes = %v", runner.sizes)
	}
}

func TestShellWebSocket_CommandFailed(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error) {
			result := &shell.Result{Command: spec.Command, ExitCode: 2}
			return result, &shell.CommandFailedError{Result: result}
		},
	}
	url := newShellTestServer(t, DefaultServerConfig(), runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := shell.NewClient(shell.ClientConfig{URL: url})
	res, err := client.Run(ctx, shell.CommandSpec{Command: "exit 2", RaiseOnNonzero: true}, shell.Winsize{}, shell.Host{})
	if !errors.Is(err, shell.ErrCommandFailed) {
		t.Fatalf("Run() error = %v, want ErrCommandFailed", err)
	}
	if res.ReturnCode != 2 {
		t.Errorf("ReturnCode = %d, want 2", res.ReturnCode)
	}
}

func TestShellWebSocket_UnsupportedLocale(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error) {
			if !host.Locale.IsUTF8() {
				return nil, shell.ErrUnsupportedLocale
			}
			return &shell.Result{}, nil
		},
	}
	cfg := DefaultServerConfig()
	cfg.Locale = locale.Settings{Name: "POSIX"}
	url := newShellTestServer(t, cfg, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := shell.NewClient(shell.ClientConfig{URL: url})
	_, err := client.Run(ctx, shell.CommandSpec{Command: "true"}, shell.Winsize{}, shell.Host{})
	if err == nil || !strings.Contains(err.Error(), "UTF-8") {
		t.Errorf("Run() error = %v, want locale error", err)
	}
}

func TestShellWebSocket_AuthFailure(t *testing.T) {
	runner := &fakeRunner{}
	cfg := DefaultServerConfig()
	cfg.PasswordHash = mustHashPassword(t, "pw")
	url := newShellTestServer(t, cfg, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := shell.NewClient(shell.ClientConfig{URL: url, Password: "wrong"})
	_, err := client.Run(ctx, shell.CommandSpec{Command: "true"}, shell.Winsize{}, shell.Host{})
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("Run() error = %v, want authentication failure", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.specs) != 0 {
		t.Error("command ran despite failed authentication")
	}
}

func TestShellWebSocket_MaxSessions(t *testing.T) {
	runner := &fakeRunner{max: 1}
	runner.AcquireSession()
	url := newShellTestServer(t, DefaultServerConfig(), runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := shell.NewClient(shell.ClientConfig{URL: url})
	_, err := client.Run(ctx, shell.CommandSpec{Command: "true"}, shell.Winsize{}, shell.Host{})
	if err == nil || !strings.Contains(err.Error(), "max sessions") {
		t.Errorf("Run() error = %v, want session limit", err)
	}
}

func TestShellWebSocket_Interrupt(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error) {
			select {
			case <-host.Interrupts:
				return &shell.Result{Command: spec.Command, ExitCode: -2}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	url := newShellTestServer(t, DefaultServerConfig(), runner)

	interrupts := make(chan struct{}, 1)
	interrupts <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := shell.NewClient(shell.ClientConfig{URL: url})
	res, err := client.Run(ctx, shell.CommandSpec{Command: "sleep 60"}, shell.Winsize{}, shell.Host{Interrupts: interrupts})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ReturnCode != -2 {
		t.Errorf("ReturnCode = %d, want -2", res.ReturnCode)
	}
}

func TestShellWebSocket_InterruptBurst(t *testing.T) {
	tests := []struct {
		name string
		sent int
		want int
	}{
		{"double", 2, 2},
		{"full ladder", shell.InterruptSteps, shell.InterruptSteps},
		{"beyond ladder", shell.InterruptSteps + 1, shell.InterruptSteps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{
				run: func(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error) {
					// Let the whole burst arrive before draining it.
					select {
					case <-time.After(300 * time.Millisecond):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					got := 0
				drain:
					for {
						select {
						case <-host.Interrupts:
							got++
						default:
							break drain
						}
					}
					return &shell.Result{Command: spec.Command, ExitCode: got}, nil
				},
			}
			url := newShellTestServer(t, DefaultServerConfig(), runner)

			interrupts := make(chan struct{}, tt.sent)
			for i := 0; i < tt.sent; i++ {
				interrupts <- struct{}{}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client := shell.NewClient(shell.ClientConfig{URL: url})
			res, err := client.Run(ctx, shell.CommandSpec{Command: "sleep 60"}, shell.Winsize{}, shell.Host{Interrupts: interrupts})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ReturnCode != tt.want {
				t.Errorf("interrupts delivered = %d, want %d", res.ReturnCode, tt.want)
			}
		})
	}
}
