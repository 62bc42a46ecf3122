package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"nhooyr.io/websocket"

	"github.com/postalsys/ptyshell/internal/logging"
	"github.com/postalsys/ptyshell/internal/recovery"
	"github.com/postalsys/ptyshell/internal/shell"
)

// CommandRunner executes commands for the /shell endpoint.
// *shell.Executor implements it.
type CommandRunner interface {
	AcquireSession() error
	ReleaseSession()
	Execute(ctx context.Context, spec shell.CommandSpec, host shell.Host) (*shell.Result, error)
}

// ValidateAuth checks the password against the configured bcrypt hash.
// Returns nil if no hash is configured or the password matches.
func (s *Server) ValidateAuth(password string) error {
	if s.cfg.PasswordHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)); err != nil {
		return errors.New("authentication failed")
	}
	return nil
}

// handleShellWebSocket runs one command per websocket connection.
// GET /shell
func (s *Server) handleShellWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "shell not available", http.StatusServiceUnavailable)
		return
	}

	// Commands outlive the server's HTTP timeouts.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{shell.Subprotocol},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	out := &wsWriter{conn: conn, ctx: ctx}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "failed to read request")
		return
	}
	msgType, payload, err := shell.DecodeMessage(data)
	if err != nil || msgType != shell.MsgExecute {
		conn.Close(websocket.StatusProtocolError, "expected EXECUTE")
		return
	}
	req, err := shell.DecodeExecute(payload)
	if err != nil {
		out.sendError(err)
		conn.Close(websocket.StatusProtocolError, "invalid request")
		return
	}

	logger := s.logger.With(logging.KeyRemote, r.RemoteAddr, logging.KeyCommand, req.Command)

	if err := s.ValidateAuth(req.Password); err != nil {
		logger.Warn("shell authentication failed")
		out.sendAck(err)
		return
	}
	if err := s.runner.AcquireSession(); err != nil {
		shell.RecordRejected()
		logger.Warn("shell session rejected", logging.KeyError, err)
		out.sendAck(err)
		return
	}
	defer s.runner.ReleaseSession()

	if err := out.sendAck(nil); err != nil {
		return
	}

	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	host := newWSHost(out, s.cfg)
	if req.Rows > 0 && req.Cols > 0 {
		host.resize <- shell.Winsize{Rows: req.Rows, Cols: req.Cols}
	}

	// Incoming messages are read until the connection closes. A client that
	// disconnects early cancels the execution.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancelExec()
		defer recovery.Guard(logger, "shell-read", nil)
		host.readLoop(ctx, conn)
	}()

	if req.Stdin {
		out.send(shell.EncodeStdinDisplay(s.cfg.StdinDelay))
	}

	result, err := s.runner.Execute(execCtx, shell.CommandSpec{
		Command:        req.Command,
		RaiseOnNonzero: !req.IgnoreErrors,
		StdinEnabled:   req.Stdin,
	}, host.Host())

	if req.Stdin {
		out.send(shell.EncodeStdinRemove())
	}

	var failed *shell.CommandFailedError
	switch {
	case err == nil, errors.As(err, &failed):
		res := &shell.ExecuteResult{ReturnCode: result.ExitCode, Output: result.Output}
		if err != nil {
			res.Error = err.Error()
		}
		if msg, encErr := shell.EncodeResult(res); encErr == nil {
			out.send(msg)
		}
	default:
		logger.Debug("execution failed", logging.KeyError, err)
		out.sendError(err)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// wsWriter serializes writes to the connection.
type wsWriter struct {
	conn *websocket.Conn
	ctx  context.Context
	mu   sync.Mutex
}

func (w *wsWriter) send(msg []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(w.ctx, websocket.MessageBinary, msg)
}

func (w *wsWriter) sendAck(err error) error {
	ack := &shell.ExecuteAck{Success: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	msg, encErr := shell.EncodeAck(ack)
	if encErr != nil {
		return encErr
	}
	return w.send(msg)
}

func (w *wsWriter) sendError(err error) {
	if msg, encErr := shell.EncodeError(&shell.ShellError{Message: err.Error()}); encErr == nil {
		w.send(msg)
	}
}

// wsHost adapts a websocket connection to shell.Host collaborators.
type wsHost struct {
	out        *wsWriter
	cfg        ServerConfig
	lines      chan string
	interrupts chan struct{}
	resize     chan shell.Winsize
	closed     chan struct{}
}

func newWSHost(out *wsWriter, cfg ServerConfig) *wsHost {
	return &wsHost{
		out:        out,
		cfg:        cfg,
		lines:      make(chan string, 16),
		interrupts: make(chan struct{}, shell.InterruptSteps),
		resize:     make(chan shell.Winsize, 1),
		closed:     make(chan struct{}),
	}
}

func (h *wsHost) Host() shell.Host {
	return shell.Host{
		Input:      h,
		Echo:       h,
		Output:     h,
		Interrupts: h.interrupts,
		Resize:     h.resize,
		Locale:     h.cfg.Locale,
	}
}

// readLoop dispatches client messages until the connection fails.
func (h *wsHost) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(h.closed)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msgType, payload, err := shell.DecodeMessage(data)
		if err != nil {
			continue
		}

		switch msgType {
		case shell.MsgInput:
			select {
			case h.lines <- string(payload):
			case <-ctx.Done():
				return
			}
		case shell.MsgInterrupt:
			// Beyond a full ladder the command is already being killed.
			select {
			case h.interrupts <- struct{}{}:
			default:
			}
		case shell.MsgResize:
			rows, cols, err := shell.DecodeResize(payload)
			if err != nil {
				continue
			}
			// Keep only the latest size.
			select {
			case <-h.resize:
			default:
			}
			h.resize <- shell.Winsize{Rows: rows, Cols: cols}
		}
	}
}

// NextLine implements shell.InputSource.
func (h *wsHost) NextLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-h.lines:
		return line, nil
	case <-h.closed:
		return "", errors.New("connection closed")
	}
}

// OnEchoChange implements shell.EchoSink.
func (h *wsHost) OnEchoChange(enabled bool) {
	h.out.send(shell.EncodeStdinUpdate(enabled))
}

// WriteString implements shell.OutputSink.
func (h *wsHost) WriteString(text string) (int, error) {
	if err := h.out.send(shell.EncodeOutput(text)); err != nil {
		return 0, err
	}
	return len(text), nil
}

// Flush implements shell.OutputSink.
func (h *wsHost) Flush() error {
	return h.out.send(shell.EncodeFlush())
}
