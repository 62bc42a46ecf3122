package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nhooyr.io/websocket"
)

// Subprotocol is the websocket subprotocol spoken on the /shell endpoint.
const Subprotocol = "ptyshell"

// Client runs one command on a remote ptyshell server.
type Client struct {
	url      string
	password string

	conn *websocket.Conn
	wmu  sync.Mutex

	mu        sync.Mutex
	result    *ExecuteResult
	exitError error
	done      chan struct{}
}

// ClientConfig contains configuration for the shell client.
type ClientConfig struct {
	// Addr is the server address (host:port)
	Addr string
	// URL overrides the endpoint derived from Addr
	URL string
	// Password is the shell authentication password
	Password string
}

// NewClient creates a new shell client.
func NewClient(cfg ClientConfig) *Client {
	url := cfg.URL
	if url == "" {
		url = fmt.Sprintf("ws://%s/shell", cfg.Addr)
	}
	return &Client{
		url:      url,
		password: cfg.Password,
		done:     make(chan struct{}),
	}
}

// Run executes spec remotely. host supplies the local collaborators the
// same way it does for Executor.Execute; its Locale is not consulted since
// the server checks its own.
func (c *Client) Run(ctx context.Context, spec CommandSpec, size Winsize, host Host) (*ExecuteResult, error) {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	defer conn.Close(websocket.StatusNormalClosure, "")

	req, err := EncodeExecute(&ExecuteRequest{
		Command:      spec.Command,
		IgnoreErrors: !spec.RaiseOnNonzero,
		Stdin:        spec.StdinEnabled && host.Input != nil,
		Password:     c.password,
		Rows:         size.Rows,
		Cols:         size.Cols,
	})
	if err != nil {
		return nil, err
	}
	if err := c.send(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if err := c.readAck(ctx); err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.pumpEvents(sessionCtx, host)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.pumpOutput(sessionCtx, host)
	}()

	select {
	case <-c.done:
	case <-sessionCtx.Done():
	}
	cancel()
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitError != nil {
		return c.result, c.exitError
	}
	if c.result == nil {
		return nil, fmt.Errorf("connection closed before result")
	}
	if c.result.Error != "" {
		return c.result, &RemoteError{Message: c.result.Error, ReturnCode: c.result.ReturnCode}
	}
	return c.result, nil
}

// RemoteError is a command failure reported by the server.
type RemoteError struct {
	Message    string
	ReturnCode int
}

func (e *RemoteError) Error() string { return e.Message }

// Is makes a remote failure match ErrCommandFailed.
func (e *RemoteError) Is(target error) bool { return target == ErrCommandFailed }

func (c *Client) readAck(ctx context.Context) error {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ack: %w", err)
	}

	msgType, payload, err := DecodeMessage(data)
	if err != nil {
		return fmt.Errorf("invalid ack message: %w", err)
	}

	switch msgType {
	case MsgError:
		shellErr, err := DecodeError(payload)
		if err != nil {
			return fmt.Errorf("remote error: %s", string(payload))
		}
		return fmt.Errorf("remote error: %s", shellErr.Message)
	case MsgAck:
	default:
		return fmt.Errorf("unexpected message type: %s", MsgTypeName(msgType))
	}

	ack, err := DecodeAck(payload)
	if err != nil {
		return fmt.Errorf("invalid ack: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("execution refused: %s", ack.Error)
	}
	return nil
}

// pumpEvents forwards local interrupt and resize events.
func (c *Client) pumpEvents(ctx context.Context, host Host) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-host.Interrupts:
			if err := c.send(ctx, EncodeInterrupt()); err != nil {
				return
			}
		case ws := <-host.Resize:
			if err := c.send(ctx, EncodeResize(ws.Rows, ws.Cols)); err != nil {
				return
			}
		}
	}
}

// pumpInput forwards lines from the input source until ctx is done.
func (c *Client) pumpInput(ctx context.Context, input InputSource) {
	for ctx.Err() == nil {
		line, err := input.NextLine(ctx)
		if err != nil {
			if errors.Is(err, ErrInterrupted) {
				c.send(ctx, EncodeInterrupt())
				continue
			}
			return
		}
		if err := c.send(ctx, EncodeInput(line)); err != nil {
			return
		}
	}
}

// pumpOutput reads server messages until the result arrives.
func (c *Client) pumpOutput(ctx context.Context, host Host) {
	var (
		inputCancel context.CancelFunc
		inputDone   chan struct{}
	)
	stopInput := func() {
		if inputCancel != nil {
			inputCancel()
			<-inputDone
			inputCancel = nil
		}
	}
	defer stopInput()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.setError(err)
			}
			return
		}

		msgType, payload, err := DecodeMessage(data)
		if err != nil {
			c.setError(fmt.Errorf("invalid message: %w", err))
			return
		}

		switch msgType {
		case MsgOutput:
			if host.Output != nil {
				host.Output.WriteString(string(payload))
			}
		case MsgFlush:
			if host.Output != nil {
				host.Output.Flush()
			}
		case MsgStdinDisplay:
			if host.Input != nil && inputCancel == nil {
				var inputCtx context.Context
				inputCtx, inputCancel = context.WithCancel(ctx)
				inputDone = make(chan struct{})
				go func(done chan struct{}) {
					defer close(done)
					c.pumpInput(inputCtx, host.Input)
				}(inputDone)
			}
		case MsgStdinUpdate:
			echo, err := DecodeStdinUpdate(payload)
			if err == nil && host.Echo != nil {
				host.Echo.OnEchoChange(echo)
			}
		case MsgStdinRemove:
			stopInput()
		case MsgResult:
			res, err := DecodeResult(payload)
			if err != nil {
				c.setError(err)
			} else {
				c.mu.Lock()
				c.result = res
				c.mu.Unlock()
			}
			close(c.done)
			return
		case MsgError:
			shellErr, err := DecodeError(payload)
			if err != nil {
				c.setError(fmt.Errorf("remote error: %s", string(payload)))
			} else {
				c.setError(fmt.Errorf("remote error: %s", shellErr.Message))
			}
			close(c.done)
			return
		}
	}
}

func (c *Client) send(ctx context.Context, msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write(ctx, websocket.MessageBinary, msg)
}

// setError sets the exit error (thread-safe).
func (c *Client) setError(err error) {
	c.mu.Lock()
	if c.exitError == nil {
		c.exitError = err
	}
	c.mu.Unlock()
}
