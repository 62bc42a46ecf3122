//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// unixSession is a command running as session leader on a pty.
type unixSession struct {
	ptmx *os.File
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
	closed   bool
}

// openSession allocates a pty and starts `<cfg.Shell> -c command` on it.
// Stdout and stderr are the terminal; stdin is the terminal too unless
// stdinEnabled is false, in which case it is /dev/null.
func openSession(command string, cfg Config, stdinEnabled bool) (ptySession, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}

	if err := setWinsize(ptmx, cfg.Rows, cfg.Cols); err != nil {
		tty.Close()
		ptmx.Close()
		return nil, fmt.Errorf("failed to set pty size: %w", err)
	}
	if err := configureTerminal(tty); err != nil {
		tty.Close()
		ptmx.Close()
		return nil, fmt.Errorf("failed to configure pty: %w", err)
	}

	cmd := exec.Command(cfg.Shell, "-c", command)
	cmd.Dir = cfg.WorkDir
	cmd.Env = os.Environ()
	if cfg.Term != "" {
		cmd.Env = append(cmd.Env, "TERM="+cfg.Term)
	}
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var devNull *os.File
	if stdinEnabled {
		cmd.Stdin = tty
	} else {
		devNull, err = os.Open(os.DevNull)
		if err != nil {
			tty.Close()
			ptmx.Close()
			return nil, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
		}
		cmd.Stdin = devNull
	}
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    1, // fd 1 in child = pty subordinate, even when stdin is /dev/null
	}

	err = cmd.Start()
	// The child holds its own copies.
	tty.Close()
	if devNull != nil {
		devNull.Close()
	}
	if err != nil {
		ptmx.Close()
		return nil, err
	}

	s := &unixSession{
		ptmx:     ptmx,
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go s.wait()

	return s, nil
}

func (s *unixSession) wait() {
	err := s.cmd.Wait()
	code := exitStatus(s.cmd.ProcessState, err)

	s.mu.Lock()
	s.exitCode = code
	s.exited = true
	s.mu.Unlock()
	close(s.done)
}

// exitStatus converts a wait result into an exit code, negating the signal
// number for processes killed by a signal.
func exitStatus(state *os.ProcessState, err error) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return -int(ws.Signal())
		}
		return ws.ExitStatus()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return state.ExitCode()
}

// Read reads raw output from the controller side. A hangup is
// reported as io.EOF.
func (s *unixSession) Read(p []byte) (int, error) {
	n, err := s.ptmx.Read(p)
	if err != nil && errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

// Write writes input to the terminal.
func (s *unixSession) Write(p []byte) (int, error) {
	return s.ptmx.Write(p)
}

// EchoEnabled reports whether the terminal currently echoes input.
func (s *unixSession) EchoEnabled() (bool, error) {
	t, err := getTermios(s.ptmx)
	if err != nil {
		return false, err
	}
	return t.Lflag&unix.ECHO != 0, nil
}

// Resize resizes the terminal.
func (s *unixSession) Resize(rows, cols uint16) error {
	return setWinsize(s.ptmx, rows, cols)
}

// SignalGroup signals every process in the command's process group.
func (s *unixSession) SignalGroup(sig syscall.Signal) error {
	// Setsid made the child a group leader, so its pid is the group id.
	return unix.Kill(-s.pid, sig)
}

// Pid returns the child's process id.
func (s *unixSession) Pid() int {
	return s.pid
}

// Done is closed once the child has been reaped.
func (s *unixSession) Done() <-chan struct{} {
	return s.done
}

// ExitStatus returns the exit status without blocking. ok is false while
// the child is still running.
func (s *unixSession) ExitStatus() (code int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.exited
}

// Close closes the controller side. It is safe to call more than once.
func (s *unixSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.ptmx.Close()
}

// configureTerminal disables NL to CR-NL translation on output and the
// ^X rendering of echoed control characters.
func configureTerminal(tty *os.File) error {
	t, err := getTermios(tty)
	if err != nil {
		return err
	}
	t.Oflag &^= unix.ONLCR
	t.Lflag &^= unix.ECHOCTL
	return setTermios(tty, t)
}

// The helpers below go through SyscallConn so the descriptors stay in
// non-blocking mode; os.File.Fd would switch them to blocking.

func getTermios(f *os.File) (*unix.Termios, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil, err
	}
	var t *unix.Termios
	var ioctlErr error
	if err := rc.Control(func(fd uintptr) {
		t, ioctlErr = unix.IoctlGetTermios(int(fd), ioctlReadTermios)
	}); err != nil {
		return nil, err
	}
	return t, ioctlErr
}

func setTermios(f *os.File, t *unix.Termios) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	if err := rc.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetTermios(int(fd), ioctlWriteTermios, t)
	}); err != nil {
		return err
	}
	return ioctlErr
}

func setWinsize(f *os.File, rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return nil
	}
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	if err := rc.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{Row: rows, Col: cols})
	}); err != nil {
		return err
	}
	return ioctlErr
}
