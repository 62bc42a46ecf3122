//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package shell

import (
	"fmt"
	"runtime"
)

// openSession is not supported on this platform.
func openSession(command string, cfg Config, stdinEnabled bool) (ptySession, error) {
	return nil, fmt.Errorf("pty sessions are not supported on %s", runtime.GOOS)
}
