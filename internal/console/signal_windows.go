//go:build windows

package console

import "os"

// setupResizeSignal is a no-op on Windows, which has no SIGWINCH.
func setupResizeSignal(sigCh chan os.Signal) {}
