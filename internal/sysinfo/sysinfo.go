// Package sysinfo reports host and build details for health endpoints.
package sysinfo

import (
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

var (
	// Version is the ptyshell version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/ptyshell/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	startTime = time.Now()
)

// Info describes the process serving commands.
type Info struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Version       string `json:"version"`
	GoVersion     string `json:"go_version"`
	PID           int    `json:"pid"`
	StartTime     int64  `json:"start_time"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Collect gathers local system information.
func Collect() Info {
	hostname, _ := os.Hostname()

	return Info{
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Version:       BuildVersion(),
		GoVersion:     runtime.Version(),
		PID:           os.Getpid(),
		StartTime:     startTime.Unix(),
		UptimeSeconds: int64(Uptime().Seconds()),
	}
}

// BuildVersion returns Version, falling back to the module version recorded
// by `go install` when no version was set at link time.
func BuildVersion() string {
	if Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return Version
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}
