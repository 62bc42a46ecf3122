package sysinfo

import (
	"os"
	"runtime"
	"testing"
	"time"
)

func TestCollect(t *testing.T) {
	info := Collect()

	if info.OS != runtime.GOOS {
		t.Errorf("OS = %q, want %q", info.OS, runtime.GOOS)
	}
	if info.Arch != runtime.GOARCH {
		t.Errorf("Arch = %q, want %q", info.Arch, runtime.GOARCH)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Version == "" {
		t.Error("Version is empty")
	}
	if info.StartTime != StartTime().Unix() {
		t.Errorf("StartTime = %d, want %d", info.StartTime, StartTime().Unix())
	}
	if info.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d", info.UptimeSeconds)
	}
}

func TestBuildVersionOverride(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	Version = "v1.2.3"
	if got := BuildVersion(); got != "v1.2.3" {
		t.Errorf("BuildVersion() = %q, want v1.2.3", got)
	}
}

func TestUptimeIncreases(t *testing.T) {
	first := Uptime()
	time.Sleep(2 * time.Millisecond)
	if Uptime() <= first {
		t.Error("uptime did not increase")
	}
}
