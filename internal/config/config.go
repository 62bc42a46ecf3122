// Package config provides configuration parsing and validation for ptyshell.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/ptyshell/internal/locale"
	"github.com/postalsys/ptyshell/internal/shell"
)

// Config represents the complete ptyshell configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Shell  ShellConfig  `yaml:"shell"`
	Locale LocaleConfig `yaml:"locale"`
	Server ServerConfig `yaml:"server"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ShellConfig contains command execution settings.
type ShellConfig struct {
	Path             string            `yaml:"path"`
	Term             string            `yaml:"term"`
	WorkDir          string            `yaml:"work_dir"`
	Env              map[string]string `yaml:"env"`
	Rows             uint16            `yaml:"rows"`
	Cols             uint16            `yaml:"cols"`
	ReadChunkSize    ByteSize          `yaml:"read_chunk_size"`
	FlushQuietPeriod time.Duration     `yaml:"flush_quiet_period"`
	FlushRate        float64           `yaml:"flush_rate"`
	EchoPollInterval time.Duration     `yaml:"echo_poll_interval"`
	WatchdogGrace    time.Duration     `yaml:"watchdog_grace"`
	WatchdogMode     string            `yaml:"watchdog_mode"`
	DrainTimeout     time.Duration     `yaml:"drain_timeout"`
}

// LocaleConfig overrides what is read from the environment.
type LocaleConfig struct {
	Lang         string `yaml:"lang"`          // Used instead of LC_ALL/LC_CTYPE/LANG when set
	DisableStdin bool   `yaml:"disable_stdin"` // Never forward input
}

// ServerConfig defines the host bridge server settings.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	PasswordHash string        `yaml:"password_hash"` // bcrypt hash; empty = no authentication
	MaxSessions  int           `yaml:"max_sessions"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StdinDelay   time.Duration `yaml:"stdin_delay"`
}

// ByteSize is a size in bytes written in human form ("1MiB", "4 KB").
type ByteSize uint64

// UnmarshalYAML accepts plain integers and humanized sizes.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", value.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML writes the size in IEC units.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Default returns a Config with default values.
func Default() *Config {
	sh := shell.DefaultConfig()
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Shell: ShellConfig{
			Path:             sh.Shell,
			Term:             sh.Term,
			Env:              map[string]string{},
			Rows:             sh.Rows,
			Cols:             sh.Cols,
			ReadChunkSize:    ByteSize(sh.ReadChunkSize),
			FlushQuietPeriod: sh.FlushQuietPeriod,
			FlushRate:        sh.FlushRate,
			EchoPollInterval: sh.EchoPollInterval,
			WatchdogGrace:    sh.WatchdogGrace,
			WatchdogMode:     string(sh.WatchdogMode),
			DrainTimeout:     sh.DrainTimeout,
		},
		Server: ServerConfig{
			Enabled:      false,
			Address:      "127.0.0.1:8765",
			MaxSessions:  4,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			StdinDelay:   500 * time.Millisecond,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Shell.Path == "" {
		errs = append(errs, "shell.path is required")
	}
	if (c.Shell.Rows == 0) != (c.Shell.Cols == 0) {
		errs = append(errs, "shell.rows and shell.cols must be set together")
	}
	if c.Shell.ReadChunkSize < 1 {
		errs = append(errs, "shell.read_chunk_size must be at least 1 byte")
	}
	if c.Shell.FlushQuietPeriod < 0 {
		errs = append(errs, "shell.flush_quiet_period must not be negative")
	}
	if c.Shell.FlushRate < 0 {
		errs = append(errs, "shell.flush_rate must not be negative")
	}
	if c.Shell.WatchdogGrace <= 0 {
		errs = append(errs, "shell.watchdog_grace must be positive")
	}
	if !isValidWatchdogMode(c.Shell.WatchdogMode) {
		errs = append(errs, fmt.Sprintf("invalid shell.watchdog_mode: %s (must be sigterm or every)", c.Shell.WatchdogMode))
	}
	if c.Shell.DrainTimeout < 0 {
		errs = append(errs, "shell.drain_timeout must not be negative")
	}

	if c.Server.Enabled && c.Server.Address == "" {
		errs = append(errs, "server.address is required when enabled")
	}
	if c.Server.MaxSessions < 0 {
		errs = append(errs, "server.max_sessions must not be negative")
	}
	if c.Server.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Server.PasswordHash)); err != nil {
			errs = append(errs, fmt.Sprintf("server.password_hash is not a bcrypt hash: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isValidWatchdogMode(mode string) bool {
	switch shell.WatchdogMode(mode) {
	case shell.WatchdogAfterSigterm, shell.WatchdogEveryStep:
		return true
	default:
		return false
	}
}

// ExecutorConfig converts the shell and server sections to executor settings.
func (c *Config) ExecutorConfig() shell.Config {
	return shell.Config{
		Shell:            c.Shell.Path,
		Term:             c.Shell.Term,
		WorkDir:          c.Shell.WorkDir,
		Env:              c.Shell.Env,
		Rows:             c.Shell.Rows,
		Cols:             c.Shell.Cols,
		ReadChunkSize:    int(c.Shell.ReadChunkSize),
		FlushQuietPeriod: c.Shell.FlushQuietPeriod,
		FlushRate:        c.Shell.FlushRate,
		EchoPollInterval: c.Shell.EchoPollInterval,
		WatchdogGrace:    c.Shell.WatchdogGrace,
		WatchdogMode:     shell.WatchdogMode(c.Shell.WatchdogMode),
		DrainTimeout:     c.Shell.DrainTimeout,
		MaxSessions:      c.Server.MaxSessions,
	}
}

// LocaleSettings reads the locale from the environment through lookup and
// applies the overrides of the locale section.
func (c *Config) LocaleSettings(lookup func(string) (string, bool)) locale.Settings {
	s := locale.FromEnv(lookup)
	if c.Locale.Lang != "" {
		s.Name = c.Locale.Lang
	}
	if c.Locale.DisableStdin {
		s.StdinDisabled = true
	}
	return s
}

// String returns a string representation of the config (for debugging).
// WARNING: This method redacts sensitive values. Use StringUnsafe() for full output.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// StringUnsafe returns a string representation including sensitive values.
// Use with caution - do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
// This is safe to log or display to users.
func (c *Config) Redacted() *Config {
	// Create a deep copy by marshaling and unmarshaling
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Server.PasswordHash != "" {
		redacted.Server.PasswordHash = redactedValue
	}
	return redacted
}

// HasSensitiveData returns true if the config contains any sensitive data.
func (c *Config) HasSensitiveData() bool {
	return c.Server.PasswordHash != ""
}
