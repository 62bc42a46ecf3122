// Package wizard provides an interactive setup wizard for ptyshell.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/ptyshell/internal/config"
	"github.com/postalsys/ptyshell/internal/shell"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// answers holds everything the forms collect.
type answers struct {
	shellPath     string
	term          string
	workDir       string
	readChunk     string
	watchdogMode  string
	watchdogGrace string
	disableStdin  bool

	serverEnabled bool
	serverAddress string
	password      string
	maxSessions   string

	logLevel  string
	logFormat string
}

func defaultAnswers() answers {
	def := config.Default()
	return answers{
		shellPath:     def.Shell.Path,
		term:          def.Shell.Term,
		readChunk:     def.Shell.ReadChunkSize.String(),
		watchdogMode:  def.Shell.WatchdogMode,
		watchdogGrace: def.Shell.WatchdogGrace.String(),
		serverAddress: def.Server.Address,
		maxSessions:   strconv.Itoa(def.Server.MaxSessions),
		logLevel:      def.Log.Level,
		logFormat:     def.Log.Format,
	}
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := defaultAnswers()

	// Step 1: Where to write the config
	configPath, err := w.askBasicSetup()
	if err != nil {
		return nil, err
	}

	// Step 2: Shell and terminal
	if err := w.askShellConfig(&a); err != nil {
		return nil, err
	}

	// Step 3: Interrupt handling
	if err := w.askInterruptConfig(&a); err != nil {
		return nil, err
	}

	// Step 4: Host bridge server
	if err := w.askServerConfig(&a); err != nil {
		return nil, err
	}

	// Step 5: Logging
	if err := w.askAdvancedOptions(&a); err != nil {
		return nil, err
	}

	cfg, err := w.buildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := w.writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	w.printSummary(configPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: configPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
        _             _          _ _
  _ __ | |_ _   _ ___| |__   ___| | |
 | '_ \| __| | | / __| '_ \ / _ \ | |
 | |_) | |_| |_| \__ \ | | |  __/ | |
 | .__/ \__|\__, |___/_| |_|\___|_|_|
 |_|        |___/
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Pseudo-terminal Command Runner - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup() (configPath string, err error) {
	configPath = "./ptyshell.yaml"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose where the configuration file is written."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./ptyshell.yaml").
				Value(&configPath).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askShellConfig(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Shell").
				Description("Commands run as `<shell> -c <command>` on a fresh terminal."),

			huh.NewInput().
				Title("Shell Path").
				Description("Interpreter used to run commands").
				Placeholder("/bin/bash").
				Value(&a.shellPath).
				Validate(validateShellPath),

			huh.NewInput().
				Title("TERM").
				Description("Terminal type exported to commands").
				Placeholder("xterm-256color").
				Value(&a.term),

			huh.NewInput().
				Title("Working Directory").
				Description("Leave empty to inherit the current directory").
				Value(&a.workDir),

			huh.NewInput().
				Title("Read Chunk Size").
				Description("Largest single read from the terminal (e.g. 1MiB, 4KB)").
				Placeholder("1.0 MiB").
				Value(&a.readChunk).
				Validate(validateSize),

			huh.NewConfirm().
				Title("Disable interactive input?").
				Description("Commands that read stdin will fail instead of prompting").
				Value(&a.disableStdin),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askInterruptConfig(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Interrupts").
				Description("Ctrl-C sends SIGINT, then SIGTERM, then SIGKILL.\nThe watchdog escalates on its own when a command ignores a signal."),

			huh.NewSelect[string]().
				Title("Watchdog").
				Options(
					huh.NewOption("Arm after SIGTERM (Recommended)", string(shell.WatchdogAfterSigterm)),
					huh.NewOption("Arm after every signal", string(shell.WatchdogEveryStep)),
				).
				Value(&a.watchdogMode),

			huh.NewInput().
				Title("Watchdog Grace").
				Description("How long a signalled command may keep running").
				Placeholder("500ms").
				Value(&a.watchdogGrace).
				Validate(validateDuration),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askServerConfig(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Host Bridge").
				Description("A WebSocket endpoint lets remote hosts run commands here."),

			huh.NewConfirm().
				Title("Enable the host bridge server?").
				Value(&a.serverEnabled),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}
	if !a.serverEnabled {
		return nil
	}

	serverForm := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen Address").
				Description("Address for /shell, /health and /metrics").
				Placeholder("127.0.0.1:8765").
				Value(&a.serverAddress).
				Validate(validateAddress),

			huh.NewInput().
				Title("Password").
				Description("Leave empty to disable authentication").
				EchoMode(huh.EchoModePassword).
				Value(&a.password),

			huh.NewInput().
				Title("Max Sessions").
				Description("Concurrent commands (0 = unlimited)").
				Placeholder("4").
				Value(&a.maxSessions).
				Validate(validateCount),
		),
	).WithTheme(w.theme)

	return serverForm.Run()
}

func (w *Wizard) askAdvancedOptions(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Logging"),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info (Recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&a.logLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Text", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&a.logFormat),
		),
	).WithTheme(w.theme)

	return form.Run()
}

// buildConfig turns the collected answers into a validated configuration.
func (w *Wizard) buildConfig(a answers) (*config.Config, error) {
	cfg := config.Default()

	cfg.Log.Level = a.logLevel
	cfg.Log.Format = a.logFormat

	cfg.Shell.Path = a.shellPath
	if a.term != "" {
		cfg.Shell.Term = a.term
	}
	cfg.Shell.WorkDir = a.workDir
	if a.readChunk != "" {
		n, err := humanize.ParseBytes(a.readChunk)
		if err != nil {
			return nil, fmt.Errorf("invalid read chunk size: %w", err)
		}
		cfg.Shell.ReadChunkSize = config.ByteSize(n)
	}
	if a.watchdogMode != "" {
		cfg.Shell.WatchdogMode = a.watchdogMode
	}
	if a.watchdogGrace != "" {
		d, err := time.ParseDuration(a.watchdogGrace)
		if err != nil {
			return nil, fmt.Errorf("invalid watchdog grace: %w", err)
		}
		cfg.Shell.WatchdogGrace = d
	}
	cfg.Locale.DisableStdin = a.disableStdin

	cfg.Server.Enabled = a.serverEnabled
	if a.serverEnabled {
		cfg.Server.Address = a.serverAddress
		if a.maxSessions != "" {
			n, err := strconv.Atoi(a.maxSessions)
			if err != nil {
				return nil, fmt.Errorf("invalid max sessions: %w", err)
			}
			cfg.Server.MaxSessions = n
		}
		if a.password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(a.password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password: %w", err)
			}
			cfg.Server.PasswordHash = string(hash)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Add header comment
	header := `# ptyshell Configuration
# Generated by setup wizard

`
	// The file may hold a password hash.
	if err := os.WriteFile(path, []byte(header+string(data)), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Shell:        %s (TERM=%s)\n", cfg.Shell.Path, cfg.Shell.Term)
	fmt.Printf("  Read chunk:   %s\n", humanize.IBytes(uint64(cfg.Shell.ReadChunkSize)))
	fmt.Printf("  Watchdog:     %s after %s\n", cfg.Shell.WatchdogMode, cfg.Shell.WatchdogGrace)
	if cfg.Locale.DisableStdin {
		fmt.Println("  Input:        disabled")
	}
	fmt.Println()

	if cfg.Server.Enabled {
		fmt.Printf("  Bridge:       ws://%s/shell\n", cfg.Server.Address)
		fmt.Printf("  Health:       http://%s/health\n", cfg.Server.Address)
		if cfg.Server.PasswordHash == "" {
			fmt.Println("  Auth:         none")
		}
		fmt.Println()
		fmt.Println("  To start the bridge:")
		fmt.Printf("    ptyshell serve -c %s\n", configPath)
	} else {
		fmt.Println("  To run a command:")
		fmt.Printf("    ptyshell run -c %s -- 'ls -la'\n", configPath)
	}
	fmt.Println()
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateShellPath(s string) error {
	if s == "" {
		return fmt.Errorf("shell path is required")
	}
	info, err := os.Stat(s)
	if err != nil {
		return fmt.Errorf("shell not found: %s", s)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return fmt.Errorf("shell is not executable: %s", s)
	}
	return nil
}

func validateSize(s string) error {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size: %s", s)
	}
	if n < 1 {
		return fmt.Errorf("size must be at least 1 byte")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %s", s)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}

func validateAddress(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("invalid address (use host:port): %s", s)
	}
	return nil
}

func validateCount(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}
