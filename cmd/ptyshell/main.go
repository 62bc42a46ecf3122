// Package main provides the CLI entry point for ptyshell.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postalsys/ptyshell/internal/config"
	"github.com/postalsys/ptyshell/internal/console"
	"github.com/postalsys/ptyshell/internal/health"
	"github.com/postalsys/ptyshell/internal/locale"
	"github.com/postalsys/ptyshell/internal/logging"
	"github.com/postalsys/ptyshell/internal/shell"
	"github.com/postalsys/ptyshell/internal/sysinfo"
	"github.com/postalsys/ptyshell/internal/wizard"
)

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// globalOptions holds the persistent flags shared by all commands.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// environment is everything a command needs after flag parsing.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	locale locale.Settings
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "ptyshell",
		Short: "ptyshell - Run shell commands on a pseudo-terminal",
		Long: `ptyshell runs shell commands on a fresh pseudo-terminal, streaming
their merged output as it is produced while forwarding typed input,
terminal size changes and interrupts to the command.

Commands can run locally or on a remote host through the host bridge
server.`,
		Version:       sysinfo.BuildVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text, json")

	// Add subcommands
	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(systemCmd(opts))
	rootCmd.AddCommand(getOutputCmd(opts))
	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(attachCmd(opts))
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the configuration and applies flag overrides.
func (o *globalOptions) load() (*environment, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &environment{
		cfg:    cfg,
		logger: logging.NewLogger(cfg.Log.Level, cfg.Log.Format),
		locale: cfg.LocaleSettings(os.LookupEnv),
	}, nil
}

// localRun wires an executor to the process terminal and calls fn.
func (env *environment) localRun(fn func(ctx context.Context, exec *shell.Executor, con *console.Console) error) error {
	con := console.New(os.Stdin, os.Stdout, env.logger)
	con.Start()
	defer con.Stop()

	execCfg := env.cfg.ExecutorConfig()
	if ws, ok := con.Size(); ok {
		execCfg.Rows, execCfg.Cols = ws.Rows, ws.Cols
	}
	exec := shell.NewExecutor(execCfg, env.logger)

	// SIGINT belongs to the console; SIGTERM aborts the command.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return fn(ctx, exec, con)
}

func runCmd(opts *globalOptions) *cobra.Command {
	var ignoreErrors bool
	var noStdin bool

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command>",
		Short: "Run a command and stream its output",
		Long: `Run a command on a pseudo-terminal, streaming its output to stdout.

A command that exits with a nonzero status makes ptyshell fail with the
same status unless --ignore-errors is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}
			if noStdin {
				env.locale.StdinDisabled = true
			}

			spec := shell.CommandSpec{
				Command:        strings.Join(args, " "),
				RaiseOnNonzero: !ignoreErrors,
				StdinEnabled:   true,
			}

			return env.localRun(func(ctx context.Context, exec *shell.Executor, con *console.Console) error {
				result, err := exec.Execute(ctx, spec, con.Host(env.locale))
				if err != nil {
					if errors.Is(err, shell.ErrCommandFailed) {
						fmt.Fprintln(os.Stderr, err)
						return &exitError{code: exitStatus(result.ExitCode)}
					}
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&ignoreErrors, "ignore-errors", false, "Exit 0 even if the command fails")
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "Do not forward input to the command")

	return cmd
}

func systemCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "system <command>",
		Short: "Run a command and exit with its status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}

			return env.localRun(func(ctx context.Context, exec *shell.Executor, con *console.Console) error {
				code, err := shell.System(ctx, exec, strings.Join(args, " "), con.Host(env.locale))
				if err != nil {
					return err
				}
				if code != 0 {
					return &exitError{code: exitStatus(code)}
				}
				return nil
			})
		},
	}
}

func getOutputCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "getoutput <command>",
		Short: "Run a command and print its output once it finishes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}

			return env.localRun(func(ctx context.Context, exec *shell.Executor, con *console.Console) error {
				lines, err := shell.GetOutput(ctx, exec, strings.Join(args, " "), con.Host(env.locale))
				if err != nil {
					return err
				}
				for _, line := range lines {
					fmt.Println(line)
				}
				return nil
			})
		},
	}
}

func serveCmd(opts *globalOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host bridge server",
		Long:  "Serve remote command execution over WebSocket along with health and metrics endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}
			cfg := env.cfg
			if address != "" {
				cfg.Server.Address = address
			}

			exec := shell.NewExecutor(cfg.ExecutorConfig(), env.logger)

			srv := health.NewServer(health.ServerConfig{
				Address:      cfg.Server.Address,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				PasswordHash: cfg.Server.PasswordHash,
				StdinDelay:   cfg.Server.StdinDelay,
				Locale:       env.locale,
			}, &executorStats{exec: exec}, env.logger)
			srv.SetCommandRunner(exec)

			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}

			fmt.Printf("Starting ptyshell host bridge...\n")
			fmt.Printf("Shell endpoint: ws://%s/shell\n", srv.Address())
			fmt.Printf("Health: http://%s/health\n", srv.Address())
			if cfg.Server.PasswordHash == "" {
				env.logger.Warn("host bridge running without authentication")
			}

			// Wait for shutdown signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			if err := srv.Stop(); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (overrides server.address)")

	return cmd
}

func attachCmd(opts *globalOptions) *cobra.Command {
	var addr string
	var password string
	var ignoreErrors bool
	var noStdin bool

	cmd := &cobra.Command{
		Use:   "attach --addr host:port <command>",
		Short: "Run a command on a remote host bridge",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("PTYSHELL_PASSWORD")
			}

			con := console.New(os.Stdin, os.Stdout, env.logger)
			con.Start()
			defer con.Stop()

			size, ok := con.Size()
			if !ok {
				size = shell.Winsize{Rows: env.cfg.Shell.Rows, Cols: env.cfg.Shell.Cols}
			}

			host := con.Host(env.locale)
			if noStdin {
				host.Input = nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer stop()

			client := shell.NewClient(shell.ClientConfig{Addr: addr, Password: password})
			result, err := client.Run(ctx, shell.CommandSpec{
				Command:        strings.Join(args, " "),
				RaiseOnNonzero: !ignoreErrors,
				StdinEnabled:   !noStdin,
			}, size, host)
			if err != nil {
				var remote *shell.RemoteError
				if errors.As(err, &remote) {
					fmt.Fprintln(os.Stderr, remote.Message)
					return &exitError{code: exitStatus(remote.ReturnCode)}
				}
				return err
			}
			if result.ReturnCode != 0 && !ignoreErrors {
				return &exitError{code: exitStatus(result.ReturnCode)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "Host bridge address (host:port)")
	cmd.Flags().StringVar(&password, "password", "", "Host bridge password (or PTYSHELL_PASSWORD)")
	cmd.Flags().BoolVar(&ignoreErrors, "ignore-errors", false, "Exit 0 even if the command fails")
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "Do not forward input to the command")

	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}

func configCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the effective configuration with sensitive values redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}
			fmt.Print(env.cfg.String())
			if !env.locale.IsUTF8() {
				fmt.Fprintf(os.Stderr, "warning: locale %s is not UTF-8, commands will be refused\n", env.locale)
			}
			return nil
		},
	}
}

// executorStats exposes executor state to the health server.
type executorStats struct {
	exec *shell.Executor
}

func (s *executorStats) IsRunning() bool {
	return true
}

func (s *executorStats) Stats() health.Stats {
	cfg := s.exec.Config()
	return health.Stats{
		ActiveSessions: s.exec.ActiveSessions(),
		MaxSessions:    cfg.MaxSessions,
		Shell:          cfg.Shell,
	}
}

// exitStatus maps a command result to a process exit status, following
// the shell convention of 128+n for death by signal n.
func exitStatus(code int) int {
	if code < 0 {
		return 128 - code
	}
	if code > 255 {
		return 1
	}
	return code
}
