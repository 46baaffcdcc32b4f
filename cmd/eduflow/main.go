package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/config"
	"github.com/msvignesh01/eduflow/internal/logging"
	"github.com/msvignesh01/eduflow/internal/mcp"
	"github.com/msvignesh01/eduflow/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"invoke": true, "health": true,
	"store": true, "sync": true, "data": true,
	"serve": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return cliCommands[arg] || isHelpOrVersion()
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	switch os.Args[1] {
	case "--help", "-h", "--version", "-v", "help":
		return true
	}
	return false
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
   ___    _       ___ _
  | __|__| |_  _ | __| |_____ __ __
  | _|/ _' | || || _|| / _ \ V  V /
  |___\__,_|\_,_||_| |_\___/\_/\_/

  Offline-first AI tutor backend

  Usage: eduflow <command> [options]
         eduflow --help

  MCP server mode requires piped input.`)
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Help and version need no database.
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	cliMode := isCLIMode()
	if !cliMode && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'eduflow --help' for usage.\n")
		return 1
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		return 1
	}
	baseDir := filepath.Join(homeDir, ".eduflow")

	cfg, warnings, err := loadConfig(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// MCP speaks on stdout, so every log line goes to stderr.
	var log zerolog.Logger
	if cliMode {
		log = logging.NewConsole(os.Stderr, cfg.LogLevel)
	} else {
		log = logging.New(os.Stderr, cfg.LogLevel)
	}
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	app, err := ops.Open(baseDir, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize: %v\n", err)
		return 1
	}
	defer app.Close()

	if cliMode {
		if err := newCLIApp(app).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := serve(app); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads config files under baseDir, applies EDUFLOW_* overrides
// and rejects configs no component could run with.
func loadConfig(baseDir string) (*config.Config, []string, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, nil, fmt.Errorf("invalid environment: %w", err)
	}
	warnings, err := config.Validate(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, append(warnings, toolWarnings(cfg)...), nil
}

func toolWarnings(cfg *config.Config) []string {
	var warnings []string
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		warnings = append(warnings, fmt.Sprintf("disabled_tools: unknown tools %v", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		warnings = append(warnings, fmt.Sprintf("disabled_types: unknown types %v", unknown))
	}
	return warnings
}

// serve starts background sync and answers MCP requests on stdio until
// stdin closes or the process is signalled.
func serve(app *ops.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}
	app.Log.Info().Str("version", Version).Str("base_dir", app.BaseDir).Msg("mcp server starting")
	return mcp.Run(app, Version)
}
