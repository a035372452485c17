// Package main implements the bdpsync CLI (A1): the command-line entry
// point wiring the BDP core packages (store, cas, folder, localscan,
// session, transport) into a runnable sync client. Structurally grounded
// on the teacher's root.go: a CLIContext bundle built once in
// PersistentPreRunE and threaded through context.Context, persistent
// flags for config/logging, and one file per subcommand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/butterflysync/bdp/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDataDir    string
	flagListen     string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIContext bundles the resolved config and logger, created once in
// PersistentPreRunE and retrieved in each RunE handler.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext extracts the CLIContext or panics — every command
// registered below goes through loadConfig in PersistentPreRunE, so a nil
// result here is always a programmer error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bdpsync",
		Short:         "Butterfly Delta Protocol sync client",
		Long:          "A peer-to-peer folder sync client speaking the Butterfly Delta Protocol.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (store, CAS, default config path)")
	cmd.PersistentFlags().StringVar(&flagListen, "listen", "", "address bdpsync sync --serve binds")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newPairCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the file/env/CLI
// override chain and stores the result in the command's context.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, DataDir: flagDataDir, Listen: flagListen}
	env := config.ReadEnvOverrides()

	cfg, path, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg)
	logger.Debug("config resolved", slog.String("path", path), slog.String("data_dir", cfg.DataDir))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &CLIContext{Cfg: cfg, Logger: logger}))

	return nil
}

// buildLogger creates an slog.Logger from the resolved config's log level,
// overridden by --verbose/--debug/--quiet, exactly as the teacher's
// buildLogger prioritizes CLI flags over the config file.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
