package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fentz26/showerflow/internal/ctxlog"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

// Environment variables supplying flag defaults.
const (
	envConfig = "SHOWERFLOW_CONFIG"
	envRunDir = "SHOWERFLOW_RUN_DIR"
)

type cli struct {
	configPath string
	runDir     string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "showerflow",
		Short: "showerflow - restartable air-shower simulation pipelines",
		Long: `showerflow runs the CORSIKA air-shower simulation chain for a batch of
steering cards on a bounded worker pool. Every step is skipped on restart
when its inputs are unchanged, and a failing pipeline never stops the others.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		// No RunE - defaults to showing help when no subcommand is provided
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "run document (YAML); defaults to $"+envConfig)
	root.PersistentFlags().StringVar(&c.runDir, "run-dir", "", "override run_dir of the run document; defaults to $"+envRunDir)
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(
		c.runCmd(false),
		c.runCmd(true),
		c.validateCmd(),
		c.inspectCmd(),
		c.fixCmd(),
		c.ledgerCmd(),
		c.monitorCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if c.configPath == "" {
		c.configPath = os.Getenv(envConfig)
	}
	if c.runDir == "" {
		c.runDir = os.Getenv(envRunDir)
	}
	logger := ctxlog.New(cmd.ErrOrStderr(), c.logLevel, c.logFormat)
	slog.SetDefault(logger)
	cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
	return nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
