// Package cli implements the askarc command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"askarc/internal/config"
	"askarc/internal/logging"
)

// app carries state resolved by the root command for its subcommands.
type app struct {
	cfgFile  string
	logLevel string

	cfg     *config.AppConfig
	cfgPath string
	logger  *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "askarc",
		Short:         "askarc answers questions about Algorand ARC standards from a curated Q&A corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./config.yaml or ~/.config/askarc/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newBuildCmd(a),
		newAskCmd(a),
		newChatCmd(a),
		newServeCmd(a),
		newNormalizeCmd(a),
		newConfigCmd(a),
	)
	return root
}

// load reads .env, then the config file, then sets up logging. The chat
// command logs to file only so the terminal UI is not overwritten.
func (a *app) load(cmd *cobra.Command) error {
	_ = godotenv.Load()

	var err error
	if a.cfgFile != "" {
		a.cfg, err = config.Load(a.cfgFile)
		a.cfgPath = a.cfgFile
	} else {
		a.cfg, a.cfgPath, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}

	opts := logging.Options{Level: a.cfg.Log.Level, Format: a.cfg.Log.Format, File: a.cfg.Log.File}
	if cmd.Name() == "chat" {
		opts.Quiet = true
		if opts.File == "" {
			opts.File = "askarc.log"
		}
	}
	a.logger, err = logging.Init(opts)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.logger.Debug("config loaded", "path", a.cfgPath)
	return nil
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
