package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fleetmirror/fleetmirror/internal/daemon"
	"github.com/fleetmirror/fleetmirror/internal/logging"
	"github.com/fleetmirror/fleetmirror/internal/version"
)

func init() {
	rootCmd.AddCommand(newRunCmd())
}

// newRunCmd is the mirror loop itself. `start` spawns it detached, so it is
// hidden from help; with --foreground it also serves as the entry point for
// systemd-style supervision.
func newRunCmd() *cobra.Command {
	var foreground bool

	runCmd := &cobra.Command{
		Use:    "run",
		Short:  "Run the mirror loop in this process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closeLog, err := logging.Setup(cfg.Log, foreground)
			if err != nil {
				return err
			}
			defer closeLog()

			slog.Info("fleetmirror", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
			if cfg.Path != "" {
				slog.Info("using config", "path", cfg.Path)
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := d.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon run", "error", err)
				return err
			}
			return nil
		},
	}

	runCmd.Flags().BoolVar(&foreground, "foreground", false, "log to the console as well as the activity log")

	return runCmd
}
