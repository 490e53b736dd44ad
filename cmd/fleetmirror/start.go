package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmirror/fleetmirror/internal/config"
	"github.com/fleetmirror/fleetmirror/internal/daemon"
	"github.com/fleetmirror/fleetmirror/internal/logging"
)

const startupWait = 10 * time.Second

func init() {
	rootCmd.AddCommand(newStartCmd())
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run an initial sync pass and start the mirror daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closeLog, err := logging.Setup(cfg.Log, true)
			if err != nil {
				return err
			}
			defer closeLog()

			showHeader()
			return startDaemon(cmd, cfg)
		},
	}
	return cmd
}

// startDaemon is the shared body of start and restart: refuse on a live
// instance, run the initial pass in the foreground, then detach.
func startDaemon(cmd *cobra.Command, cfg *config.Config) error {
	sup := daemon.NewSupervisor(cfg)
	if pid, alive := sup.Check(); alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	slog.Info("running initial sync pass", "targets", len(cfg.Targets))
	report, err := d.RunOnce(cmd.Context())
	// Release the history db before the daemon process opens it.
	d.Close()
	if err != nil {
		return fmt.Errorf("initial sync pass: %w", err)
	}
	printPassReport(cmd.OutOrStdout(), report)

	pid, err := sup.Spawn()
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(cmd.Context(), startupWait)
	defer cancel()
	if err := sup.WaitReady(waitCtx, pid); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), green.Render(fmt.Sprintf("\ndaemon started (pid %d)", pid)))
	return nil
}
