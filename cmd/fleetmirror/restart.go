package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetmirror/fleetmirror/internal/daemon"
	"github.com/fleetmirror/fleetmirror/internal/logging"
)

func init() {
	rootCmd.AddCommand(newRestartCmd())
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the mirror daemon",
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

			sup := daemon.NewSupervisor(cfg)
			if err := sup.Stop(cmd.Context()); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
				return err
			}

			// Let the old process finish releasing its files.
			if !daemon.Sleep(cmd.Context(), cfg.RestartSettle) {
				return cmd.Context().Err()
			}

			fmt.Fprintln(cmd.OutOrStdout(), "restarting")
			return startDaemon(cmd, cfg)
		},
	}
}
