package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetmirror/fleetmirror/internal/daemon"
)

func init() {
	rootCmd.AddCommand(newStopCmd())
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the mirror daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sup := daemon.NewSupervisor(cfg)
			err = sup.Stop(cmd.Context())
			if errors.Is(err, daemon.ErrNotRunning) {
				// Check already cleaned any stale PID file on the way.
				fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), green.Render("daemon stopped"))
			return nil
		},
	}
}
