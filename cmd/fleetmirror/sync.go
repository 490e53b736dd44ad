package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetmirror/fleetmirror/internal/cpclient"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Ask the running daemon to run a sync pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			client, err := cpclient.New(cfg.ControlPlane.Addr, cfg.ControlPlane.Token)
			if err != nil {
				return err
			}
			if !client.Alive(cmd.Context()) {
				return fmt.Errorf("daemon is not running, start it with `fleetmirror start`")
			}

			err = client.SyncNow(cmd.Context())
			if errors.Is(err, cpclient.ErrPassInProgress) {
				fmt.Fprintln(cmd.OutOrStdout(), "a sync pass is already running")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), green.Render("sync pass requested"))
			return nil
		},
	}
}
