package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetmirror/fleetmirror/internal/config"
	"github.com/fleetmirror/fleetmirror/internal/cpclient"
	"github.com/fleetmirror/fleetmirror/internal/history"
	"github.com/fleetmirror/fleetmirror/internal/status"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and per-target mirror state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			snap, err := fetchSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			renderStatus(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status snapshot as JSON")
	return cmd
}

// fetchSnapshot prefers the running daemon's own view and falls back to
// reading the state directory directly when it is down.
func fetchSnapshot(ctx context.Context, cfg *config.Config) (*status.Snapshot, error) {
	client, err := cpclient.New(cfg.ControlPlane.Addr, cfg.ControlPlane.Token)
	if err == nil && client.Alive(ctx) {
		return client.Status(ctx)
	}

	reporter := status.NewReporter(cfg.PIDFile, cfg.Interval, cfg.Targets)
	if _, err := os.Stat(cfg.HistoryDB); err == nil {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		reporter.WithHistory(store)
	}
	return reporter.Snapshot(ctx), nil
}
