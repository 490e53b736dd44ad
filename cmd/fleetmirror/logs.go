package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmirror/fleetmirror/internal/config"
	"github.com/fleetmirror/fleetmirror/internal/controlplane/handlers"
	"github.com/fleetmirror/fleetmirror/internal/cpclient"
	"github.com/fleetmirror/fleetmirror/internal/daemon"
)

const (
	followPollInterval = 500 * time.Millisecond
	logPageSize        = 1000
)

func init() {
	rootCmd.AddCommand(newLogsCmd())
}

func newLogsCmd() *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon's activity log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			offset, err := printLastEntries(cmd.OutOrStdout(), cfg.Log.File, lines)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followLogs(cmd.Context(), cmd.OutOrStdout(), cfg, offset)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of recent entries to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new entries")
	return cmd
}

// printLastEntries walks the whole activity log and prints its last n entries.
// It returns the offset just past the last complete line, where a follow
// should pick up.
func printLastEntries(w io.Writer, path string, n int) (int64, error) {
	var tail []handlers.LogEntry
	var offset int64
	for {
		entries, next, hasMore, err := handlers.ReadLogPage(path, offset, logPageSize)
		if err != nil {
			return 0, err
		}
		offset = next
		tail = append(tail, entries...)
		if len(tail) > n {
			tail = tail[len(tail)-n:]
		}
		if !hasMore {
			break
		}
	}

	for _, e := range tail {
		printLogEntry(w, e)
	}
	return offset, nil
}

// followLogs streams entries written after offset. A running daemon serves
// them over its websocket; otherwise the log file itself is polled.
func followLogs(ctx context.Context, w io.Writer, cfg *config.Config, offset int64) error {
	client, err := cpclient.New(cfg.ControlPlane.Addr, cfg.ControlPlane.Token)
	if err == nil && client.Alive(ctx) {
		err := client.FollowLogs(ctx, func(e handlers.LogEntry) error {
			printLogEntry(w, e)
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	for {
		entries, next, hasMore, err := handlers.ReadLogPage(cfg.Log.File, offset, logPageSize)
		if err != nil {
			return err
		}
		offset = next
		for _, e := range entries {
			printLogEntry(w, e)
		}
		if hasMore {
			continue
		}
		if !daemon.Sleep(ctx, followPollInterval) {
			return nil
		}
	}
}
