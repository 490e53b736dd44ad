package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/fleetmirror/fleetmirror/internal/controlplane/handlers"
	"github.com/fleetmirror/fleetmirror/internal/mirror"
	"github.com/fleetmirror/fleetmirror/internal/status"
	"github.com/fleetmirror/fleetmirror/internal/version"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
)

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("FleetMirror %s\n", version.Version)
}

func styleTargetOutcome(o mirror.TargetOutcome) string {
	switch o {
	case mirror.TargetOK:
		return green.Render(string(o))
	case mirror.TargetPartial:
		return yellow.Render(string(o))
	case mirror.TargetFailed:
		return red.Render(string(o))
	default:
		return gray.Render("never synced")
	}
}

func stylePassOutcome(o mirror.PassOutcome) string {
	switch o {
	case mirror.PassAllOk:
		return green.Render(string(o))
	case mirror.PassSomeDegraded:
		return yellow.Render(string(o))
	case mirror.PassAllFailed:
		return red.Render(string(o))
	default:
		return string(o)
	}
}

func styleSyncResult(r mirror.SyncResult) string {
	switch r.Status {
	case mirror.SyncSuccess:
		return green.Render("success")
	case mirror.SyncSkipped:
		return gray.Render("skipped (" + r.Reason + ")")
	case mirror.SyncFailed:
		return red.Render("failed: " + r.Error)
	default:
		return string(r.Status)
	}
}

func fmtAgo(t *time.Time) string {
	if t == nil || t.IsZero() {
		return gray.Render("never")
	}
	return humanize.Time(*t)
}

// printPassReport is the operator-facing summary of one finished pass, used
// by start's initial sync.
func printPassReport(w io.Writer, report *mirror.PassReport) {
	fmt.Fprintf(w, "\npass %s in %s\n",
		stylePassOutcome(report.Outcome),
		report.Duration().Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, t := range report.Targets {
		fmt.Fprintf(tw, "  %s\t%s\tlogs: %s\tdata: %s\n",
			t.Label,
			styleTargetOutcome(t.Outcome),
			styleSyncResult(t.Logs),
			styleSyncResult(t.Data))
	}
	tw.Flush()
}

// renderStatus prints the human-readable status view.
func renderStatus(w io.Writer, snap *status.Snapshot) {
	if snap.Running {
		up := ""
		if snap.StartedAt != nil {
			up = ", up since " + humanize.Time(*snap.StartedAt)
		}
		fmt.Fprintf(w, "%s  running (pid %d%s)\n", green.Render("●"), snap.PID, up)
	} else {
		fmt.Fprintf(w, "%s  not running\n", red.Render("●"))
	}

	fmt.Fprintf(w, "   version   %s (%s)\n", snap.Version, snap.Revision)
	fmt.Fprintf(w, "   interval  %ds\n", snap.IntervalSeconds)

	if snap.LastPass != nil {
		fmt.Fprintf(w, "   last pass %s %s\n",
			stylePassOutcome(snap.LastPass.Outcome),
			gray.Render(humanize.Time(snap.LastPass.FinishedAt)))
	} else {
		fmt.Fprintf(w, "   last pass %s\n", gray.Render("none recorded"))
	}
	if snap.ConsecutiveFailures > 0 {
		fmt.Fprintf(w, "   %s\n", red.Render(fmt.Sprintf("consecutive failed passes: %d", snap.ConsecutiveFailures)))
	}

	if len(snap.Targets) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, lightGray.Render("   TARGET\tLAST OUTCOME\tLAST OK\tLOGS\tDATA\tLAST WRITE"))
	for _, t := range snap.Targets {
		fmt.Fprintf(tw, "   %s\t%s\t%s\t%s\t%s\t%s\n",
			t.Label,
			styleTargetOutcome(t.LastOutcome),
			fmtAgo(t.LastOKAt),
			humanize.IBytes(uint64(t.LogBytes)),
			humanize.IBytes(uint64(t.DataBytes)),
			fmtAgo(t.LastWrite))
	}
	tw.Flush()
}

// printLogEntry renders one activity-log line for the logs command.
func printLogEntry(w io.Writer, e handlers.LogEntry) {
	level := strings.ToUpper(e.Level)
	switch e.Level {
	case "error":
		level = red.Render(level)
	case "warn":
		level = yellow.Render(level)
	case "debug":
		level = gray.Render(level)
	default:
		level = cyan.Render(level)
	}
	fmt.Fprintf(w, "%s %s %s\n", gray.Render(e.Timestamp), level, e.Message)
}
