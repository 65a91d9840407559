package main

import (
	"fmt"
	"io"
	"time"

	"dbconv/internal/heightmap"
	"dbconv/internal/ui"
	"dbconv/internal/update"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	primaryColor = lipgloss.Color("#7D56F4")
	dimColor     = lipgloss.Color("#6272A4")
	textColor    = lipgloss.Color("#F8F8F2")
	successColor = lipgloss.Color("#50FA7B")
	warningColor = lipgloss.Color("#F1FA8C")
)

var (
	appStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	textStyle = lipgloss.NewStyle().
			Foreground(textColor)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor)
)

// UpdateSummary describes a finished update run.
type UpdateSummary struct {
	From         string
	Version      string
	Outcome      ui.Outcome
	Path         string
	Bytes        int64
	Verification update.Verification
	SessionID    string
	Elapsed      time.Duration
}

// printUpdateSummary prints the post-install summary.
func printUpdateSummary(w io.Writer, summary UpdateSummary) {
	header := appStyle.Render("dbconv") + dimStyle.Render(fmt.Sprintf(" %s → %s", summary.From, summary.Version))
	if summary.Elapsed > 0 {
		header += dimStyle.Render(" • " + formatDuration(summary.Elapsed))
	}
	_, _ = fmt.Fprintln(w, header)

	line := "Installed " + summary.Path
	if summary.Bytes > 0 {
		line += fmt.Sprintf(" (%s)", humanize.IBytes(uint64(summary.Bytes)))
	}
	_, _ = fmt.Fprintln(w, successStyle.Render(line))

	if summary.Verification == update.VerificationPassed {
		_, _ = fmt.Fprintln(w, textStyle.Render("SHA-256 verified"))
	} else {
		_, _ = fmt.Fprintln(w, warningStyle.Render("Not verified: the release published no checksum"))
	}
}

// ConversionSummary describes a finished conversion.
type ConversionSummary struct {
	Input    string
	Output   string
	Metadata string
	Meta     heightmap.Metadata
	Elapsed  time.Duration
	Reverse  bool
}

func printConversionSummary(w io.Writer, summary ConversionSummary) {
	verb := "Converted"
	if summary.Reverse {
		verb = "Restored"
	}
	_, _ = fmt.Fprintln(w, appStyle.Render(verb)+dimStyle.Render(" • "+formatDuration(summary.Elapsed)))
	_, _ = fmt.Fprintln(w, textStyle.Render(fmt.Sprintf("%s → %s", summary.Input, summary.Output)))
	_, _ = fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("Heights %.3f to %.3f (range %.3f), metadata %s",
		summary.Meta.Min, summary.Meta.Max, summary.Meta.Delta, summary.Metadata)))
}

// plainProgress prints a line at every 10% step, for logs and pipes.
func plainProgress(w io.Writer) update.ProgressFunc {
	last := -1
	return func(p update.Progress) {
		step := int(p.Percent) / 10
		if step <= last {
			return
		}
		last = step
		_, _ = fmt.Fprintf(w, "Downloading %s / %s (%d%%)\n",
			humanize.IBytes(uint64(p.BytesDone)), humanize.IBytes(uint64(p.BytesTotal)), step*10)
	}
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
