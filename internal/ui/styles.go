package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var (
	cPrimary   = lipgloss.Color("#7D56F4")
	cSecondary = lipgloss.Color("#FF79C6")
	cDim       = lipgloss.Color("#6272A4")
	cText      = lipgloss.Color("#F8F8F2")
	cSuccess   = lipgloss.Color("#50FA7B")
	cWarning   = lipgloss.Color("#F1FA8C")
	cError     = lipgloss.Color("#FF5555")
	cCritical  = lipgloss.Color("#FFFFFF")
)

var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cPrimary)

	styleVersion = lipgloss.NewStyle().
			Foreground(cSecondary).
			Bold(true)

	styleDim = lipgloss.NewStyle().
			Foreground(cDim)

	styleText = lipgloss.NewStyle().
			Foreground(cText)

	styleSpinner = lipgloss.NewStyle().
			Foreground(cSecondary)

	styleSuccess = lipgloss.NewStyle().
			Foreground(cSuccess).
			Bold(true)

	styleWarning = lipgloss.NewStyle().
			Foreground(cWarning)

	styleError = lipgloss.NewStyle().
			Foreground(cError).
			Bold(true)

	// Critical failures get a solid banner so they can't be mistaken for a
	// routine error.
	styleCritical = lipgloss.NewStyle().
			Foreground(cCritical).
			Background(cError).
			Bold(true).
			Padding(0, 1)

	styleLink = lipgloss.NewStyle().
			Foreground(cPrimary).
			Underline(true)

	styleKey = lipgloss.NewStyle().
			Foreground(cSecondary).
			Bold(true)

	styleToast = lipgloss.NewStyle().
			Foreground(cSuccess).
			Italic(true)

	styleDialog = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(cPrimary).
			Padding(1, 2)
)

func buildMarkdownRenderer(format string, width int) func(string) string {
	fallback := func(input string) string {
		return wordwrap.String(input, width)
	}

	style := strings.ToLower(strings.TrimSpace(format))
	if style == "" || style == "rich" || style == "dark" {
		style = "dark"
	}
	if style == "plain" {
		return fallback
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fallback
	}
	return func(input string) string {
		out, err := renderer.Render(input)
		if err != nil {
			return fallback(input)
		}
		return strings.TrimSpace(out)
	}
}
