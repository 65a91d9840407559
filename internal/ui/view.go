package ui

import (
	"errors"
	"fmt"
	"strings"

	appErrors "dbconv/internal/errors"
	"dbconv/internal/update"

	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"
)

func (m *Dialog) View() string {
	var b strings.Builder

	b.WriteString(m.header())
	b.WriteString("\n\n")

	switch m.stage {
	case stagePrompt:
		b.WriteString(m.promptView())
	case stageDownloading:
		b.WriteString(m.downloadView())
	case stageInstalling:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(styleText.Render("Installing to " + m.truncate(m.installTarget())))
	case stageDone:
		b.WriteString(m.doneView())
	}

	if m.showCopyToast {
		b.WriteString("\n\n")
		b.WriteString(styleToast.Render("Copied release link to clipboard."))
	} else if m.notice != "" {
		b.WriteString("\n\n")
		b.WriteString(styleWarning.Render(wordwrap.String(m.notice, m.contentWidth())))
	}

	b.WriteString("\n\n")
	b.WriteString(m.helpLine())
	return styleDialog.Render(b.String())
}

func (m *Dialog) header() string {
	from := m.release.Current
	if from == "" {
		from = "unknown"
	}
	return styleTitle.Render("Update available") + "  " +
		styleDim.Render(from+" → ") + styleVersion.Render(m.release.Version)
}

func (m *Dialog) promptView() string {
	var lines []string

	meta := []string{}
	if m.release.Size > 0 {
		meta = append(meta, humanize.IBytes(m.release.Size))
	}
	if !m.release.Released.IsZero() {
		meta = append(meta, "released "+m.release.Released.Format("2006-01-02"))
	}
	if m.release.AssetName != "" {
		meta = append(meta, m.release.AssetName)
	}
	if len(meta) > 0 {
		lines = append(lines, styleDim.Render(strings.Join(meta, " • ")))
	}
	if m.release.Checksum != "" {
		lines = append(lines, styleSuccess.Render("SHA-256 published; the download will be verified."))
	} else {
		lines = append(lines, styleWarning.Render(wordwrap.String(
			"No checksum was published for this release; the download cannot be verified.", m.contentWidth())))
	}
	lines = append(lines, "", m.notes.View())
	return strings.Join(lines, "\n")
}

func (m *Dialog) downloadView() string {
	var b strings.Builder
	b.WriteString(m.bar.View())
	b.WriteString("\n")

	p := m.latest
	switch {
	case m.cancelling:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(styleWarning.Render("Cancelling..."))
	case p.BytesTotal > 0 && p.BytesDone >= p.BytesTotal:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(styleText.Render("Verifying download..."))
	default:
		b.WriteString(styleDim.Render(formatProgress(p)))
	}
	return b.String()
}

func (m *Dialog) doneView() string {
	switch m.result.Outcome {
	case OutcomeInstalled:
		msg := fmt.Sprintf("Installed %s to %s", m.release.Version, m.truncate(m.result.Installed.Path))
		lines := []string{styleSuccess.Render(msg)}
		if m.result.Verification == update.VerificationSkipped {
			lines = append(lines, styleWarning.Render("The download was not verified: no checksum was published."))
		}
		return strings.Join(lines, "\n")
	case OutcomeCancelled:
		return styleWarning.Render("Update cancelled. Nothing was changed.")
	case OutcomeFailed:
		return m.failureView()
	default:
		return ""
	}
}

func (m *Dialog) failureView() string {
	err := m.result.Err
	width := m.contentWidth()
	headline, hint := DescribeFailure(err)

	var lines []string
	if appErrors.IsCritical(err) {
		lines = append(lines, styleCritical.Render(strings.ToUpper(headline)))
	} else {
		lines = append(lines, styleError.Render(headline))
	}
	if detail := ErrorDetail(err); detail != "" {
		lines = append(lines, styleText.Render(wordwrap.String(detail, width)))
	}
	if hint != "" {
		lines = append(lines, "", styleText.Render(wordwrap.String(hint, width)))
	}
	if link := m.releaseLink(); link != "" {
		lines = append(lines, styleLink.Render(m.truncate(link)))
	}
	return strings.Join(lines, "\n")
}

func (m *Dialog) helpLine() string {
	var pairs [][2]string
	switch m.stage {
	case stagePrompt:
		pairs = [][2]string{{"enter", "update"}, {"n", "later"}, {"s", "skip version"}, {"c", "copy link"}}
	case stageDownloading:
		pairs = [][2]string{{"esc", "cancel"}, {"c", "copy link"}}
	case stageInstalling:
		return styleDim.Render("Please wait...")
	case stageDone:
		pairs = [][2]string{{"enter", "close"}, {"c", "copy link"}}
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, styleKey.Render(p[0])+" "+styleDim.Render(p[1]))
	}
	return strings.Join(parts, styleDim.Render(" • "))
}

func (m *Dialog) installTarget() string {
	if m.installPath != "" {
		return m.installPath
	}
	return "the install path"
}

func (m *Dialog) truncate(s string) string {
	return ansi.Truncate(s, m.contentWidth(), "…")
}

func formatProgress(p update.Progress) string {
	if p.BytesTotal <= 0 {
		return "Connecting..."
	}
	return fmt.Sprintf("%s / %s (%.0f%%)",
		humanize.IBytes(uint64(p.BytesDone)), humanize.IBytes(uint64(p.BytesTotal)), p.Percent)
}

// DescribeFailure returns a headline and an actionable hint for an update
// error, keyed on its code.
func DescribeFailure(err error) (headline, hint string) {
	switch appErrors.CodeOf(err) {
	case appErrors.CodeRateLimited:
		return "Update check rate limited",
			"The release server is throttling requests. Try again in an hour, or download the update manually:"
	case appErrors.CodeResolution:
		return "Could not check for updates",
			"Check your internet connection and try again, or download the update manually:"
	case appErrors.CodeUntrustedOrigin:
		return "Update source not trusted",
			"The release points outside the allowed download hosts. Download the update manually:"
	case appErrors.CodeTransport:
		return "Download failed",
			"The download did not complete. Check your connection and try again, or download it manually:"
	case appErrors.CodeIntegrity:
		return "Download failed verification",
			"The downloaded file did not match its published checksum and was deleted. Try again, or download it manually:"
	case appErrors.CodeInstallCritical:
		return "Installation failed",
			"The previous version could not be restored and the program may be missing or damaged. Reinstall it manually from:"
	case appErrors.CodeInstall:
		return "Installation failed",
			"Your current version was left in place. Make sure the install folder is writable and try again, or install manually from:"
	default:
		return "Update failed", "Try again, or download the update manually:"
	}
}

// ErrorDetail renders a coded error with its cause.
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	var coded appErrors.Error
	if errors.As(err, &coded) && coded.Err != nil && coded.Message != "" {
		return coded.Message + ": " + coded.Err.Error()
	}
	return err.Error()
}
