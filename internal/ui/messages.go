package ui

import (
	"context"
	"time"

	"dbconv/internal/update"

	tea "github.com/charmbracelet/bubbletea"
)

const copyToastDuration = 2 * time.Second

type progressMsg update.Progress

type downloadedMsg struct {
	artifact update.Artifact
	err      error
}

type installedMsg struct {
	installed update.Installed
	err       error
}

type copyToastTickMsg struct{}

func scheduleCopyToastTick() tea.Cmd {
	return tea.Tick(copyToastDuration, func(time.Time) tea.Msg {
		return copyToastTickMsg{}
	})
}

// downloadCmd runs the download on a command goroutine. Progress flows through
// m.progress, which is closed once DownloadUpdate returns.
func (m *Dialog) downloadCmd(ctx context.Context) tea.Cmd {
	pipeline := m.pipeline
	release := m.release
	ch := m.progress
	return func() tea.Msg {
		defer close(ch)
		art, err := pipeline.DownloadUpdate(ctx, release.DownloadURL, func(p update.Progress) {
			select {
			case ch <- p:
			default:
				// Drop if the view is behind; the next chunk carries newer numbers.
			}
		}, release.Checksum)
		return downloadedMsg{artifact: art, err: err}
	}
}

func (m *Dialog) waitForProgress() tea.Cmd {
	ch := m.progress
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return progressMsg(p)
	}
}

func (m *Dialog) installCmd(art update.Artifact) tea.Cmd {
	pipeline := m.pipeline
	return func() tea.Msg {
		installed, err := pipeline.Install(art)
		return installedMsg{installed: installed, err: err}
	}
}
