// Package ui renders the interactive update dialog: the release prompt with
// notes, live download progress, cancellation, and the final outcome.
package ui

import (
	"context"
	"strings"
	"time"

	"dbconv/internal/debug"
	"dbconv/internal/update"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxContentWidth = 80
	minContentWidth = 24
	barWidth        = 48
	minNotesHeight  = 3
	// Rows taken by the header, metadata, help line and dialog frame.
	chromeHeight = 14
)

// Package-level seam so tests don't touch the real clipboard.
var writeClipboard = clipboard.WriteAll

// Pipeline is the part of update.Updater the dialog drives.
type Pipeline interface {
	DownloadUpdate(ctx context.Context, url string, onProgress update.ProgressFunc, checksum string) (update.Artifact, error)
	Install(art update.Artifact) (update.Installed, error)
	RequestCancel()
}

// Outcome is how the dialog ended.
type Outcome int

const (
	// OutcomeDeferred means the user closed the prompt without updating.
	OutcomeDeferred Outcome = iota
	// OutcomeSkipped means the user asked not to be offered this version again.
	OutcomeSkipped
	OutcomeInstalled
	OutcomeCancelled
	OutcomeFailed
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeInstalled:
		return "installed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "deferred"
	}
}

// Result is what the dialog did, available after the program exits.
type Result struct {
	Outcome      Outcome
	Installed    update.Installed
	Verification update.Verification
	SessionID    string
	Err          error
}

// Release is the update the dialog offers.
type Release struct {
	Current     string
	Version     string
	DownloadURL string
	ReleaseURL  string
	AssetName   string
	Notes       string
	Size        uint64
	Released    time.Time
	// Checksum is the published SHA-256; empty means the download is
	// installed unverified.
	Checksum string
}

// ReleaseFromInfo builds a Release from a resolved, available update.
func ReleaseFromInfo(info update.UpdateInfo) Release {
	r := Release{
		Current:     info.Current().String(),
		Version:     info.Version().String(),
		DownloadURL: info.DownloadURL(),
		ReleaseURL:  info.ReleaseURL(),
		AssetName:   info.AssetName(),
		Notes:       info.Description(),
		Size:        info.FileSizeBytes(),
	}
	if released, ok := info.ReleaseDate(); ok {
		r.Released = released
	}
	r.Checksum, _ = info.Checksum()
	return r
}

// Config configures a Dialog.
type Config struct {
	Release  Release
	Pipeline Pipeline
	// InstallPath is shown while the update is swapped in.
	InstallPath string
	// ReleasePage is the manual download link used when the release has none.
	ReleasePage string
	// NotesFormat selects the release notes renderer: rich, light or plain.
	NotesFormat string
	// AutoStart skips the prompt and begins downloading immediately.
	AutoStart bool
	// OnSkip persists a "skip this version" choice.
	OnSkip func(version string) error
}

type stage int

const (
	stagePrompt stage = iota
	stageDownloading
	stageInstalling
	stageDone
)

// Dialog is the bubbletea model for the update dialog.
type Dialog struct {
	ctx         context.Context
	release     Release
	pipeline    Pipeline
	installPath string
	releasePage string
	notesFormat string
	autoStart   bool
	onSkip      func(string) error

	keys    KeyMap
	spinner spinner.Model
	bar     progress.Model
	notes   viewport.Model

	stage      stage
	latest     update.Progress
	cancelling bool
	quitting   bool
	progress   chan update.Progress
	result     Result

	width         int
	height        int
	ready         bool
	showCopyToast bool
	notice        string
}

// NewDialog creates the dialog for an available update. ctx bounds the
// download.
func NewDialog(ctx context.Context, cfg Config) *Dialog {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = styleSpinner

	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)

	if ctx == nil {
		ctx = context.Background()
	}
	m := &Dialog{
		ctx:         ctx,
		release:     cfg.Release,
		pipeline:    cfg.Pipeline,
		installPath: cfg.InstallPath,
		releasePage: cfg.ReleasePage,
		notesFormat: cfg.NotesFormat,
		autoStart:   cfg.AutoStart,
		onSkip:      cfg.OnSkip,
		keys:        DefaultKeyMap(),
		spinner:     s,
		bar:         bar,
		notes:       viewport.New(maxContentWidth, minNotesHeight),
	}
	m.layout(maxContentWidth+8, chromeHeight+minNotesHeight)
	return m
}

// Result returns the dialog's outcome. It is meaningful once the program has
// exited.
func (m *Dialog) Result() Result {
	return m.result
}

func (m *Dialog) Init() tea.Cmd {
	if m.autoStart {
		return tea.Batch(m.spinner.Tick, m.start())
	}
	return m.spinner.Tick
}

func (m *Dialog) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout(msg.Width, msg.Height)
		m.ready = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		m.bar = model.(progress.Model)
		return m, cmd

	case progressMsg:
		m.latest = update.Progress(msg)
		return m, tea.Batch(m.bar.SetPercent(m.latest.Percent/100), m.waitForProgress())

	case downloadedMsg:
		return m.handleDownloaded(msg)

	case installedMsg:
		if msg.err != nil {
			return m.finish(OutcomeFailed, msg.err)
		}
		m.result.Installed = msg.installed
		debug.Info("update installed", "path", msg.installed.Path, "session", m.result.SessionID)
		return m.finish(OutcomeInstalled, nil)

	case copyToastTickMsg:
		m.showCopyToast = false
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Dialog) handleDownloaded(msg downloadedMsg) (tea.Model, tea.Cmd) {
	art := msg.artifact
	if art.Session != nil {
		m.result.SessionID = art.Session.ID
	}
	if msg.err != nil {
		return m.finish(OutcomeFailed, msg.err)
	}
	if art.Cancelled() {
		return m.finish(OutcomeCancelled, nil)
	}
	if m.cancelling {
		// Cancel arrived after verification finished; honour it anyway.
		art.Discard()
		return m.finish(OutcomeCancelled, nil)
	}
	m.stage = stageInstalling
	m.result.Verification = art.Verification
	return m, m.installCmd(art)
}

func (m *Dialog) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		switch m.stage {
		case stageDownloading:
			m.quitting = true
			m.requestCancel()
			return m, nil
		case stageInstalling:
			// The swap is a couple of renames; quit once it settles.
			m.quitting = true
			return m, nil
		default:
			return m, tea.Quit
		}
	}
	if key.Matches(msg, m.keys.Copy) {
		return m, m.copyLink()
	}

	switch m.stage {
	case stagePrompt:
		switch {
		case key.Matches(msg, m.keys.Confirm):
			return m, m.start()
		case key.Matches(msg, m.keys.Later), key.Matches(msg, m.keys.Cancel):
			m.result.Outcome = OutcomeDeferred
			return m, tea.Quit
		case key.Matches(msg, m.keys.Skip):
			return m.skip()
		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			var cmd tea.Cmd
			m.notes, cmd = m.notes.Update(msg)
			return m, cmd
		}
	case stageDownloading:
		if key.Matches(msg, m.keys.Cancel) {
			m.requestCancel()
		}
	case stageDone:
		if key.Matches(msg, m.keys.Confirm) || key.Matches(msg, m.keys.Cancel) || key.Matches(msg, m.keys.Later) {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Dialog) start() tea.Cmd {
	m.stage = stageDownloading
	m.progress = make(chan update.Progress, 16)
	debug.Info("update download started", "version", m.release.Version, "url", m.release.DownloadURL)
	return tea.Batch(m.downloadCmd(m.ctx), m.waitForProgress())
}

func (m *Dialog) requestCancel() {
	if m.cancelling {
		return
	}
	m.cancelling = true
	m.pipeline.RequestCancel()
}

func (m *Dialog) skip() (tea.Model, tea.Cmd) {
	version := m.release.Version
	if m.onSkip != nil {
		if err := m.onSkip(version); err != nil {
			debug.Warn("could not remember skipped version", "version", version, "error", err)
			m.notice = "Could not save your choice: " + err.Error()
			return m, nil
		}
	}
	m.result.Outcome = OutcomeSkipped
	return m, tea.Quit
}

func (m *Dialog) finish(outcome Outcome, err error) (tea.Model, tea.Cmd) {
	m.stage = stageDone
	m.result.Outcome = outcome
	m.result.Err = err
	if err != nil {
		debug.Warn("update dialog finished with error", "outcome", outcome.String(), "error", err)
	}
	if m.quitting {
		return m, tea.Quit
	}
	return m, nil
}

func (m *Dialog) copyLink() tea.Cmd {
	link := m.releaseLink()
	if link == "" {
		return nil
	}
	if err := writeClipboard(link); err != nil {
		m.notice = "Clipboard unavailable; open the link manually."
		return nil
	}
	m.notice = ""
	m.showCopyToast = true
	return scheduleCopyToastTick()
}

func (m *Dialog) releaseLink() string {
	if link := strings.TrimSpace(m.release.ReleaseURL); link != "" {
		return link
	}
	return strings.TrimSpace(m.releasePage)
}

func (m *Dialog) layout(width, height int) {
	m.width = width
	m.height = height

	w := min(max(width-8, minContentWidth), maxContentWidth)
	m.bar.Width = min(w, barWidth)
	m.notes.Width = w
	m.notes.Height = max(height-chromeHeight, minNotesHeight)

	notes := strings.TrimSpace(m.release.Notes)
	if notes == "" {
		m.notes.SetContent(styleDim.Render("No release notes."))
		return
	}
	m.notes.SetContent(buildMarkdownRenderer(m.notesFormat, w)(notes))
}

func (m *Dialog) contentWidth() int {
	return m.notes.Width
}
