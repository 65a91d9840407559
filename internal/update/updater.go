package update

import (
	"context"
	"errors"
	"os"
	"sync"

	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
)

// ErrNoUpdate is returned by Run when the UpdateInfo is not installable.
var ErrNoUpdate = errors.New("no update available")

// Artifact is a downloaded, verified (or explicitly unverified) update
// waiting to be installed. Call Install or Discard.
type Artifact struct {
	Outcome      Outcome
	Path         string
	Bytes        int64
	Verification Verification
	Session      *Session
}

// Cancelled reports whether the download was cancelled by the caller.
func (a Artifact) Cancelled() bool {
	return a.Outcome == OutcomeCancelled
}

// Discard removes the artifact's temp file, if any.
func (a Artifact) Discard() {
	discard(a.Path)
}

// Report summarizes a Run.
type Report struct {
	Outcome      Outcome
	Version      Version
	Path         string
	Bytes        int64
	Verification Verification
	SessionID    string
}

// Updater ties the resolver, downloader, verifier and installer together.
// One session may run at a time; RequestCancel may be called from any
// goroutine while it does.
type Updater struct {
	resolver    *Resolver
	downloader  *Downloader
	installer   *Installer
	installPath string

	mu    sync.Mutex
	token *CancelToken
}

// New creates an updater reading feedURL and installing to installPath.
func New(feedURL, installPath string, opts ...Option) *Updater {
	return &Updater{
		resolver:    NewResolver(feedURL, opts...),
		downloader:  NewDownloader(opts...),
		installer:   NewInstaller(),
		installPath: installPath,
	}
}

// InstallPath returns where updates are installed.
func (u *Updater) InstallPath() string {
	return u.installPath
}

// CheckForUpdate resolves the latest release against current.
func (u *Updater) CheckForUpdate(ctx context.Context, current string) UpdateInfo {
	return u.resolver.Resolve(ctx, current)
}

// DownloadUpdate downloads url and verifies it against checksum (empty means
// unverified). A cancelled download yields an Artifact with OutcomeCancelled
// and a nil error. Failed or cancelled downloads leave no temp file.
func (u *Updater) DownloadUpdate(ctx context.Context, url string, onProgress ProgressFunc, checksum string) (Artifact, error) {
	token := NewCancelToken()
	u.mu.Lock()
	u.token = token
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		if u.token == token {
			u.token = nil
		}
		u.mu.Unlock()
	}()

	session := newSession(token)
	res, err := u.downloader.run(ctx, session, url, onProgress)
	art := Artifact{Outcome: res.Outcome, Bytes: res.Bytes, Session: session}
	if err != nil || res.Outcome == OutcomeCancelled {
		return art, err
	}

	session.advance(StatusVerifying)
	if token.Cancelled() {
		return u.cancelled(art, res.Path), nil
	}
	verification, err := VerifyArtifact(res.Path, checksum)
	if err != nil {
		discard(res.Path)
		session.advance(StatusFailed)
		art.Outcome = OutcomeFailed
		return art, err
	}
	if token.Cancelled() {
		return u.cancelled(art, res.Path), nil
	}
	session.advance(StatusCompleted)

	art.Path = res.Path
	art.Verification = verification
	return art, nil
}

func (u *Updater) cancelled(art Artifact, path string) Artifact {
	discard(path)
	art.Session.advance(StatusCancelled)
	art.Outcome = OutcomeCancelled
	debug.Info("update cancelled during verification", "session", art.Session.ID)
	return art
}

// RequestCancel cancels the download in progress, if any.
func (u *Updater) RequestCancel() {
	u.mu.Lock()
	token := u.token
	u.mu.Unlock()
	token.Cancel()
}

// Install swaps a completed artifact into the install path. The artifact's
// temp file is gone afterwards whether or not installation succeeded.
func (u *Updater) Install(art Artifact) (Installed, error) {
	defer art.Discard()
	if art.Cancelled() || art.Path == "" {
		return Installed{}, appErrors.New(appErrors.CodeInstall, "nothing to install", nil)
	}
	if _, err := os.Stat(art.Path); err != nil {
		return Installed{}, appErrors.New(appErrors.CodeInstall, "downloaded update is missing", err)
	}
	return u.installer.Install(art.Path, u.installPath)
}

// Run downloads, verifies and installs the release described by info.
// Cancellation is reported through Report.Outcome, not as an error.
func (u *Updater) Run(ctx context.Context, info UpdateInfo, onProgress ProgressFunc) (Report, error) {
	if !info.Available() {
		if err := info.Err(); err != nil {
			return Report{}, err
		}
		return Report{}, appErrors.New(appErrors.CodeResolution, "already up to date", ErrNoUpdate)
	}

	checksum, _ := info.Checksum()
	art, err := u.DownloadUpdate(ctx, info.DownloadURL(), onProgress, checksum)
	report := Report{Outcome: art.Outcome, Version: info.Version(), Bytes: art.Bytes}
	if art.Session != nil {
		report.SessionID = art.Session.ID
	}
	if err != nil || art.Cancelled() {
		return report, err
	}
	report.Verification = art.Verification

	installed, err := u.Install(art)
	if err != nil {
		report.Outcome = OutcomeFailed
		return report, err
	}
	report.Path = installed.Path
	return report, nil
}
