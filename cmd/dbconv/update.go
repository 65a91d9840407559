package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"dbconv/internal/config"
	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
	"dbconv/internal/state"
	"dbconv/internal/ui"
	"dbconv/internal/update"

	tea "github.com/charmbracelet/bubbletea"
)

const startupCheckTimeout = 5 * time.Second

// updateService is the part of update.Updater the commands use.
type updateService interface {
	ui.Pipeline
	CheckForUpdate(ctx context.Context, current string) update.UpdateInfo
	Run(ctx context.Context, info update.UpdateInfo, onProgress update.ProgressFunc) (update.Report, error)
	InstallPath() string
}

// Package-level seams so tests can swap the updater, store, clock and dialog.
var (
	newUpdateService = func() updateService {
		allow := update.NewAllowList(
			config.GetStringSlice(config.KeyUpdateAllowedHosts),
			config.GetBool(config.KeyUpdateAllowInsecure),
		)
		return update.New(
			config.GetString(config.KeyUpdateFeedURL),
			config.GetString(config.KeyUpdateInstallPath),
			update.WithAllowList(allow),
			update.WithTimeout(config.GetDuration(config.KeyUpdateTimeout)),
			update.WithMaxAttempts(config.GetInt(config.KeyUpdateAttempts)),
			update.WithAssetSuffix(config.GetString(config.KeyUpdateAssetSuffix)),
			update.WithUserAgent("dbconv/"+Version),
		)
	}
	openStateStore = func(ctx context.Context) (*state.Store, error) {
		return state.Open(ctx, config.GetString(config.KeyStatePath))
	}
	now        = time.Now
	runDialog  = runDialogProgram
	newSpinner = func(w io.Writer) statusAnimator {
		if !isTerminal(os.Stderr) {
			return nil
		}
		return newStatusSpinner(w, 300*time.Millisecond)
	}
)

type statusAnimator interface {
	Stage(detail string)
	Stop()
}

// checkForUpdate resolves the latest release and records the attempt. Unless
// force is set, a check inside the configured interval (or the rate-limit
// cooldown) is skipped and ok is false.
func checkForUpdate(ctx context.Context, svc updateService, store *state.Store, force bool) (update.UpdateInfo, bool) {
	at := now()
	if !force && store != nil {
		next, allowed, err := store.NextCheckAllowed(ctx, at, config.GetDuration(config.KeyUpdateCheckInterval))
		if err != nil {
			debug.Warn("could not read update history", "error", err)
		} else if !allowed {
			debug.Info("update check skipped", "next", next.Format(time.RFC3339))
			return update.UpdateInfo{}, false
		}
	}

	info := svc.CheckForUpdate(ctx, Version)
	if store != nil {
		check := state.Check{
			CheckedAt: at,
			Current:   info.Current().String(),
			Latest:    info.Latest().String(),
			Available: info.Available(),
		}
		if err := info.Err(); err != nil {
			check.ErrorCode = string(appErrors.CodeOf(err))
		}
		if err := store.RecordCheck(ctx, check); err != nil {
			debug.Warn("could not record update check", "error", err)
		}
	}
	return info, true
}

func openStoreOrWarn(ctx context.Context) *state.Store {
	store, err := openStateStore(ctx)
	if err != nil {
		debug.Warn("state store unavailable", "error", err)
		return nil
	}
	return store
}

// notifyUpdateAvailable runs the throttled startup check and prints a one-line
// notice when a release the user hasn't skipped is available. Failures are
// only logged.
func notifyUpdateAvailable(ctx context.Context, runtime runtimeOptions, w io.Writer) {
	if runtime.skipUpdateCheck {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	store := openStoreOrWarn(ctx)
	defer func() { _ = store.Close() }()

	info, ok := checkForUpdate(ctx, newUpdateService(), store, false)
	if !ok {
		return
	}
	if err := info.Err(); err != nil {
		debug.Warn("startup update check failed", "error", err)
		return
	}
	if !info.Available() || isSkippedVersion(info) {
		return
	}
	_, _ = fmt.Fprint(w, formatUpdateNotice(info))
}

func isSkippedVersion(info update.UpdateInfo) bool {
	skipped, err := update.ParseVersion(config.GetString(config.KeyUpdateSkipVersion))
	if err != nil || skipped.IsZero() {
		return false
	}
	return skipped.Equal(info.Version())
}

func runCheckUpdate(ctx context.Context, stdout, stderr io.Writer) int {
	store := openStoreOrWarn(ctx)
	defer func() { _ = store.Close() }()

	info := resolveWithSpinner(ctx, newUpdateService(), store, stderr)
	if err := info.Err(); err != nil {
		_, _ = fmt.Fprint(stderr, formatUpdateFailure(err, releasePage(info)))
		return exitFailure
	}
	if !info.Available() {
		_, _ = fmt.Fprint(stdout, formatUpToDate(info))
		return exitOK
	}
	_, _ = fmt.Fprint(stdout, formatUpdateDetails(info))
	return exitOK
}

func resolveWithSpinner(ctx context.Context, svc updateService, store *state.Store, w io.Writer) update.UpdateInfo {
	sp := newSpinner(w)
	if sp != nil {
		sp.Stage(checkingStage(config.GetString(config.KeyUpdateFeedURL)))
		defer sp.Stop()
	}
	info, _ := checkForUpdate(ctx, svc, store, true)
	return info
}

// checkingStage names the feed host in the spinner line.
func checkingStage(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return "Checking for updates..."
	}
	return fmt.Sprintf("Checking %s for updates...", u.Hostname())
}

func runUpdate(ctx context.Context, runtime runtimeOptions, stdout, stderr io.Writer) int {
	store := openStoreOrWarn(ctx)
	defer func() { _ = store.Close() }()

	svc := newUpdateService()
	info := resolveWithSpinner(ctx, svc, store, stderr)
	if err := info.Err(); err != nil {
		_, _ = fmt.Fprint(stderr, formatUpdateFailure(err, releasePage(info)))
		return exitFailure
	}
	if !info.Available() {
		_, _ = fmt.Fprint(stdout, formatUpToDate(info))
		return exitOK
	}

	start := now()
	var (
		summary UpdateSummary
		err     error
	)
	if runtime.interactive {
		summary, err = updateInteractive(ctx, svc, info, runtime)
	} else {
		if !runtime.yes {
			_, _ = fmt.Fprint(stdout, formatUpdateDetails(info))
			_, _ = fmt.Fprintln(stdout, "Re-run with -update -yes to install it.")
			return exitOK
		}
		summary, err = updatePlain(ctx, svc, info, stdout)
	}
	if err != nil {
		// The dialog already showed recoverable failures.
		if !runtime.interactive || appErrors.IsCritical(err) || summary.Outcome != ui.OutcomeFailed {
			_, _ = fmt.Fprint(stderr, formatUpdateFailure(err, releasePage(info)))
		}
		return exitFailure
	}
	if summary.Outcome != ui.OutcomeInstalled {
		if summary.Outcome == ui.OutcomeCancelled && !runtime.interactive {
			_, _ = fmt.Fprintln(stdout, "Update cancelled. Nothing was changed.")
		}
		return exitOK
	}

	summary.Elapsed = now().Sub(start)
	if store != nil {
		err := store.RecordInstall(ctx, state.Install{
			InstalledAt:  now(),
			Version:      summary.Version,
			Path:         summary.Path,
			Verification: summary.Verification.String(),
			SessionID:    summary.SessionID,
		})
		if err != nil {
			debug.Warn("could not record install", "error", err)
		}
	}
	printUpdateSummary(stdout, summary)

	if runtime.noRestart {
		return exitOK
	}
	if err := relaunch(summary.Path, runtime.relaunchArgs, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: could not start %s: %v\nStart it manually to finish updating.\n", summary.Path, err)
		return exitFailure
	}
	return exitOK
}

func updateInteractive(ctx context.Context, svc updateService, info update.UpdateInfo, runtime runtimeOptions) (UpdateSummary, error) {
	dialog := ui.NewDialog(ctx, ui.Config{
		Release:     ui.ReleaseFromInfo(info),
		Pipeline:    svc,
		InstallPath: svc.InstallPath(),
		ReleasePage: config.GetString(config.KeyUpdateReleasePage),
		AutoStart:   runtime.yes,
		OnSkip: func(version string) error {
			return config.Persist(config.KeyUpdateSkipVersion, version)
		},
	})
	if err := runDialog(dialog); err != nil {
		return UpdateSummary{}, fmt.Errorf("run update dialog: %w", err)
	}
	res := dialog.Result()
	summary := UpdateSummary{
		From:         info.Current().String(),
		Version:      info.Version().String(),
		Outcome:      res.Outcome,
		Path:         res.Installed.Path,
		Verification: res.Verification,
		SessionID:    res.SessionID,
	}
	return summary, res.Err
}

func runDialogProgram(dialog *ui.Dialog) error {
	_, err := tea.NewProgram(dialog).Run()
	return err
}

func updatePlain(ctx context.Context, svc updateService, info update.UpdateInfo, w io.Writer) (UpdateSummary, error) {
	_, _ = fmt.Fprintf(w, "Updating %s → %s\n", info.Current().String(), info.Version().String())
	report, err := svc.Run(ctx, info, plainProgress(w))
	summary := UpdateSummary{
		From:         info.Current().String(),
		Version:      info.Version().String(),
		Path:         report.Path,
		Bytes:        report.Bytes,
		Verification: report.Verification,
		SessionID:    report.SessionID,
	}
	switch {
	case err != nil:
		summary.Outcome = ui.OutcomeFailed
	case report.Outcome == update.OutcomeCancelled:
		summary.Outcome = ui.OutcomeCancelled
	default:
		summary.Outcome = ui.OutcomeInstalled
	}
	return summary, err
}

func releasePage(info update.UpdateInfo) string {
	if link := info.ReleaseURL(); link != "" {
		return link
	}
	return config.GetString(config.KeyUpdateReleasePage)
}
