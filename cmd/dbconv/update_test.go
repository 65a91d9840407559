package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dbconv/internal/config"
	appErrors "dbconv/internal/errors"
	"dbconv/internal/state"
	"dbconv/internal/ui"
)

type mockSpinner struct {
	stages    []string
	stopCount int
}

func (m *mockSpinner) Stage(detail string) { m.stages = append(m.stages, detail) }
func (m *mockSpinner) Stop() { m.stopCount++ }

type releaseFixture struct {
	server      *httptest.Server
	asset       []byte
	installPath string
	statePath   string
	spinner     *mockSpinner
	started     []string
	startArgs   []string
	feedCalls   atomic.Int32
}

type fixtureOptions struct {
	tag          string
	withChecksum bool
	feedStatus   int
}

// newReleaseFixture serves a release feed and its asset from a local server
// and points the update configuration at it.
func newReleaseFixture(t *testing.T, opts fixtureOptions) *releaseFixture {
	t.Helper()
	ensureTestConfig(t)
	if opts.tag == "" {
		opts.tag = "v2.2.0"
	}

	fx := &releaseFixture{
		asset:       bytes.Repeat([]byte("dbconv-build-"), 4096),
		installPath: filepath.Join(t.TempDir(), "update.exe"),
		statePath:   filepath.Join(t.TempDir(), "state.db"),
		spinner:     &mockSpinner{},
	}
	sum := sha256.Sum256(fx.asset)

	fx.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/repos/") {
			fx.feedCalls.Add(1)
			if opts.feedStatus != 0 {
				w.WriteHeader(opts.feedStatus)
				return
			}
			body := "Bug fixes."
			if opts.withChecksum {
				body += "\n\nSHA256: " + hex.EncodeToString(sum[:])
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tag_name":     opts.tag,
				"body":         body,
				"html_url":     fx.server.URL + "/releases/" + opts.tag,
				"published_at": "2026-03-01T10:00:00Z",
				"assets": []map[string]any{{
					"name":                 "dbconv.exe",
					"browser_download_url": fx.server.URL + "/download/dbconv.exe",
					"size":                 len(fx.asset),
				}},
			})
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(fx.asset)))
		_, _ = w.Write(fx.asset)
	}))
	t.Cleanup(fx.server.Close)

	if err := config.ApplyOverrides(map[string]any{
		config.KeyUpdateFeedURL:       fx.server.URL + "/repos/owner/dbconv/releases/latest",
		config.KeyUpdateReleasePage:   fx.server.URL + "/releases",
		config.KeyUpdateAllowedHosts:  []string{"127.0.0.1"},
		config.KeyUpdateAllowInsecure: true,
		config.KeyUpdateInstallPath:   fx.installPath,
		config.KeyUpdateAssetSuffix:   ".exe",
		config.KeyUpdateAttempts:      1,
		config.KeyUpdateTimeout:       5 * time.Second,
		config.KeyUpdateCheckInterval: 6 * time.Hour,
		config.KeyStatePath:           fx.statePath,
	}); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}

	origVersion, origSpinner, origStart, origDialog := Version, newSpinner, startProcess, runDialog
	t.Cleanup(func() {
		Version, newSpinner, startProcess, runDialog = origVersion, origSpinner, origStart, origDialog
	})
	Version = "2.1.0"
	newSpinner = func(io.Writer) statusAnimator { return fx.spinner }
	startProcess = func(path string, args []string) error {
		fx.started = append(fx.started, path)
		fx.startArgs = args
		return nil
	}
	runDialog = func(*ui.Dialog) error {
		t.Fatal("dialog should not run")
		return nil
	}
	return fx
}

func (fx *releaseFixture) openStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(context.Background(), fx.statePath)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunCheckUpdateReportsAvailableRelease(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{withChecksum: true})

	var stdout, stderr bytes.Buffer
	if code := runCheckUpdate(context.Background(), &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"Update available: 2.1.0 → 2.2.0", "dbconv.exe", "SHA-256 published", "2026-03-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
	if len(fx.spinner.stages) == 0 || fx.spinner.stopCount != 1 {
		t.Fatalf("spinner stages=%v stops=%d", fx.spinner.stages, fx.spinner.stopCount)
	}
	if !strings.Contains(fx.spinner.stages[0], "127.0.0.1") {
		t.Errorf("spinner stage %q should name the feed host", fx.spinner.stages[0])
	}

	last, ok, err := fx.openStore(t).LastCheck(context.Background())
	if err != nil || !ok {
		t.Fatalf("LastCheck() = %v, %v", ok, err)
	}
	if !last.Available || last.Latest != "2.2.0" || last.ErrorCode != "" {
		t.Errorf("recorded check = %+v", last)
	}
}

func TestRunCheckUpdateUpToDate(t *testing.T) {
	newReleaseFixture(t, fixtureOptions{tag: "v2.1.0"})

	var stdout, stderr bytes.Buffer
	if code := runCheckUpdate(context.Background(), &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "is up to date") {
		t.Fatalf("unexpected output: %q", stdout.String())
	}
}

func TestRunCheckUpdateRateLimited(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{feedStatus: http.StatusForbidden})

	var stdout, stderr bytes.Buffer
	if code := runCheckUpdate(context.Background(), &stdout, &stderr); code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr.String(), "rate limited") || !strings.Contains(stderr.String(), fx.server.URL+"/releases") {
		t.Fatalf("unexpected failure output:\n%s", stderr.String())
	}

	last, _, err := fx.openStore(t).LastCheck(context.Background())
	if err != nil || last.ErrorCode != string(appErrors.CodeRateLimited) {
		t.Fatalf("recorded check = %+v, err %v", last, err)
	}
}

func TestNotifyUpdateAvailableIsThrottled(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{withChecksum: true})
	runtime := runtimeOptions{}

	var first bytes.Buffer
	notifyUpdateAvailable(context.Background(), runtime, &first)
	if !strings.Contains(first.String(), "A new version of dbconv is available: 2.2.0") {
		t.Fatalf("expected notice, got %q", first.String())
	}

	var second bytes.Buffer
	notifyUpdateAvailable(context.Background(), runtime, &second)
	if second.Len() != 0 {
		t.Fatalf("expected the second check to be throttled, got %q", second.String())
	}
	if fx.feedCalls.Load() != 1 {
		t.Fatalf("feed requested %d times, want 1", fx.feedCalls.Load())
	}
}

func TestNotifyUpdateAvailableHonoursSkips(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{})

	var out bytes.Buffer
	notifyUpdateAvailable(context.Background(), runtimeOptions{skipUpdateCheck: true}, &out)
	if out.Len() != 0 || fx.feedCalls.Load() != 0 {
		t.Fatalf("skip-update-check still checked: calls=%d out=%q", fx.feedCalls.Load(), out.String())
	}

	if err := config.ApplyOverrides(map[string]any{config.KeyUpdateSkipVersion: "2.2.0"}); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	notifyUpdateAvailable(context.Background(), runtimeOptions{}, &out)
	if out.Len() != 0 {
		t.Fatalf("skipped version still announced: %q", out.String())
	}
	if fx.feedCalls.Load() != 1 {
		t.Fatalf("feed requested %d times, want 1", fx.feedCalls.Load())
	}
}

func TestRunUpdateNonInteractiveNeedsConfirmation(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{withChecksum: true})

	var stdout, stderr bytes.Buffer
	if code := runUpdate(context.Background(), runtimeOptions{update: true}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "-update -yes") {
		t.Fatalf("expected confirmation hint, got %q", stdout.String())
	}
	if _, err := os.Stat(fx.installPath); !os.IsNotExist(err) {
		t.Fatalf("nothing should be installed, stat err = %v", err)
	}
}

func TestRunUpdateInstallsAndRelaunches(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{withChecksum: true})

	var stdout, stderr bytes.Buffer
	runtime := runtimeOptions{update: true, yes: true, relaunchArgs: relaunchArgs([]string{"-update", "-yes"})}
	code := runUpdate(context.Background(), runtime, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, stderr.String())
	}

	installed, err := os.ReadFile(fx.installPath)
	if err != nil || !bytes.Equal(installed, fx.asset) {
		t.Fatalf("installed file mismatch (err %v)", err)
	}
	out := stdout.String()
	for _, want := range []string{"Updating 2.1.0 → 2.2.0", "(100%)", "Installed " + fx.installPath, "SHA-256 verified"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
	if len(fx.started) != 1 || fx.started[0] != fx.installPath {
		t.Fatalf("relaunched %v, want [%s]", fx.started, fx.installPath)
	}
	if len(fx.startArgs) != 1 || fx.startArgs[0] != "-version" {
		t.Fatalf("relaunch args = %v, want [-version]", fx.startArgs)
	}

	installs, err := fx.openStore(t).Installs(context.Background(), 0)
	if err != nil || len(installs) != 1 {
		t.Fatalf("Installs() = %v, %v", installs, err)
	}
	if installs[0].Version != "2.2.0" || installs[0].Verification != "passed" || installs[0].SessionID == "" {
		t.Errorf("recorded install = %+v", installs[0])
	}
}

func TestRunUpdateNoRestart(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{})

	var stdout, stderr bytes.Buffer
	code := runUpdate(context.Background(), runtimeOptions{update: true, yes: true, noRestart: true}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, stderr.String())
	}
	if len(fx.started) != 0 {
		t.Fatalf("expected no relaunch, got %v", fx.started)
	}
	if !strings.Contains(stdout.String(), "Not verified") {
		t.Fatalf("expected unverified warning, got:\n%s", stdout.String())
	}
}

func TestRunUpdateInteractiveDialog(t *testing.T) {
	fx := newReleaseFixture(t, fixtureOptions{withChecksum: true})

	var shown *ui.Dialog
	runDialog = func(d *ui.Dialog) error {
		shown = d
		return nil
	}
	var stdout, stderr bytes.Buffer
	if code := runUpdate(context.Background(), runtimeOptions{update: true, interactive: true}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr: %s", code, stderr.String())
	}
	if shown == nil {
		t.Fatal("expected the update dialog to run")
	}
	if shown.Result().Outcome != ui.OutcomeDeferred || len(fx.started) != 0 {
		t.Fatalf("closing the prompt should change nothing: outcome=%v started=%v", shown.Result().Outcome, fx.started)
	}

	runDialog = func(*ui.Dialog) error { return errors.New("no tty") }
	stderr.Reset()
	if code := runUpdate(context.Background(), runtimeOptions{update: true, interactive: true}, &stdout, &stderr); code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr.String(), "no tty") {
		t.Fatalf("expected dialog error to be reported, got:\n%s", stderr.String())
	}
}

func TestRelaunch(t *testing.T) {
	var started []string
	orig := startProcess
	t.Cleanup(func() { startProcess = orig })
	var gotArgs []string
	startProcess = func(path string, args []string) error {
		started = append(started, path)
		gotArgs = args
		return nil
	}

	var out bytes.Buffer
	if err := relaunch(filepath.Join(t.TempDir(), "missing.exe"), nil, &out); err == nil {
		t.Fatal("expected an error for a missing binary")
	}

	path := filepath.Join(t.TempDir(), "update.exe")
	if err := os.WriteFile(path, []byte("bin"), 0o700); err != nil {
		t.Fatalf("write: %v", err)
	}
	args := []string{"-convert", "displace.bin"}
	if err := relaunch(path, args, &out); err != nil {
		t.Fatalf("relaunch: %v", err)
	}
	if len(started) != 1 || started[0] != path {
		t.Fatalf("started %v, want [%s]", started, path)
	}
	if strings.Join(gotArgs, " ") != "-convert displace.bin" {
		t.Fatalf("args = %v, want %v", gotArgs, args)
	}
	if !strings.Contains(out.String(), path+" -convert displace.bin") {
		t.Fatalf("expected the full command line, got %q", out.String())
	}
}

func TestRelaunchArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"update only", []string{"-update"}, []string{"-version"}},
		{"update flags", []string{"--update", "-yes=true", "-no-restart=false", "-check-update"}, []string{"-version"}},
		{"keeps the rest", []string{"-update", "-yes", "-debug", "-size", "1024"}, []string{"-debug", "-size", "1024"}},
		{"keeps values", []string{"-convert", "update", "-update"}, []string{"-convert", "update"}},
		{"after terminator", []string{"-update", "--", "-yes"}, []string{"--", "-yes"}},
		{"empty", nil, []string{"-version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := relaunchArgs(tt.args)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Fatalf("relaunchArgs(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}
