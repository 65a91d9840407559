package update

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
)

// BackupSuffix is appended to the install path while a swap is in progress.
const BackupSuffix = ".backup"

// rename is swapped out by tests to force failures.
var rename = os.Rename

// Installed describes an artifact swapped into place.
type Installed struct {
	Path string
}

// RollbackError means an install failed and the previous file could not be
// restored. The install path may be missing.
type RollbackError struct {
	Path       string
	BackupPath string
	InstallErr error
	RestoreErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("install of %s failed (%v) and restoring %s also failed (%v)",
		e.Path, e.InstallErr, e.BackupPath, e.RestoreErr)
}

// Unwrap exposes both underlying failures.
func (e *RollbackError) Unwrap() []error {
	return []error{e.InstallErr, e.RestoreErr}
}

// Installer swaps a verified artifact into its final location.
type Installer struct{}

// NewInstaller creates an installer.
func NewInstaller() *Installer {
	return &Installer{}
}

// Install moves tempPath to finalPath. An existing finalPath is kept as
// finalPath+".backup" until the new file is in place, and restored if the
// swap fails. finalPath is only ever written by rename.
func (i *Installer) Install(tempPath, finalPath string) (Installed, error) {
	finalPath = filepath.Clean(finalPath)
	staged, err := stage(tempPath, finalPath)
	if err != nil {
		return Installed{}, appErrors.New(appErrors.CodeInstall, "could not stage update next to "+finalPath, err)
	}

	backupPath := finalPath + BackupSuffix
	hadPrevious := false
	if _, err := os.Stat(finalPath); err == nil {
		hadPrevious = true
		if err := os.Remove(backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			discard(staged)
			return Installed{}, appErrors.New(appErrors.CodeInstall, "could not remove stale backup "+backupPath, err)
		}
		if err := rename(finalPath, backupPath); err != nil {
			discard(staged)
			return Installed{}, appErrors.New(appErrors.CodeInstall, "could not back up "+finalPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		discard(staged)
		return Installed{}, appErrors.New(appErrors.CodeInstall, "could not inspect "+finalPath, err)
	}

	if err := rename(staged, finalPath); err != nil {
		discard(staged)
		if !hadPrevious {
			return Installed{}, appErrors.New(appErrors.CodeInstall, "could not move update into place", err)
		}
		if restoreErr := rename(backupPath, finalPath); restoreErr != nil {
			rb := &RollbackError{Path: finalPath, BackupPath: backupPath, InstallErr: err, RestoreErr: restoreErr}
			debug.Critical("install rollback failed; reinstall manually", "path", finalPath, "backup", backupPath, "err", rb)
			return Installed{}, appErrors.New(appErrors.CodeInstallCritical,
				fmt.Sprintf("update failed and %s could not be restored; reinstall manually from %s", finalPath, backupPath), rb)
		}
		debug.Warn("install failed, previous version restored", "path", finalPath, "err", err)
		return Installed{}, appErrors.New(appErrors.CodeInstall, "could not move update into place; previous version restored", err)
	}

	if hadPrevious {
		if err := os.Remove(backupPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			debug.Warn("could not remove backup", "path", backupPath, "err", err)
		}
	}
	debug.Info("update installed", "path", finalPath)
	return Installed{Path: finalPath}, nil
}

// stage moves src into the directory of finalPath so the final swap is a
// same-volume rename. A failed rename (e.g. across devices) falls back to an
// fsynced copy.
func stage(src, finalPath string) (string, error) {
	dir := filepath.Dir(finalPath)
	//nolint:gosec // G301: install directory needs standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create install directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(finalPath)+".staged-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	staged := f.Name()
	_ = f.Close()

	if err := rename(src, staged); err != nil {
		debug.Logf("stage rename failed, copying instead: %v", err)
		if err := copyFile(src, staged); err != nil {
			discard(staged)
			return "", err
		}
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			debug.Warn("could not remove downloaded temp file", "path", src, "err", err)
		}
	}

	if runtime.GOOS != "windows" {
		//nolint:gosec // G302: Binary needs to be executable
		if err := os.Chmod(staged, 0755); err != nil {
			discard(staged)
			return "", fmt.Errorf("set executable permission: %w", err)
		}
	}
	return staged, nil
}

func copyFile(src, dst string) error {
	//nolint:gosec // G304: src is the downloader's own temp file
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open download: %w", err)
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G304: dst is a staging file we just created
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy download: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync staging file: %w", err)
	}
	return out.Close()
}

func discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		debug.Warn("could not remove file", "path", path, "err", err)
	}
}
