package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dbconv/internal/debug"
)

// updateFlags only make sense for the run that installed the update.
var updateFlags = map[string]bool{
	"update":       true,
	"check-update": true,
	"yes":          true,
	"no-restart":   true,
}

// startProcess launches the new version detached from this one. It is a
// package variable so tests can observe relaunches.
var startProcess = func(path string, args []string) error {
	//nolint:gosec // G204: path is the install path we just wrote
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// relaunchArgs returns the command line for the new version: args without
// the update flags, or -version when nothing else was asked for.
func relaunchArgs(args []string) []string {
	kept := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			kept = append(kept, args[i:]...)
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name != arg {
			name, _, _ = strings.Cut(name, "=")
			if updateFlags[name] {
				continue
			}
		}
		kept = append(kept, arg)
	}
	if len(kept) == 0 {
		return []string{"-version"}
	}
	return kept
}

// relaunch starts the freshly installed binary with args so the user lands
// in the new version.
func relaunch(path string, args []string, w io.Writer) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Starting %s\n", strings.Join(append([]string{abs}, args...), " "))
	debug.Info("relaunching installed update", "path", abs, "args", args)
	return startProcess(abs, args)
}
