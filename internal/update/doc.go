// Package update provides version checking and self-update functionality.
//
// This package handles:
//   - Querying a GitHub-style release feed for the latest release
//   - Comparing semantic versions to detect available updates
//   - Downloading the release asset in chunks with progress and cancellation
//   - Verifying the SHA-256 published in the release notes
//   - Swapping the artifact into place with a backup and rollback
//
// Every URL is checked against an AllowList before it is requested.
// Failures carry codes from dbconv/internal/errors; a cancelled download is
// reported as OutcomeCancelled, never as an error.
//
// The package is isolated from UI concerns. Progress is delivered through a
// ProgressFunc on the download goroutine; callers marshal it wherever they
// need it.
//
// Example usage:
//
//	u := update.New(feedURL, "update.exe")
//	info := u.CheckForUpdate(ctx, currentVersion)
//	if err := info.Err(); err != nil {
//	    // report, offer info.ReleaseURL()
//	}
//	if info.Available() {
//	    report, err := u.Run(ctx, info, onProgress)
//	    // report.Outcome == update.OutcomeCancelled if the user cancelled
//	}
package update
