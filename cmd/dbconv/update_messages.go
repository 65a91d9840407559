package main

import (
	"fmt"
	"strings"

	appErrors "dbconv/internal/errors"
	"dbconv/internal/ui"
	"dbconv/internal/update"

	"github.com/dustin/go-humanize"
)

func formatUpdateNotice(info update.UpdateInfo) string {
	return fmt.Sprintf("A new version of dbconv is available: %s (you have %s). Run dbconv -update to install it.\n",
		info.Version().String(), displayVersion(info.Current()))
}

func formatUpToDate(info update.UpdateInfo) string {
	latest := info.Latest().String()
	if latest == "" {
		latest = "unknown"
	}
	return fmt.Sprintf("dbconv %s is up to date (latest release: %s).\n", displayVersion(info.Current()), latest)
}

func formatUpdateDetails(info update.UpdateInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update available: %s → %s\n", displayVersion(info.Current()), info.Version().String())
	if size := info.FileSizeBytes(); size > 0 {
		fmt.Fprintf(&b, "  Download: %s (%s)\n", info.AssetName(), humanize.IBytes(size))
	}
	if released, ok := info.ReleaseDate(); ok {
		fmt.Fprintf(&b, "  Released: %s (%s)\n", released.Format("2006-01-02"), humanize.Time(released))
	}
	if _, ok := info.Checksum(); ok {
		b.WriteString("  Checksum: SHA-256 published\n")
	} else {
		b.WriteString("  Checksum: none published; the download cannot be verified\n")
	}
	if link := info.ReleaseURL(); link != "" {
		fmt.Fprintf(&b, "  Release:  %s\n", link)
	}
	return b.String()
}

// formatUpdateFailure renders an actionable message for a failed check,
// download or install. Critical install failures get a banner because the
// installed program may be gone.
func formatUpdateFailure(err error, releasePage string) string {
	headline, hint := ui.DescribeFailure(err)
	detail := ui.ErrorDetail(err)
	if strings.TrimSpace(detail) == "" {
		detail = "unknown error"
	}
	if strings.TrimSpace(releasePage) == "" {
		releasePage = "the project's releases page"
	}

	if appErrors.IsCritical(err) {
		bar := strings.Repeat("!", 60)
		return fmt.Sprintf(`%[1]s
CRITICAL: %[2]s

%[3]s

%[4]s
  %[5]s
%[1]s

`, bar, headline, detail, hint, releasePage)
	}

	return fmt.Sprintf(`Error: %s

%s

%s
  %s

`, headline, detail, hint, releasePage)
}

func displayVersion(v update.Version) string {
	if v.IsZero() {
		return Version
	}
	return v.String()
}
