package update

import (
	"strings"
	"time"
)

// releaseAsset represents a downloadable file attached to a release.
type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	ContentType        string `json:"content_type"`
	Size               int64  `json:"size"`
}

// releaseFeed is the subset of a GitHub release document the resolver reads.
type releaseFeed struct {
	TagName     string         `json:"tag_name"`
	Name        string         `json:"name"`
	Body        string         `json:"body"`
	HTMLURL     string         `json:"html_url"`
	PublishedAt string         `json:"published_at"`
	Prerelease  bool           `json:"prerelease"`
	Draft       bool           `json:"draft"`
	Assets      []releaseAsset `json:"assets"`
}

// publishedAt parses the publish timestamp; ok is false if absent or malformed.
func (f releaseFeed) publishedAt() (time.Time, bool) {
	if strings.TrimSpace(f.PublishedAt) == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, f.PublishedAt)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// selectAsset returns the first asset whose name ends with suffix
// (case-insensitive).
func selectAsset(assets []releaseAsset, suffix string) (releaseAsset, bool) {
	suffix = strings.ToLower(suffix)
	for _, a := range assets {
		if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.BrowserDownloadURL) == "" {
			continue
		}
		if strings.HasSuffix(strings.ToLower(a.Name), suffix) {
			return a, true
		}
	}
	return releaseAsset{}, false
}
