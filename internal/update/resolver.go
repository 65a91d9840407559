package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
)

// DefaultAllowedHosts are the origins GitHub serves releases and assets from.
var DefaultAllowedHosts = []string{
	"github.com",
	"api.github.com",
	"objects.githubusercontent.com",
	"release-assets.githubusercontent.com",
}

// Error variables for specific feed conditions.
var (
	ErrRateLimited = errors.New("rate limited by release feed")
	ErrNoAssets    = errors.New("release has no assets")
	ErrNoAsset     = errors.New("no asset for this platform")
)

// ExecutableSuffix returns the file suffix release executables carry on
// this platform.
func ExecutableSuffix() string {
	return executableSuffix()
}

func executableSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// Resolver checks a release feed for a newer version. It holds no mutable
// state and may be used concurrently.
type Resolver struct {
	feedURL string
	settings
}

// NewResolver creates a resolver for the feed at feedURL.
func NewResolver(feedURL string, opts ...Option) *Resolver {
	return &Resolver{feedURL: feedURL, settings: newSettings(opts)}
}

// Resolve queries the feed and compares the latest release with current.
// It never returns an error value; failures are reported via UpdateInfo.Err.
func (r *Resolver) Resolve(ctx context.Context, current string) UpdateInfo {
	cur, err := ParseVersion(current)
	if err != nil {
		return r.fail(Version{}, appErrors.New(appErrors.CodeResolution,
			fmt.Sprintf("current version %q is not a semantic version", current), err))
	}

	if err := r.allow.Check(r.feedURL); err != nil {
		return r.fail(cur, err)
	}

	feed, err := r.fetch(ctx)
	if err != nil {
		return r.fail(cur, err)
	}

	latest, err := ParseVersion(feed.TagName)
	if err != nil {
		return r.fail(cur, appErrors.New(appErrors.CodeResolution,
			fmt.Sprintf("release tag %q is not a semantic version", feed.TagName), err))
	}

	if !latest.GreaterThan(cur) {
		debug.Info("up to date", "current", cur.String(), "latest", latest.String())
		return newUpToDate(cur, latest)
	}

	if len(feed.Assets) == 0 {
		return r.fail(cur, appErrors.New(appErrors.CodeResolution, "release "+latest.String()+" lists no downloads", ErrNoAssets))
	}
	asset, ok := selectAsset(feed.Assets, r.suffix)
	if !ok {
		return r.fail(cur, appErrors.New(appErrors.CodeResolution,
			fmt.Sprintf("release %s has no asset ending in %q", latest.String(), r.suffix), ErrNoAsset))
	}
	if err := r.allow.Check(asset.BrowserDownloadURL); err != nil {
		return r.fail(cur, err)
	}

	checksum, ok := ExtractChecksum(feed.Body)
	if !ok {
		debug.Warn("release notes carry no SHA256 checksum; download will be unverified", "version", latest.String())
	}

	var size uint64
	if asset.Size > 0 {
		size = uint64(asset.Size)
	}
	published, hasPublished := feed.publishedAt()

	debug.Info("update available", "current", cur.String(), "latest", latest.String(), "asset", asset.Name, "bytes", size)
	return newAvailable(cur, availableRelease{
		version:     latest,
		downloadURL: asset.BrowserDownloadURL,
		releaseURL:  feed.HTMLURL,
		assetName:   asset.Name,
		description: feed.Body,
		size:        size,
		checksum:    checksum,
		released:    published,
		hasReleased: hasPublished,
	})
}

func (r *Resolver) fail(cur Version, err error) UpdateInfo {
	debug.Warn("update check failed", "code", string(appErrors.CodeOf(err)), "err", err)
	return newFailed(cur, err)
}

// fetch downloads and decodes the feed, retrying transport failures only.
func (r *Resolver) fetch(ctx context.Context) (releaseFeed, error) {
	var feed releaseFeed
	err := retry(ctx, r.maxAttempts, "resolve", func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feedURL, nil)
		if err != nil {
			return backoff.Permanent(appErrors.New(appErrors.CodeResolution, "create request", err))
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("User-Agent", r.userAgent)

		resp, err := r.httpClient.Do(req)
		if err != nil {
			var refused appErrors.Error
			if errors.As(err, &refused) {
				return backoff.Permanent(refused)
			}
			wrapped := appErrors.New(appErrors.CodeResolution, "release feed unreachable", err)
			if isTransient(err) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			return backoff.Permanent(appErrors.New(appErrors.CodeRateLimited,
				"release feed rate limit reached; try again later", ErrRateLimited))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(appErrors.New(appErrors.CodeResolution,
				fmt.Sprintf("release feed returned status %d", resp.StatusCode), nil))
		}

		var decoded releaseFeed
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			if isTransient(err) {
				return appErrors.New(appErrors.CodeResolution, "read release feed", err)
			}
			return backoff.Permanent(appErrors.New(appErrors.CodeResolution, "malformed release feed", err))
		}
		if strings.TrimSpace(decoded.TagName) == "" {
			return backoff.Permanent(appErrors.New(appErrors.CodeResolution, "release feed has no version tag", nil))
		}
		feed = decoded
		return nil
	})
	if err != nil && !isCoded(err) {
		err = appErrors.New(appErrors.CodeResolution, "release feed unreachable", err)
	}
	return feed, err
}

func isCoded(err error) bool {
	var coded appErrors.Error
	return errors.As(err, &coded)
}
