package update

import "time"

// UpdateInfo is the immutable result of a version check. It is built only
// by the resolver; read it through its methods.
type UpdateInfo struct {
	available   bool
	current     Version
	version     Version
	downloadURL string
	releaseURL  string
	assetName   string
	description string
	size        uint64
	checksum    string
	released    time.Time
	hasReleased bool
	err         error
}

func newUpToDate(current, latest Version) UpdateInfo {
	return UpdateInfo{current: current, version: latest}
}

func newFailed(current Version, err error) UpdateInfo {
	return UpdateInfo{current: current, err: err}
}

type availableRelease struct {
	version     Version
	downloadURL string
	releaseURL  string
	assetName   string
	description string
	size        uint64
	checksum    string
	released    time.Time
	hasReleased bool
}

func newAvailable(current Version, r availableRelease) UpdateInfo {
	return UpdateInfo{
		available:   r.downloadURL != "",
		current:     current,
		version:     r.version,
		downloadURL: r.downloadURL,
		releaseURL:  r.releaseURL,
		assetName:   r.assetName,
		description: r.description,
		size:        r.size,
		checksum:    r.checksum,
		released:    r.released,
		hasReleased: r.hasReleased,
	}
}

// Available reports whether a newer, downloadable release exists.
func (i UpdateInfo) Available() bool { return i.available }

// Current returns the version the check was made against.
func (i UpdateInfo) Current() Version { return i.current }

// Version returns the newer version. It is zero unless Available.
func (i UpdateInfo) Version() Version {
	if !i.available {
		return Version{}
	}
	return i.version
}

// Latest returns the newest version the feed reported, even when it is not
// newer than Current. Zero if the check failed.
func (i UpdateInfo) Latest() Version { return i.version }

// DownloadURL returns the allow-listed asset URL.
func (i UpdateInfo) DownloadURL() string { return i.downloadURL }

// ReleaseURL returns the human-facing release page, if the feed had one.
func (i UpdateInfo) ReleaseURL() string { return i.releaseURL }

// AssetName returns the selected asset's file name.
func (i UpdateInfo) AssetName() string { return i.assetName }

// Description returns the release notes, for display only.
func (i UpdateInfo) Description() string { return i.description }

// FileSizeBytes returns the asset size declared by the feed.
func (i UpdateInfo) FileSizeBytes() uint64 { return i.size }

// Checksum returns the lowercase SHA-256 published in the release notes.
func (i UpdateInfo) Checksum() (string, bool) { return i.checksum, i.checksum != "" }

// ReleaseDate returns the publish time, if known.
func (i UpdateInfo) ReleaseDate() (time.Time, bool) { return i.released, i.hasReleased }

// Err returns the coded failure, or nil when the check succeeded.
func (i UpdateInfo) Err() error { return i.err }
