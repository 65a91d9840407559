package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dbconv/internal/debug"
	appErrors "dbconv/internal/errors"
)

// Error variables for downloader-specific conditions.
var (
	ErrMissingContentLength = errors.New("response has no content length")
	ErrSizeMismatch         = errors.New("downloaded size does not match content length")
	ErrDownloadFailed       = errors.New("download failed")
)

// Outcome distinguishes a finished download from a deliberate cancellation.
// The zero value is OutcomeFailed, so results returned with an error never
// read as completed.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// DownloadResult is returned by a download that did not fail. Path is empty
// when Outcome is OutcomeCancelled.
type DownloadResult struct {
	Outcome Outcome
	Path    string
	Bytes   int64
	Session *Session
}

// Downloader streams a release asset into a private temp file.
type Downloader struct {
	settings
}

// NewDownloader creates a downloader.
func NewDownloader(opts ...Option) *Downloader {
	return &Downloader{settings: newSettings(opts)}
}

var (
	// errCancelled signals a cancellation from inside the retry loop.
	errCancelled = errors.New("download cancelled")
	// errStalled means no bytes arrived within the idle timeout.
	errStalled = errors.New("download stalled")
)

// Download fetches url into a new temp file, reporting progress to sink after
// every chunk. token (may be nil) is polled between chunks; a cancelled
// download returns OutcomeCancelled with a nil error and leaves no temp file.
// On success the caller owns the file at DownloadResult.Path.
func (d *Downloader) Download(ctx context.Context, url string, sink ProgressFunc, token *CancelToken) (DownloadResult, error) {
	session := newSession(token)
	res, err := d.run(ctx, session, url, sink)
	if err == nil && res.Outcome == OutcomeCompleted {
		session.advance(StatusCompleted)
	}
	return res, err
}

// run performs the download and leaves a successful session in
// StatusDownloading so a caller can move it through verification.
func (d *Downloader) run(ctx context.Context, session *Session, url string, sink ProgressFunc) (DownloadResult, error) {
	result := DownloadResult{Session: session}

	if err := d.allow.Check(url); err != nil {
		session.advance(StatusFailed)
		return result, err
	}
	session.advance(StatusDownloading)
	debug.Info("download started", "session", session.ID, "url", url)

	// Unblock an in-flight read as soon as the token fires.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-session.token.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	var (
		path    string
		written int64
	)
	err := retry(ctx, d.maxAttempts, "download", func(attempt int) error {
		p, n, err := d.attempt(ctx, session, url, sink)
		if err == nil {
			path, written = p, n
			return nil
		}
		if errors.Is(err, errCancelled) || !isTransient(err) {
			return backoff.Permanent(err)
		}
		debug.Warn("download attempt failed", "session", session.ID, "attempt", attempt, "err", err)
		return err
	})

	switch {
	case errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) || (err != nil && session.token.Cancelled()):
		session.advance(StatusCancelled)
		debug.Info("download cancelled", "session", session.ID, "bytes", session.BytesDownloaded())
		result.Outcome = OutcomeCancelled
		return result, nil
	case err != nil:
		session.advance(StatusFailed)
		result.Outcome = OutcomeFailed
		var coded appErrors.Error
		if errors.As(err, &coded) {
			err = coded
		} else {
			err = appErrors.New(appErrors.CodeTransport, "download failed after retries", fmt.Errorf("%w: %v", ErrDownloadFailed, err))
		}
		debug.Error("download failed", "session", session.ID, "code", string(appErrors.CodeOf(err)), "err", err)
		return result, err
	}

	debug.Info("download finished", "session", session.ID, "path", path, "bytes", written)
	result.Outcome = OutcomeCompleted
	result.Path = path
	result.Bytes = written
	return result, nil
}

// attempt makes one request. The temp file is removed on every failure path.
// A watchdog aborts the request when no bytes arrive for d.timeout; the
// transfer as a whole has no deadline.
func (d *Downloader) attempt(ctx context.Context, session *Session, url string, sink ProgressFunc) (path string, written int64, err error) {
	reqCtx, abort := context.WithCancel(ctx)
	defer abort()
	idle := newIdleWatchdog(d.timeout, abort)
	defer idle.stop()

	// interrupted maps an aborted read to cancellation or a stall.
	interrupted := func() error {
		if session.token.Cancelled() || ctx.Err() != nil {
			return errCancelled
		}
		if idle.fired() {
			return fmt.Errorf("%w: no data for %s", errStalled, d.timeout)
		}
		return nil
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, appErrors.New(appErrors.CodeTransport, "create request", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.downloadClient.Do(req)
	if err != nil {
		if stop := interrupted(); stop != nil {
			return "", 0, stop
		}
		return "", 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", 0, appErrors.New(appErrors.CodeTransport,
			fmt.Sprintf("download server returned status %d", resp.StatusCode), ErrDownloadFailed)
	}
	total := resp.ContentLength
	if total <= 0 {
		return "", 0, appErrors.New(appErrors.CodeTransport, "download server did not report a size", ErrMissingContentLength)
	}

	f, err := os.CreateTemp(d.tempDir, "dbconv-update-*.part")
	if err != nil {
		return "", 0, appErrors.New(appErrors.CodeTransport, "create temp file", err)
	}
	path = f.Name()
	session.setTempPath(path)
	defer func() {
		if err != nil {
			_ = f.Close()
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				debug.Warn("could not remove partial download", "path", path, "err", rmErr)
			}
			session.setTempPath("")
			path = ""
		}
	}()

	session.setProgress(0, total)
	buf := make([]byte, ChunkSize)
	for {
		if session.token.Cancelled() || ctx.Err() != nil {
			return "", written, errCancelled
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			idle.reset()
			if _, werr := f.Write(buf[:n]); werr != nil {
				return "", written, appErrors.New(appErrors.CodeTransport, "write temp file", werr)
			}
			written += int64(n)
			session.setProgress(written, total)
			report(sink, newProgress(written, total, session.token), session.ID)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if stop := interrupted(); stop != nil {
				return "", written, stop
			}
			if errors.Is(readErr, io.ErrUnexpectedEOF) {
				return "", written, sizeMismatch(written, total)
			}
			return "", written, readErr
		}
	}
	if session.token.Cancelled() {
		return "", written, errCancelled
	}
	if written != total {
		return "", written, sizeMismatch(written, total)
	}
	if err := f.Sync(); err != nil {
		return "", written, appErrors.New(appErrors.CodeTransport, "flush temp file", err)
	}
	if err := f.Close(); err != nil {
		return "", written, appErrors.New(appErrors.CodeTransport, "close temp file", err)
	}
	return path, written, nil
}

func sizeMismatch(written, total int64) error {
	return appErrors.New(appErrors.CodeIntegrity,
		fmt.Sprintf("received %d of %d bytes", written, total),
		fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, written, total))
}

// idleWatchdog calls abort when reset has not been called for timeout.
// A zero timeout disables it.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	done    chan struct{}
	once    sync.Once
}

func newIdleWatchdog(timeout time.Duration, abort func()) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout, done: make(chan struct{})}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.once.Do(func() { close(w.done) })
			abort()
		})
	}
	return w
}

func (w *idleWatchdog) reset() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *idleWatchdog) fired() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
