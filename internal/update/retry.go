package update

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dbconv/internal/debug"
)

// newBackOff builds the wait schedule between attempts. Tests shorten it.
var newBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// retry runs op up to attempts times. op marks non-retryable failures with
// backoff.Permanent; the unwrapped error is returned.
func retry(ctx context.Context, attempts int, what string, op func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(attempts-1)), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(attempt)
	}, policy, func(err error, wait time.Duration) {
		debug.Warn("transport failure, retrying", "op", what, "attempt", attempt, "of", attempts, "wait", wait, "err", err)
	})
}

// isTransient reports whether err is a transport-level failure worth retrying:
// a stalled download, a timeout, or a failed dial, read or write on the
// connection. Redirect refusals, bad schemes and certificate errors are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if isCoded(err) {
		return false
	}
	if errors.Is(err, errStalled) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
