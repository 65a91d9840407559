package update

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	appErrors "dbconv/internal/errors"
)

// localOnly trusts the loopback test server over plain http.
func localOnly() Option {
	return WithAllowList(NewAllowList([]string{"127.0.0.1"}, true))
}

// trickleServer sends chunks of ChunkSize bytes, pausing between them.
func trickleServer(t *testing.T, chunks int, pause time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(chunks*ChunkSize))
		w.WriteHeader(http.StatusOK)
		chunk := fixture(ChunkSize)
		for i := 0; i < chunks; i++ {
			if i > 0 {
				select {
				case <-time.After(pause):
				case <-r.Context().Done():
					return
				}
			}
			_, _ = w.Write(chunk)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDownloadSlowStreamOutlivesTimeout(t *testing.T) {
	server := trickleServer(t, 10, 40*time.Millisecond)
	tmp := t.TempDir()
	d := NewDownloader(localOnly(), WithTimeout(150*time.Millisecond), WithTempDir(tmp), WithMaxAttempts(1))

	res, err := d.Download(context.Background(), server.URL+"/dbconv.exe", nil, nil)
	if err != nil {
		t.Fatalf("a slow but steady download must not time out: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Bytes != int64(10*ChunkSize) {
		t.Fatalf("Download() = %v, %d bytes", res.Outcome, res.Bytes)
	}
}

func TestDownloadStalledStreamFails(t *testing.T) {
	fastRetry(t)
	server := trickleServer(t, 4, 5*time.Second)
	tmp := t.TempDir()
	d := NewDownloader(localOnly(), WithTimeout(100*time.Millisecond), WithTempDir(tmp), WithMaxAttempts(1))

	start := time.Now()
	res, err := d.Download(context.Background(), server.URL+"/dbconv.exe", nil, nil)
	if !appErrors.IsCode(err, appErrors.CodeTransport) {
		t.Fatalf("code = %q, want %q (%v)", appErrors.CodeOf(err), appErrors.CodeTransport, err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("stall detected after %v", elapsed)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %v, want failed", res.Outcome)
	}
	assertEmptyDir(t, tmp)
}

// redirectServer redirects /dbconv.exe to target(server URL) and serves the
// asset on /payload.
func redirectServer(t *testing.T, target func(base string) string, payloadHits *atomic.Int32) *httptest.Server {
	t.Helper()
	data := fixture(3 * ChunkSize)
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/payload" {
			payloadHits.Add(1)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			_, _ = w.Write(data)
			return
		}
		http.Redirect(w, r, target(server.URL), http.StatusFound)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDownloadRefusesRedirectOffAllowList(t *testing.T) {
	fastRetry(t)
	var payloadHits atomic.Int32
	server := redirectServer(t, func(base string) string {
		return strings.Replace(base, "127.0.0.1", "localhost", 1) + "/payload"
	}, &payloadHits)
	tmp := t.TempDir()
	d := NewDownloader(localOnly(), WithTempDir(tmp), WithMaxAttempts(3))

	res, err := d.Download(context.Background(), server.URL+"/dbconv.exe", nil, nil)
	if !appErrors.IsCode(err, appErrors.CodeUntrustedOrigin) {
		t.Fatalf("code = %q, want %q (%v)", appErrors.CodeOf(err), appErrors.CodeUntrustedOrigin, err)
	}
	if payloadHits.Load() != 0 {
		t.Fatal("no request may be made to the redirect target")
	}
	if res.Outcome != OutcomeFailed || res.Path != "" {
		t.Errorf("Download() = %v, path %q", res.Outcome, res.Path)
	}
	assertEmptyDir(t, tmp)
}

func TestDownloadFollowsAllowedRedirect(t *testing.T) {
	var payloadHits atomic.Int32
	server := redirectServer(t, func(base string) string { return base + "/payload" }, &payloadHits)
	tmp := t.TempDir()
	d := NewDownloader(localOnly(), WithTempDir(tmp))

	res, err := d.Download(context.Background(), server.URL+"/dbconv.exe", nil, nil)
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if res.Bytes != int64(3*ChunkSize) || payloadHits.Load() != 1 {
		t.Fatalf("Bytes = %d, payload hits = %d", res.Bytes, payloadHits.Load())
	}
}

func TestResolveRefusesRedirectOffAllowList(t *testing.T) {
	var feedHits atomic.Int32
	feed := serveFeed(t, releaseWithAsset("v2.2"))
	redirect := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		feedHits.Add(1)
		http.Redirect(w, r, strings.Replace(feed.URL, "127.0.0.1", "localhost", 1)+"/latest", http.StatusFound)
	}))
	defer redirect.Close()

	r := NewResolver(redirect.URL+"/latest", localOnly(), WithMaxAttempts(3))
	info := r.Resolve(context.Background(), "2.1")
	if !appErrors.IsCode(info.Err(), appErrors.CodeUntrustedOrigin) {
		t.Fatalf("Err() code = %q, want %q (%v)", appErrors.CodeOf(info.Err()), appErrors.CodeUntrustedOrigin, info.Err())
	}
	if got := feedHits.Load(); got != 1 {
		t.Fatalf("redirecting feed hit %d times, want 1", got)
	}
}

// failingTransport fails every request with err.
type failingTransport struct {
	err   error
	calls atomic.Int32
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestDownloadNonTransportErrorIsNotRetried(t *testing.T) {
	fastRetry(t)
	rt := &failingTransport{err: errors.New("x509: certificate signed by unknown authority")}
	d := NewDownloader(WithHTTPClient(&http.Client{Transport: rt}), WithTempDir(t.TempDir()), WithMaxAttempts(3))

	_, err := d.Download(context.Background(), testAssetURL, nil, nil)
	if !appErrors.IsCode(err, appErrors.CodeTransport) {
		t.Fatalf("code = %q, want %q", appErrors.CodeOf(err), appErrors.CodeTransport)
	}
	if got := rt.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestWithHTTPClientIsNotMutated(t *testing.T) {
	client := &http.Client{Timeout: time.Second}
	NewDownloader(WithHTTPClient(client))
	if client.CheckRedirect != nil || client.Timeout != time.Second {
		t.Fatal("an injected client must be copied, not modified")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	get := func(err error) error { return &url.Error{Op: "Get", URL: testAssetURL, Err: err} }
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", get(context.Canceled), false},
		{"refused dial", get(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}), true},
		{"reset read", syscall.ECONNRESET, true},
		{"timeout", get(timeoutErr{}), true},
		{"stalled", errStalled, true},
		{"certificate", get(errors.New("x509: certificate signed by unknown authority")), false},
		{"bad scheme", get(errors.New(`unsupported protocol scheme "ftp"`)), false},
		{"refused redirect", get(appErrors.New(appErrors.CodeUntrustedOrigin, "host not allowed", nil)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestOutcomeZeroValueIsFailed(t *testing.T) {
	var res DownloadResult
	if res.Outcome != OutcomeFailed || res.Outcome.String() != "failed" {
		t.Fatalf("zero Outcome = %v", res.Outcome)
	}
	if OutcomeCompleted.String() != "completed" || OutcomeCancelled.String() != "cancelled" {
		t.Fatal("unexpected Outcome strings")
	}
}
