package update

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

const (
	testFeedURL  = "https://api.github.com/repos/owner/repo/releases/latest"
	testAssetURL = "https://github.com/owner/repo/releases/download/v2.2/dbconv.exe"
)

// rewriteTransport rewrites request URLs for testing.
type rewriteTransport struct {
	base      http.RoundTripper
	targetURL string
	calls     atomic.Int32
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls.Add(1)
	req.URL.Scheme = "http"
	req.URL.Host = t.targetURL[7:] // strip "http://"
	return t.base.RoundTrip(req)
}

// flakyTransport fails the first n requests with a connection error.
type flakyTransport struct {
	next     http.RoundTripper
	failures int32
	calls    atomic.Int32
}

func (t *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.calls.Add(1) <= t.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}
	return t.next.RoundTrip(req)
}

// fastRetry removes the wait between attempts for the duration of a test.
func fastRetry(t *testing.T) {
	t.Helper()
	orig := newBackOff
	newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	t.Cleanup(func() { newBackOff = orig })
}

// rewritingClient routes every request to server while keeping the
// production https URLs (and therefore the default allow-list) intact.
func rewritingClient(server *httptest.Server) (*http.Client, *rewriteTransport) {
	rt := &rewriteTransport{base: http.DefaultTransport, targetURL: server.URL}
	return &http.Client{Transport: rt}, rt
}

func serveFeed(t *testing.T, feed releaseFeed) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(feed)
	}))
	t.Cleanup(server.Close)
	return server
}

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func fixture(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected %s to be empty, found %v", dir, names)
	}
}

func assertNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s not to exist (stat err: %v)", path, err)
	}
}
