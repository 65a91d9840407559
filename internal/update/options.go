package update

import (
	"errors"
	"net"
	"net/http"
	"os"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxAttempts = 3
	DefaultUserAgent   = "dbconv-updater"
	// ChunkSize is the read size of one download step; cancellation is
	// observed between chunks.
	ChunkSize = 8 * 1024
)

// maxRedirects matches net/http's default redirect limit.
const maxRedirects = 10

// settings is shared by Resolver, Downloader and Updater.
type settings struct {
	// httpClient bounds whole requests by timeout; used for the feed.
	httpClient *http.Client
	// downloadClient has no overall deadline. The downloader bounds connect,
	// response header and per-chunk idle time by timeout instead.
	downloadClient *http.Client
	timeout        time.Duration
	allow       AllowList
	suffix      string
	maxAttempts int
	userAgent   string
	tempDir     string
}

// Option configures a Resolver, Downloader or Updater.
type Option func(*settings)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *settings) {
		s.httpClient = client
	}
}

// WithTimeout bounds the feed request as a whole, and the connect, response
// header and idle time between chunks of a download. Exceeding it counts as
// a transport failure.
func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.timeout = timeout
	}
}

// WithAllowList sets the trusted origins.
func WithAllowList(allow AllowList) Option {
	return func(s *settings) {
		s.allow = allow
	}
}

// WithAssetSuffix sets the suffix a release asset must end with.
func WithAssetSuffix(suffix string) Option {
	return func(s *settings) {
		s.suffix = suffix
	}
}

// WithMaxAttempts bounds the number of tries on transport failure.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		s.maxAttempts = n
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.userAgent = ua
	}
}

// WithTempDir overrides the directory temp files are created in.
func WithTempDir(dir string) Option {
	return func(s *settings) {
		s.tempDir = dir
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		timeout:     DefaultTimeout,
		allow:       NewAllowList(DefaultAllowedHosts, false),
		suffix:      executableSuffix(),
		maxAttempts: DefaultMaxAttempts,
		userAgent:   DefaultUserAgent,
		tempDir:     os.TempDir(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if s.httpClient == nil {
		transport := newTransport(s.timeout)
		s.httpClient = &http.Client{Transport: transport, Timeout: s.timeout}
		s.downloadClient = &http.Client{Transport: transport}
	} else {
		// Injected clients are copied so the caller's client is not mutated.
		injected := *s.httpClient
		s.httpClient = &injected
		download := injected
		download.Timeout = 0
		s.downloadClient = &download
	}
	s.httpClient.CheckRedirect = s.checkRedirect
	s.downloadClient.CheckRedirect = s.checkRedirect
	return s
}

// checkRedirect refuses to follow a redirect off the allow-list.
func (s settings) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}
	return s.allow.Check(req.URL.String())
}

func newTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	t.DialContext = dialer.DialContext
	t.TLSHandshakeTimeout = timeout
	t.ResponseHeaderTimeout = timeout
	return t
}
