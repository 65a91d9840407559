package update

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	appErrors "dbconv/internal/errors"
)

// AllowList is the set of hostnames the pipeline may contact. Both the
// resolver and the downloader check URLs against it before any request.
type AllowList struct {
	hosts          map[string]struct{}
	allowPlainHTTP bool
}

// NewAllowList builds an allow-list from hostnames. Ports and case are
// ignored. Plain http is rejected unless allowPlainHTTP is set.
func NewAllowList(hosts []string, allowPlainHTTP bool) AllowList {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if u, err := url.Parse("//" + h); err == nil && u.Hostname() != "" {
			h = u.Hostname()
		}
		set[h] = struct{}{}
	}
	return AllowList{hosts: set, allowPlainHTTP: allowPlainHTTP}
}

// Hosts returns the allowed hostnames in sorted order.
func (a AllowList) Hosts() []string {
	out := make([]string, 0, len(a.hosts))
	for h := range a.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Check returns a CodeUntrustedOrigin error if raw is not an absolute URL on
// an allowed host using an allowed scheme.
func (a AllowList) Check(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return appErrors.New(appErrors.CodeUntrustedOrigin, fmt.Sprintf("malformed url %q", raw), err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !a.allowPlainHTTP {
			return appErrors.New(appErrors.CodeUntrustedOrigin, fmt.Sprintf("refusing plain http url %q", raw), nil)
		}
	default:
		return appErrors.New(appErrors.CodeUntrustedOrigin, fmt.Sprintf("unsupported url scheme in %q", raw), nil)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return appErrors.New(appErrors.CodeUntrustedOrigin, fmt.Sprintf("url %q has no host", raw), nil)
	}
	if _, ok := a.hosts[host]; !ok {
		return appErrors.New(appErrors.CodeUntrustedOrigin, fmt.Sprintf("host %q is not in the allow-list", host), nil)
	}
	return nil
}
