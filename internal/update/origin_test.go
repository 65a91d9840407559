package update

import (
	"reflect"
	"testing"

	appErrors "dbconv/internal/errors"
)

func TestAllowListCheck(t *testing.T) {
	allow := NewAllowList([]string{"GitHub.com", " objects.githubusercontent.com ", "mirror.example:8443", ""}, false)

	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"allowed host", "https://github.com/owner/repo/releases/download/v2.2/app.exe", true},
		{"case insensitive host", "https://OBJECTS.githubusercontent.com/x", true},
		{"port ignored", "https://mirror.example:9999/app", true},
		{"unknown host", "https://evil.example/app.exe", false},
		{"lookalike suffix", "https://github.com.evil.example/app.exe", false},
		{"plain http", "http://github.com/app.exe", false},
		{"file scheme", "file:///etc/passwd", false},
		{"relative", "/releases/app.exe", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := allow.Check(tt.url)
			if tt.ok && err != nil {
				t.Fatalf("Check(%q) unexpected error: %v", tt.url, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("Check(%q) expected rejection", tt.url)
				}
				if !appErrors.IsCode(err, appErrors.CodeUntrustedOrigin) {
					t.Fatalf("Check(%q) code = %q, want %q", tt.url, appErrors.CodeOf(err), appErrors.CodeUntrustedOrigin)
				}
			}
		})
	}

	want := []string{"github.com", "mirror.example", "objects.githubusercontent.com"}
	if got := allow.Hosts(); !reflect.DeepEqual(got, want) {
		t.Errorf("Hosts() = %v, want %v", got, want)
	}
}

func TestAllowListPlainHTTPOptIn(t *testing.T) {
	allow := NewAllowList([]string{"127.0.0.1"}, true)
	if err := allow.Check("http://127.0.0.1:4321/app"); err != nil {
		t.Fatalf("plain http should be accepted when opted in: %v", err)
	}
}
