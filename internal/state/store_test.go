package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	appErrors "dbconv/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	if !appErrors.IsCode(err, appErrors.CodeStateStore) {
		t.Fatalf("code = %q, want %q", appErrors.CodeOf(err), appErrors.CodeStateStore)
	}
}

func TestLastCheck(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.LastCheck(ctx); err != nil || ok {
		t.Fatalf("LastCheck() on empty store = %v, %v; want no record", ok, err)
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	checks := []Check{
		{CheckedAt: base, Current: "2.0", Latest: "2.0"},
		{CheckedAt: base.Add(2 * time.Hour), Current: "2.0", Latest: "2.1", Available: true},
		{CheckedAt: base.Add(time.Hour), Current: "2.0", ErrorCode: "resolution_failed"},
	}
	for _, c := range checks {
		if err := s.RecordCheck(ctx, c); err != nil {
			t.Fatalf("RecordCheck() error: %v", err)
		}
	}

	last, ok, err := s.LastCheck(ctx)
	if err != nil || !ok {
		t.Fatalf("LastCheck() = %v, %v", ok, err)
	}
	if !last.CheckedAt.Equal(base.Add(2*time.Hour)) || !last.Available || last.Latest != "2.1" {
		t.Fatalf("LastCheck() = %+v, want the newest check", last)
	}
}

func TestNextCheckAllowed(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		last     *Check
		now      time.Time
		interval time.Duration
		wantNext time.Time
		wantOK   bool
	}{
		{
			name:     "no history",
			now:      base,
			interval: 6 * time.Hour,
			wantNext: base,
			wantOK:   true,
		},
		{
			name:     "within interval",
			last:     &Check{CheckedAt: base, Current: "2.1", Latest: "2.1"},
			now:      base.Add(time.Hour),
			interval: 6 * time.Hour,
			wantNext: base.Add(6 * time.Hour),
			wantOK:   false,
		},
		{
			name:     "interval elapsed",
			last:     &Check{CheckedAt: base, Current: "2.1", Latest: "2.1"},
			now:      base.Add(6 * time.Hour),
			interval: 6 * time.Hour,
			wantNext: base.Add(6 * time.Hour),
			wantOK:   true,
		},
		{
			name:     "rate limited extends short interval",
			last:     &Check{CheckedAt: base, Current: "2.1", ErrorCode: string(appErrors.CodeRateLimited)},
			now:      base.Add(30 * time.Minute),
			interval: time.Minute,
			wantNext: base.Add(RateLimitCooldown),
			wantOK:   false,
		},
		{
			name:     "rate limited keeps longer interval",
			last:     &Check{CheckedAt: base, Current: "2.1", ErrorCode: string(appErrors.CodeRateLimited)},
			now:      base.Add(2 * time.Hour),
			interval: 24 * time.Hour,
			wantNext: base.Add(24 * time.Hour),
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			if tt.last != nil {
				if err := s.RecordCheck(ctx, *tt.last); err != nil {
					t.Fatalf("RecordCheck() error: %v", err)
				}
			}
			next, ok, err := s.NextCheckAllowed(ctx, tt.now, tt.interval)
			if err != nil {
				t.Fatalf("NextCheckAllowed() error: %v", err)
			}
			if !next.Equal(tt.wantNext) || ok != tt.wantOK {
				t.Fatalf("NextCheckAllowed() = %v, %v; want %v, %v", next, ok, tt.wantNext, tt.wantOK)
			}
		})
	}
}

func TestInstalls(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []string{"2.1", "2.2", "2.3"} {
		err := s.RecordInstall(ctx, Install{
			InstalledAt:  base.Add(time.Duration(i) * time.Hour),
			Version:      v,
			Path:         "update.exe",
			Verification: "passed",
			SessionID:    "session-" + v,
		})
		if err != nil {
			t.Fatalf("RecordInstall() error: %v", err)
		}
	}

	all, err := s.Installs(ctx, 0)
	if err != nil {
		t.Fatalf("Installs() error: %v", err)
	}
	if len(all) != 3 || all[0].Version != "2.3" || all[2].Version != "2.1" {
		t.Fatalf("Installs() = %+v, want newest first", all)
	}
	if all[0].SessionID != "session-2.3" || !all[0].InstalledAt.Equal(base.Add(2*time.Hour)) {
		t.Errorf("Installs()[0] = %+v", all[0])
	}

	limited, err := s.Installs(ctx, 1)
	if err != nil {
		t.Fatalf("Installs(1) error: %v", err)
	}
	if len(limited) != 1 || limited[0].Version != "2.3" {
		t.Fatalf("Installs(1) = %+v", limited)
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.RecordCheck(ctx, Check{Current: "2.1", Latest: "2.2", Available: true}); err != nil {
		t.Fatalf("RecordCheck() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	last, ok, err := reopened.LastCheck(ctx)
	if err != nil || !ok || last.Latest != "2.2" {
		t.Fatalf("LastCheck() after reopen = %+v, %v, %v", last, ok, err)
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q, want %q", reopened.Path(), path)
	}
}
