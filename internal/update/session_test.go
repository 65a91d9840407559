package update

import (
	"sync"
	"testing"
	"time"
)

func TestCancelTokenConcurrentCancel(t *testing.T) {
	token := NewCancelToken()
	if token.Cancelled() {
		t.Fatal("new token should not be cancelled")
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token.Cancel()
		}()
	}
	wg.Wait()

	if !token.Cancelled() {
		t.Fatal("token should be cancelled")
	}
	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() should be closed after Cancel")
	}
}

func TestNilCancelToken(t *testing.T) {
	var token *CancelToken
	token.Cancel()
	if token.Cancelled() {
		t.Fatal("nil token is never cancelled")
	}
	if token.Done() != nil {
		t.Fatal("nil token has no done channel")
	}
}

func TestSessionTransitionsOnlyMoveForward(t *testing.T) {
	s := newSession(nil)
	if s.Status() != StatusPending {
		t.Fatalf("initial status = %v, want pending", s.Status())
	}
	if s.Token() == nil {
		t.Fatal("session should create a token when none is given")
	}

	steps := []struct {
		next Status
		ok   bool
	}{
		{StatusCompleted, false},
		{StatusDownloading, true},
		{StatusPending, false},
		{StatusVerifying, true},
		{StatusDownloading, false},
		{StatusCompleted, true},
		{StatusFailed, false},
		{StatusCancelled, false},
	}
	for _, step := range steps {
		before := s.Status()
		if got := s.advance(step.next); got != step.ok {
			t.Fatalf("advance(%v) from %v = %v, want %v", step.next, before, got, step.ok)
		}
	}
	if s.Status() != StatusCompleted {
		t.Fatalf("final status = %v, want completed", s.Status())
	}
}

func TestSessionCancelledIsTerminal(t *testing.T) {
	s := newSession(nil)
	s.advance(StatusDownloading)
	if !s.advance(StatusCancelled) {
		t.Fatal("downloading -> cancelled should be allowed")
	}
	for _, next := range []Status{StatusVerifying, StatusCompleted, StatusFailed} {
		if s.advance(next) {
			t.Fatalf("cancelled session moved to %v", next)
		}
	}
	if !StatusCancelled.Terminal() || StatusDownloading.Terminal() {
		t.Fatal("unexpected Terminal() results")
	}
}

func TestNewProgress(t *testing.T) {
	token := NewCancelToken()
	p := newProgress(3*bytesPerMB, 12*bytesPerMB, token)
	if p.Percent != 25 || p.DownloadedMB != 3 || p.TotalMB != 12 {
		t.Fatalf("progress = %+v", p)
	}
	p.Cancel()
	if !token.Cancelled() {
		t.Fatal("Progress.Cancel should cancel the session token")
	}

	if z := newProgress(10, 0, token); z.Percent != 0 {
		t.Fatalf("unknown total should report 0%%, got %v", z.Percent)
	}
}
