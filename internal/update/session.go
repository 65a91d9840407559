package update

import (
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a download session.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusVerifying
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusVerifying:
		return "verifying"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Session is a single-use record of one download. Its status only moves
// forward; a terminal status is never left.
type Session struct {
	ID string

	mu         sync.RWMutex
	status     Status
	downloaded int64
	total      int64
	tempPath   string
	token      *CancelToken
}

func newSession(token *CancelToken) *Session {
	if token == nil {
		token = NewCancelToken()
	}
	return &Session{ID: uuid.NewString(), token: token}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// BytesDownloaded returns the bytes written to the temp file so far.
func (s *Session) BytesDownloaded() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.downloaded
}

// TotalBytes returns the declared Content-Length.
func (s *Session) TotalBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Token returns the cancel token this session polls.
func (s *Session) Token() *CancelToken {
	return s.token
}

// advance moves to next if that is a forward transition and reports whether
// it happened.
func (s *Session) advance(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canAdvance(s.status, next) {
		return false
	}
	s.status = next
	return true
}

func canAdvance(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusDownloading || to == StatusFailed || to == StatusCancelled
	case StatusDownloading:
		return to == StatusVerifying || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	case StatusVerifying:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

func (s *Session) setProgress(downloaded, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloaded = downloaded
	s.total = total
}

func (s *Session) setTempPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempPath = path
}

func (s *Session) tempFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tempPath
}
