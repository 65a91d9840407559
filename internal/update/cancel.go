package update

import (
	"sync"
	"sync/atomic"
)

// CancelToken is a one-shot cancellation flag shared between the caller
// and a download session. Cancel may be called from any goroutine, any
// number of times.
type CancelToken struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the flag. Only the first call has an effect.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.flag.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.flag.Load()
}

// Done returns a channel closed on cancellation. A nil token never closes.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}
