package update

import (
	"fmt"
	"runtime/debug"

	dbg "dbconv/internal/debug"
)

const bytesPerMB = 1024 * 1024

// Progress is reported after every chunk written to the temp file.
type Progress struct {
	Percent      float64
	DownloadedMB float64
	TotalMB      float64
	BytesDone    int64
	BytesTotal   int64
	// Cancel requests cancellation of the running download. It is safe to
	// call from any goroutine.
	Cancel func()
}

// ProgressFunc receives download progress. It runs on the download goroutine.
type ProgressFunc func(Progress)

func newProgress(done, total int64, token *CancelToken) Progress {
	p := Progress{
		DownloadedMB: float64(done) / bytesPerMB,
		TotalMB:      float64(total) / bytesPerMB,
		BytesDone:    done,
		BytesTotal:   total,
		Cancel:       token.Cancel,
	}
	if total > 0 {
		p.Percent = float64(done) / float64(total) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	return p
}

// report invokes sink, recovering and logging any panic it raises.
func report(sink ProgressFunc, p Progress, sessionID string) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			dbg.Error("progress callback panicked", "session", sessionID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	sink(p)
}
