package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const defaultSpinnerInterval = 120 * time.Millisecond

// elapsedAfter is how long a stage runs before the spinner shows its age.
const elapsedAfter = time.Second

// statusSpinner draws a one-line spinner on a terminal while a slow step runs.
// Nothing is drawn until delay has passed, so quick steps stay silent.
type statusSpinner struct {
	writer        io.Writer
	delay         time.Duration
	frameInterval time.Duration
	frames        []rune

	events chan string
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	mu       sync.Mutex
	frameIdx int
}

func newStatusSpinner(w io.Writer, delay time.Duration) *statusSpinner {
	return newCustomStatusSpinner(w, delay, defaultSpinnerInterval)
}

func newCustomStatusSpinner(w io.Writer, delay, frameInterval time.Duration) *statusSpinner {
	if w == nil {
		w = io.Discard
	}
	sp := &statusSpinner{
		writer:        w,
		delay:         delay,
		frameInterval: frameInterval,
		frames:        []rune{'|', '/', '-', '\\'},
		events:        make(chan string, 8),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go sp.loop()
	return sp
}

func (s *statusSpinner) Stage(detail string) {
	if s == nil {
		return
	}
	select {
	case <-s.stopCh:
		return
	default:
	}
	select {
	case s.events <- detail:
	default:
	}
}

func (s *statusSpinner) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *statusSpinner) loop() {
	defer close(s.doneCh)

	var delayCh <-chan time.Time
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		delayCh = timer.C
	}

	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	var (
		current string
		since   time.Time
	)
	hasStage := false
	visible := s.delay == 0

	for {
		select {
		case <-s.stopCh:
			if visible {
				s.clearLine()
			}
			return
		case detail := <-s.events:
			current = detail
			since = time.Now()
			hasStage = true
			if visible {
				s.render(current, time.Since(since))
			}
		case <-ticker.C:
			if visible && hasStage {
				s.render(current, time.Since(since))
			}
		case <-delayCh:
			delayCh = nil
			visible = true
			if hasStage {
				s.render(current, time.Since(since))
			}
		}
	}
}

func (s *statusSpinner) render(detail string, elapsed time.Duration) {
	frame := s.nextFrame()
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "Working..."
	}
	if elapsed >= elapsedAfter {
		detail += " (" + formatDuration(elapsed.Truncate(time.Second)) + ")"
	}
	_, _ = fmt.Fprintf(s.writer, "\r\033[2K%c %s", frame, detail)
}

func (s *statusSpinner) clearLine() {
	_, _ = fmt.Fprint(s.writer, "\r\033[2K")
}

func (s *statusSpinner) nextFrame() rune {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.frames[s.frameIdx%len(s.frames)]
	s.frameIdx++
	return frame
}
