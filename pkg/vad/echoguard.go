package vad

import (
	"sync"
	"time"
)

// EchoGuard is a trimmed adaptation of the teacher's echo_suppression.go:
// instead of the full real-time correlation pipeline (built for
// simultaneous playback+capture barge-in, which VoiceMode's sequential
// chime->record turn doesn't have), it only needs the simplest piece of
// that idea — don't let residual device echo right after a chime or TTS
// playback register as speech-start.
type EchoGuard struct {
	mu              sync.Mutex
	lastPlaybackEnd time.Time
	window          time.Duration
}

// NewEchoGuard builds a guard that ignores speech-start for window after
// the most recent playback ended.
func NewEchoGuard(window time.Duration) *EchoGuard {
	if window <= 0 {
		window = 150 * time.Millisecond
	}
	return &EchoGuard{window: window}
}

// MarkPlaybackEnded records that playback (chime or TTS) just finished.
func (g *EchoGuard) MarkPlaybackEnded(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPlaybackEnd = at
}

// ShouldIgnore reports whether a speech-start classification at `now`
// should be treated as echo rather than genuine speech.
func (g *EchoGuard) ShouldIgnore(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastPlaybackEnd.IsZero() {
		return false
	}
	return now.Sub(g.lastPlaybackEnd) < g.window
}
