package audioio

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

// ChimeKind selects which tone to play: start precedes recording, stop
// follows it (spec §4.3).
type ChimeKind string

const (
	ChimeStart ChimeKind = "start"
	ChimeStop  ChimeKind = "stop"
)

const (
	chimeLeadingMs  = 50
	chimeTrailingMs = 200
	chimeDurationMs = 400
)

var chimeFrequency = map[ChimeKind]float64{
	ChimeStart: 523.0, // C5
	ChimeStop:  440.0, // A4
}

// GenerateChime synthesizes a short sine tone with leading/trailing
// silence "to avoid Bluetooth device clipping", as spec's design notes
// put it, at 16-bit mono PCM.
func GenerateChime(kind ChimeKind, sampleRate int) []byte {
	freq := chimeFrequency[kind]
	buf := new(bytes.Buffer)

	writeSilence := func(ms int) {
		n := sampleRate * ms / 1000
		for i := 0; i < n; i++ {
			binary.Write(buf, binary.LittleEndian, int16(0))
		}
	}

	writeSilence(chimeLeadingMs)

	n := sampleRate * chimeDurationMs / 1000
	// Short raised-cosine envelope at the edges of the tone itself, on top
	// of the leading/trailing silence, so there's no audible click.
	rampSamples := sampleRate / 100 // 10ms
	for i := 0; i < n; i++ {
		amp := 0.6
		if i < rampSamples {
			amp *= float64(i) / float64(rampSamples)
		} else if i > n-rampSamples {
			amp *= float64(n-i) / float64(rampSamples)
		}
		v := int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		binary.Write(buf, binary.LittleEndian, v)
	}

	writeSilence(chimeTrailingMs)
	return buf.Bytes()
}

// Chime plays kind through dev and blocks until playback drains (bounded
// by drainTimeout), matching spec's "chimes are synchronous but cheap".
func (d *Device) Chime(kind ChimeKind, drainTimeout time.Duration) {
	tone := GenerateChime(kind, d.sampleRate)
	d.Enqueue(tone)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctxDone := make(chan struct{})
		timer := time.AfterFunc(drainTimeout, func() { close(ctxDone) })
		defer timer.Stop()
		_ = d.waitDrainedOrTimeout(ctxDone)
	}()
	<-done
}

func (d *Device) waitDrainedOrTimeout(timeout <-chan struct{}) error {
	done := make(chan struct{})
	d.playbackMu.Lock()
	if len(d.playbackBytes) == 0 {
		d.playbackMu.Unlock()
		return nil
	}
	d.onDrainedOnce = func() { close(done) }
	d.playbackMu.Unlock()

	select {
	case <-done:
		return nil
	case <-timeout:
		return nil
	}
}
