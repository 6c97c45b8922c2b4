package vad

import (
	"context"
	"testing"
	"time"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// fakeSource replays pre-built frames, then silence (zeros) forever.
type fakeSource struct {
	frames [][]byte
	pos    int
}

func speechFrame(n int) []byte {
	f := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		f[i] = 0xFF
		f[i+1] = 0x7F // large positive sample, well above any threshold
	}
	return f
}

func silenceFrame(n int) []byte {
	return make([]byte, n)
}

func (f *fakeSource) ReadFrame(ctx context.Context) ([]byte, error) {
	if f.pos < len(f.frames) {
		fr := f.frames[f.pos]
		f.pos++
		return fr, nil
	}
	return silenceFrame(len(f.frames[0])), nil
}

func buildFrames(speechN, silenceN, frameBytes int) [][]byte {
	var frames [][]byte
	for i := 0; i < speechN; i++ {
		frames = append(frames, speechFrame(frameBytes))
	}
	for i := 0; i < silenceN; i++ {
		frames = append(frames, silenceFrame(frameBytes))
	}
	return frames
}

func TestRecorderStopsOnSilenceAfterMinDuration(t *testing.T) {
	sampleRate := 16000
	frameBytes := sampleRate * frameMs / 1000 * 2

	// 2s of speech then 1.5s of silence -> silenceThresholdMs=1000 should
	// fire the stop once 1000ms of trailing silence accumulates.
	frames := buildFrames(100, 75, frameBytes) // 100*20ms=2000ms speech, 75*20ms=1500ms silence
	src := &fakeSource{frames: frames}

	r := NewRecorder(nil)
	res, err := r.Record(context.Background(), src, nil, Params{
		MaxS:               30,
		MinS:               0.5,
		SilenceThresholdMS: 1000,
		GracePeriodS:       4,
		Aggressiveness:     2,
		SampleRate:         sampleRate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopReason != voicemode.StopSilence {
		t.Fatalf("expected StopSilence, got %s", res.StopReason)
	}
	durMs := res.Buffer.DurationMs()
	if durMs < 2500 || durMs > 3500 {
		t.Errorf("expected duration in [2500,3500]ms, got %dms", durMs)
	}
}

func TestRecorderGraceExpiresWithNoSpeech(t *testing.T) {
	sampleRate := 16000
	frameBytes := sampleRate * frameMs / 1000 * 2

	src := &fakeSource{frames: buildFrames(0, 400, frameBytes)} // all silence
	r := NewRecorder(nil)

	res, err := r.Record(context.Background(), src, nil, Params{
		MaxS:               30,
		MinS:               0,
		SilenceThresholdMS: 1000,
		GracePeriodS:       4,
		Aggressiveness:     2,
		SampleRate:         sampleRate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopReason != voicemode.StopNoSpeech {
		t.Fatalf("expected StopNoSpeech, got %s", res.StopReason)
	}
	if res.Buffer.PCM == nil && res.Buffer.DurationMs() != 0 {
		t.Error("expected possibly-empty buffer on no_speech")
	}
}

func TestRecorderMaxDurationWinsOverSilenceTieBreak(t *testing.T) {
	sampleRate := 16000
	frameBytes := sampleRate * frameMs / 1000 * 2

	// Speech the whole time but max_s is tiny: should stop on max_duration
	// well before any silence could accumulate.
	src := &fakeSource{frames: buildFrames(1000, 0, frameBytes)}
	r := NewRecorder(nil)

	res, err := r.Record(context.Background(), src, nil, Params{
		MaxS:               1,
		MinS:               0,
		SilenceThresholdMS: 1000,
		GracePeriodS:       4,
		Aggressiveness:     2,
		SampleRate:         sampleRate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopReason != voicemode.StopMaxDuration {
		t.Fatalf("expected StopMaxDuration, got %s", res.StopReason)
	}
}

func TestRecorderRespectsContextCancellation(t *testing.T) {
	sampleRate := 16000
	frameBytes := sampleRate * frameMs / 1000 * 2
	src := &fakeSource{frames: buildFrames(0, 1, frameBytes)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRecorder(nil)
	res, err := r.Record(ctx, src, nil, Params{MaxS: 30, SampleRate: sampleRate, GracePeriodS: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StopReason != voicemode.StopCancelled {
		t.Fatalf("expected StopCancelled, got %s", res.StopReason)
	}
}

func TestEchoGuardIgnoresSpeechRightAfterPlayback(t *testing.T) {
	g := NewEchoGuard(200 * time.Millisecond)
	now := time.Now()
	g.MarkPlaybackEnded(now)

	if !g.ShouldIgnore(now.Add(50 * time.Millisecond)) {
		t.Error("expected guard to ignore speech shortly after playback")
	}
	if g.ShouldIgnore(now.Add(300 * time.Millisecond)) {
		t.Error("expected guard to stop ignoring after the window elapses")
	}
}
