package mcpsurface

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voicemode/voicemode-go/pkg/config"
	"github.com/voicemode/voicemode-go/pkg/engine"
	"github.com/voicemode/voicemode-go/pkg/eventlog"
	"github.com/voicemode/voicemode-go/pkg/registry"
	"github.com/voicemode/voicemode-go/pkg/sttuploader"
	"github.com/voicemode/voicemode-go/pkg/supervisor"
	"github.com/voicemode/voicemode-go/pkg/ttsstreamer"
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// fakeTransport mirrors pkg/engine's test double: a handful of silence
// frames then blocking reads, letting max_s/context timeouts govern a
// turn's length without real hardware.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	idx    int
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	if f.idx < len(f.frames) {
		frame := f.frames[f.idx]
		f.idx++
		f.mu.Unlock()
		return frame, nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return make([]byte, 640), nil
	}
}

func (f *fakeTransport) Enqueue(pcm []byte)                    {}
func (f *fakeTransport) WaitDrained(ctx context.Context) error { return nil }
func (f *fakeTransport) Flush()                                {}

func newTestSurface(t *testing.T, ttsURL, sttURL string) (*Surface, *eventlog.Log) {
	t.Helper()
	base := t.TempDir()
	s := &voicemode.Settings{
		BaseDir:                  base,
		SampleRate:               16000,
		Channels:                 1,
		ListenDurationMaxDefault: 2,
		SilenceThresholdMS:       200,
		InitialSilenceGracePerS:  0.1,
		GenerationTimeoutS:       2,
		PlaybackDrainTimeout:     2,
		STTUploadTimeoutS:        2,
		StreamingEnabled:         false,
		VADAggressiveness:        1,
		AllowEmotions:            false,
	}
	paths := config.DerivedPaths(s)

	reg := registry.New(voicemode.NoOpLogger{})
	reg.AddEndpoint(&voicemode.Endpoint{BaseURL: ttsURL, Kind: voicemode.KindTTS, ProviderType: voicemode.ProviderOpenAI, SupportedVoices: []string{"af_sky"}, SupportedModels: []string{"tts-1"}})
	reg.AddEndpoint(&voicemode.Endpoint{BaseURL: sttURL, Kind: voicemode.KindSTT, ProviderType: voicemode.ProviderOpenAI, SupportedModels: []string{"whisper-1"}})

	elog := eventlog.New(paths, voicemode.NoOpLogger{})

	deps := engine.Deps{
		Settings: s,
		Paths:    paths,
		Registry: reg,
		EventLog: elog,
		TTS:      ttsstreamer.New(voicemode.NoOpLogger{}),
		STT:      sttuploader.New(voicemode.NoOpLogger{}),
		Local:    &fakeTransport{frames: [][]byte{make([]byte, 640)}},
		Logger:   voicemode.NoOpLogger{},
	}
	eng := engine.New(deps)
	sup := supervisor.New(voicemode.NoOpLogger{})

	return New(eng, sup, s, voicemode.NoOpLogger{}), elog
}

func TestConverseAppliesDefaultsAndReturnsShapedResult(t *testing.T) {
	ttsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1000))
	}))
	defer ttsSrv.Close()
	sttSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello there"))
	}))
	defer sttSrv.Close()

	surface, elog := newTestSurface(t, ttsSrv.URL, sttSrv.URL)
	defer elog.Close()

	maxS := 0.5
	disableVAD := true
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res := surface.Converse(ctx, ConverseArgs{
		Message:            "hi",
		Voice:              "af_sky",
		Model:              "tts-1",
		AudioFormat:        "pcm",
		ListenDurationMaxS: &maxS,
		DisableVAD:         &disableVAD,
	})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Outcome != "ok" {
		t.Errorf("expected outcome ok, got %s", res.Outcome)
	}
	if res.Text != "hello there" {
		t.Errorf("expected transcript %q, got %q", "hello there", res.Text)
	}
	if !res.Spoken {
		t.Error("expected spoken=true")
	}
	if res.Metrics.TotalMs != res.Metrics.TTSGenMs+res.Metrics.TTSPlayMs+res.Metrics.RecordMs+res.Metrics.STTMs {
		t.Error("total_ms should be the sum of the phase metrics")
	}
}

func TestConverseRejectsEmptyMessageWithoutWaitForResponse(t *testing.T) {
	surface, elog := newTestSurface(t, "http://unused", "http://unused")
	defer elog.Close()

	noWait := false
	res := surface.Converse(context.Background(), ConverseArgs{Message: "", WaitForResponse: &noWait})
	if res.Outcome != "error" {
		t.Errorf("expected outcome error, got %s", res.Outcome)
	}
	if res.Error == "" {
		t.Error("expected a validation error message")
	}
}

func TestConverseRejectsUnknownTransport(t *testing.T) {
	surface, elog := newTestSurface(t, "http://unused", "http://unused")
	defer elog.Close()

	res := surface.Converse(context.Background(), ConverseArgs{Message: "hi", Transport: "carrier-pigeon"})
	if res.Outcome != "error" {
		t.Errorf("expected outcome error, got %s", res.Outcome)
	}
}

func TestConverseClampsOutOfRangeListenDuration(t *testing.T) {
	surface, elog := newTestSurface(t, "http://unused", "http://unused")
	defer elog.Close()

	tooLarge := 9999.0
	disableVAD := true
	// An out-of-range max (9999s) must be clamped by applyDefaults to the
	// top of the 1-300s band.
	args := ConverseArgs{Message: "", WaitForResponse: boolPtr(true), SkipTTS: boolPtr(true), DisableVAD: &disableVAD, ListenDurationMaxS: &tooLarge}
	got := surface.applyDefaults(args)
	if got.ListenDurationMaxS != 300 {
		t.Errorf("expected listen_duration_max_s clamped to 300, got %v", got.ListenDurationMaxS)
	}
}

func TestListenForSpeechSkipsTTS(t *testing.T) {
	ttsCalled := false
	ttsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ttsCalled = true
		w.Write(make([]byte, 100))
	}))
	defer ttsSrv.Close()

	surface, elog := newTestSurface(t, ttsSrv.URL, "http://unused")
	defer elog.Close()

	// VAD stays on: the fake transport yields only silence, so the 0.1s
	// grace period expires and the recorder stops with no_speech. (With VAD
	// disabled, max is clamped to 1s and min to max, and a full 1s recording
	// is not below min.)
	minS := 5.0
	maxS := 0.2
	disableVAD := false
	res := surface.ListenForSpeech(context.Background(), ListenForSpeechArgs{
		ListenDurationMinS: &minS,
		ListenDurationMaxS: &maxS,
		DisableVAD:         &disableVAD,
	})
	if ttsCalled {
		t.Error("listen_for_speech must not call the TTS endpoint")
	}
	if res.Outcome != "no_speech" {
		t.Errorf("expected no_speech outcome, got %s", res.Outcome)
	}
}

func TestVoiceStatusReportsRegisteredServices(t *testing.T) {
	surface, elog := newTestSurface(t, "http://unused", "http://unused")
	defer elog.Close()

	surface.Supervisor.Register(supervisor.Spec{Name: "kokoro"})
	status := surface.VoiceStatus()
	if len(status.Services) != 1 || status.Services[0].Name != "kokoro" {
		t.Fatalf("expected one service named kokoro, got %+v", status.Services)
	}
	if status.Services[0].Running {
		t.Error("expected not-yet-started service to report Running=false")
	}
}

func TestVoiceStatisticsSummarizesExchanges(t *testing.T) {
	surface, elog := newTestSurface(t, "http://unused", "http://unused")
	defer elog.Close()

	elog.AppendExchange(voicemode.ExchangeRecord{
		Outcome: "ok",
		TTS:     &voicemode.TTSExchange{TTFAms: 100},
		Record:  &voicemode.RecordExchange{DurationMs: 2000},
		STT:     &voicemode.STTExchange{LatencyMs: 300},
	})
	elog.AppendExchange(voicemode.ExchangeRecord{Outcome: "stt_failed"})

	stats := surface.VoiceStatistics(elog.Stats)
	if stats.TotalExchanges != 2 {
		t.Fatalf("expected 2 exchanges, got %d", stats.TotalExchanges)
	}
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("expected 1 succeeded/1 failed, got %+v", stats)
	}
	if stats.AvgTTFAms != 50 {
		t.Errorf("expected avg ttfa 50 (100/2 records, one with zero), got %v", stats.AvgTTFAms)
	}
}

// CheckAudioDevices is not exercised here: it opens a real malgo context
// against whatever sound subsystem the host provides, the same reason
// pkg/audioio's own test suite never calls NewDevice directly.
