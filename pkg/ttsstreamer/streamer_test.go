package ttsstreamer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

type fakeSink struct {
	mu      sync.Mutex
	written []byte
}

func (f *fakeSink) Enqueue(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, pcm...)
}

func (f *fakeSink) WaitDrained(ctx context.Context) error { return nil }

func (f *fakeSink) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = nil
}

func (f *fakeSink) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.written))
	copy(out, f.written)
	return out
}

func TestSpeakNonStreamingPlaysDecodedPCM(t *testing.T) {
	pcm := make([]byte, 4000)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(pcm)
	}))
	defer srv.Close()

	s := New(voicemode.NoOpLogger{})
	sink := &fakeSink{}
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI, Kind: voicemode.KindTTS}

	res, err := s.Speak(context.Background(), Request{
		Text:                 "hello",
		Voice:                "af_sky",
		Model:                "tts-1",
		Format:               voicemode.FormatPCM,
		Endpoint:             ep,
		StreamingEnabled:     false,
		GenerationTimeout:    time.Second,
		PlaybackDrainTimeout: time.Second,
		SampleRate:           24000,
		Channels:             1,
	}, sink)
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if res.Bytes != len(pcm) {
		t.Errorf("expected %d bytes, got %d", len(pcm), res.Bytes)
	}
	if len(sink.bytes()) != len(pcm) {
		t.Errorf("expected sink to receive %d bytes, got %d", len(pcm), len(sink.bytes()))
	}
}

func TestSpeakDropsInstructionsWhenEmotionsDisallowed(t *testing.T) {
	var gotInstructions string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body speechRequestBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotInstructions = body.Instructions
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0, 0, 0, 0})
	}))
	defer srv.Close()

	s := New(voicemode.NoOpLogger{})
	sink := &fakeSink{}
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	_, err := s.Speak(context.Background(), Request{
		Text:                 "hi",
		Format:               voicemode.FormatPCM,
		Instructions:         "sound excited",
		AllowEmotions:        false,
		Endpoint:             ep,
		GenerationTimeout:    time.Second,
		PlaybackDrainTimeout: time.Second,
		SampleRate:           24000,
		Channels:             1,
	}, sink)
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if gotInstructions != "" {
		t.Errorf("expected instructions to be dropped, got %q", gotInstructions)
	}
}

func TestSpeakFailsWithTTSFailedOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	s := New(voicemode.NoOpLogger{})
	sink := &fakeSink{}
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	_, err := s.Speak(context.Background(), Request{
		Format:               voicemode.FormatPCM,
		Endpoint:             ep,
		GenerationTimeout:    time.Second,
		PlaybackDrainTimeout: time.Second,
	}, sink)
	if !voicemode.IsKind(err, voicemode.KindTTSFailed) {
		t.Fatalf("expected TtsFailed, got %v", err)
	}
}

func TestSpeakRespectsCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	s := New(voicemode.NoOpLogger{})
	sink := &fakeSink{}
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := s.Speak(ctx, Request{
		Format:               voicemode.FormatPCM,
		Endpoint:             ep,
		GenerationTimeout:    time.Second,
		PlaybackDrainTimeout: time.Second,
	}, sink)
	if err == nil {
		t.Fatal("expected an error from cancellation")
	}
	if !res.Cancelled && !voicemode.IsKind(err, voicemode.KindCancelled) && !voicemode.IsKind(err, voicemode.KindTTSFailed) {
		t.Errorf("expected a cancelled or tts-failed outcome, got %v", err)
	}
}
