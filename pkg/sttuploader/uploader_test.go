package sttuploader

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

func testBuffer() *voicemode.AudioBuffer {
	pcm := make([]byte, 2000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	return &voicemode.AudioBuffer{PCM: pcm, SampleRate: 16000, Channels: 1, SampleFormat: "s16le"}
}

func TestTranscribeReturnsPlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	u := New(voicemode.NoOpLogger{})
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	res, err := u.Transcribe(context.Background(), Request{
		Buffer:        testBuffer(),
		Format:        voicemode.FormatWAV,
		Model:         "whisper-1",
		Endpoint:      ep,
		UploadTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", res.Text)
	}
}

func TestTranscribeReturnsJSONEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"from json"}`))
	}))
	defer srv.Close()

	u := New(voicemode.NoOpLogger{})
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	res, err := u.Transcribe(context.Background(), Request{
		Buffer:        testBuffer(),
		Format:        voicemode.FormatWAV,
		Model:         "whisper-1",
		Endpoint:      ep,
		UploadTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "from json" {
		t.Errorf("expected %q, got %q", "from json", res.Text)
	}
}

func TestTranscribeEmptyBodyYieldsEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	u := New(voicemode.NoOpLogger{})
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	res, err := u.Transcribe(context.Background(), Request{
		Buffer:        testBuffer(),
		Format:        voicemode.FormatWAV,
		Model:         "whisper-1",
		Endpoint:      ep,
		UploadTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "" {
		t.Errorf("expected empty text, got %q", res.Text)
	}
}

func TestTranscribeUploadsMultipartWithModelField(t *testing.T) {
	var gotModel string
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("bad content type: %v", err)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("multipart read error: %v", err)
			}
			if part.FormName() == "model" {
				buf := make([]byte, 64)
				n, _ := part.Read(buf)
				gotModel = string(buf[:n])
			}
			if part.FormName() == "file" {
				gotFilename = part.FileName()
			}
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	u := New(voicemode.NoOpLogger{})
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	_, err := u.Transcribe(context.Background(), Request{
		Buffer:        testBuffer(),
		Format:        voicemode.FormatWAV,
		Model:         "whisper-1",
		Endpoint:      ep,
		UploadTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if gotModel != "whisper-1" {
		t.Errorf("expected model field %q, got %q", "whisper-1", gotModel)
	}
	if gotFilename != "audio.wav" {
		t.Errorf("expected filename audio.wav, got %q", gotFilename)
	}
}

func TestTranscribeFallsBackToWavWhenMp3Unavailable(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("bad content type: %v", err)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("multipart read error: %v", err)
			}
			if part.FormName() == "file" {
				gotFilename = part.FileName()
			}
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	u := New(voicemode.NoOpLogger{})
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	_, err := u.Transcribe(context.Background(), Request{
		Buffer:        testBuffer(),
		Format:        voicemode.FormatMP3,
		Model:         "whisper-1",
		Endpoint:      ep,
		UploadTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if gotFilename != "audio.wav" {
		t.Errorf("expected fallback filename audio.wav, got %q", gotFilename)
	}
}

func TestTranscribeFailsWithSttFailedOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	u := New(voicemode.NoOpLogger{})
	ep := &voicemode.Endpoint{BaseURL: srv.URL, ProviderType: voicemode.ProviderOpenAI}

	_, err := u.Transcribe(context.Background(), Request{
		Buffer:        testBuffer(),
		Format:        voicemode.FormatWAV,
		Model:         "whisper-1",
		Endpoint:      ep,
		UploadTimeout: time.Second,
	})
	if !voicemode.IsKind(err, voicemode.KindSTTFailed) {
		t.Fatalf("expected SttFailed, got %v", err)
	}
}
