// Package sttuploader implements VoiceMode's STT Uploader component:
// encode a captured buffer to the negotiated format, multipart-upload it to
// an OpenAI-compatible /audio/transcriptions endpoint, and return the
// transcript plus latency. Grounded on pkg/providers/stt/openai.go and
// groq.go, which share this exact multipart-writer +
// "Authorization: Bearer" + {text} JSON decode shape.
package sttuploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/voicemode/voicemode-go/pkg/codec"
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// Request is the transcribe() argument set (spec §4.8).
type Request struct {
	Buffer   *voicemode.AudioBuffer
	Format   voicemode.Format
	Model    string
	Endpoint *voicemode.Endpoint

	UploadTimeout time.Duration

	SaveTranscriptions bool
	TranscriptPath     string // base_dir/transcriptions/<timestamp>_<conv>.txt
}

// Result is SttResult from spec §4.8.
type Result struct {
	Text       string
	LatencyMs  int64
	Provider   string
	AudioPath  string
}

type Uploader struct {
	client *http.Client
	logger voicemode.Logger
}

func New(logger voicemode.Logger) *Uploader {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	return &Uploader{client: &http.Client{}, logger: logger}
}

// Transcribe encodes the buffer to format (via pkg/codec, unless the buffer
// is already a raw PCM capture that format already matches), uploads it as
// multipart, and returns the decoded text. Empty-body responses yield "".
func (u *Uploader) Transcribe(ctx context.Context, req Request) (Result, error) {
	ep := req.Endpoint
	format := req.Format
	encoded, err := codec.Encode(req.Buffer, format)
	if err != nil && format == voicemode.FormatMP3 {
		// No pure-Go mp3 encoder exists anywhere in the retrieved corpus
		// (see pkg/codec/mp3.go); wav is always encodable and every
		// OpenAI-compatible STT endpoint accepts it, so it's the fallback
		// target rather than failing the whole upload.
		u.logger.Warn("sttuploader: mp3 encode unavailable, substituting wav")
		format = voicemode.FormatWAV
		encoded, err = codec.Encode(req.Buffer, format)
	}
	if err != nil {
		return Result{}, voicemode.NewSTTFailed(ep.BaseURL, "failed to encode audio for upload", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", req.Model); err != nil {
		return Result{}, voicemode.NewInternal("failed to build multipart body", err)
	}
	if err := writer.WriteField("response_format", "text"); err != nil {
		return Result{}, voicemode.NewInternal("failed to build multipart body", err)
	}
	part, err := writer.CreateFormFile("file", "audio."+string(format))
	if err != nil {
		return Result{}, voicemode.NewInternal("failed to build multipart body", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(encoded)); err != nil {
		return Result{}, voicemode.NewInternal("failed to build multipart body", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, voicemode.NewInternal("failed to build multipart body", err)
	}

	timeout := req.UploadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	uploadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := ep.BaseURL + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(uploadCtx, http.MethodPost, url, body)
	if err != nil {
		return Result{}, voicemode.NewSTTFailed(ep.BaseURL, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	started := time.Now()
	resp, err := u.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, voicemode.ErrCancelled
		}
		return Result{}, voicemode.NewSTTFailed(ep.BaseURL, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, voicemode.NewSTTFailed(ep.BaseURL, "failed to read response", err)
	}
	latencyMs := time.Since(started).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return Result{}, voicemode.NewSTTFailed(ep.BaseURL, "non-200 response", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	text := extractText(respBody)

	savedPath, saveErr := u.maybeSave(text, req)
	if saveErr != nil {
		u.logger.Warn("sttuploader: failed to save transcript: %v", saveErr)
	}

	return Result{
		Text:      text,
		LatencyMs: latencyMs,
		Provider:  string(ep.ProviderType),
		AudioPath: savedPath,
	}, nil
}

// extractText handles both a raw text body (response_format=text) and a
// {"text": "..."} JSON envelope, since different OpenAI-compatible servers
// answer response_format=text differently.
func extractText(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '{' {
		var withText struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &withText); err == nil {
			return withText.Text
		}
	}
	return string(trimmed)
}

func (u *Uploader) maybeSave(text string, req Request) (string, error) {
	if !req.SaveTranscriptions || req.TranscriptPath == "" {
		return "", nil
	}
	if filepath.Ext(req.TranscriptPath) == "" {
		req.TranscriptPath += ".txt"
	}
	if err := os.WriteFile(req.TranscriptPath, []byte(text), 0o644); err != nil {
		return "", err
	}
	return req.TranscriptPath, nil
}
