// Package ttsstreamer implements VoiceMode's TTS Streamer component: opens a
// streaming synthesis request against an OpenAI-compatible /audio/speech
// endpoint, pipes the decoded audio into an audioio.Sink as it arrives, and
// measures time-to-first-audio. Grounded on
// pkg/providers/tts/lokutor.go's StreamSynthesize, which buffers nothing and
// calls onChunk per frame as it reads from a persistent connection; here the
// transport is a chunked HTTP response body instead of a websocket, and the
// chunks are accumulated until a stream_buffer_ms/stream_chunk_size
// threshold before the first Enqueue, per spec.
package ttsstreamer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/voicemode/voicemode-go/pkg/audioio"
	"github.com/voicemode/voicemode-go/pkg/codec"
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// Request is the Speak operation's full argument set (spec §4.7).
type Request struct {
	Text         string
	Voice        string
	Model        string
	Format       voicemode.Format
	Speed        float64
	Instructions string

	Endpoint *voicemode.Endpoint

	AllowEmotions    bool
	StreamingEnabled bool
	StreamBufferMS   int
	StreamChunkSize  int
	StreamMaxBufferS int

	GenerationTimeout    time.Duration
	PlaybackDrainTimeout time.Duration

	SaveAudio      bool
	SaveAudioPath  string // base_dir/audio/<timestamp>_<conv>_tts.<ext>, caller builds the stem
	SampleRate     int
	Channels       int
}

// Result is TtsResult from spec §4.7.
type Result struct {
	TTFAms       int64
	GenerationMs int64
	PlaybackMs   int64
	Bytes        int
	AudioPath    string
	Cancelled    bool

	// Provider/Voice/Model identify which endpoint/voice/model actually
	// spoke, so the caller can persist them onto the exchange record
	// (mirrors sttuploader.Result.Provider).
	Provider string
	Voice    string
	Model    string
}

// Streamer performs one speak() call per invocation; it holds only an HTTP
// client and logger, same shape as the teacher's provider clients.
type Streamer struct {
	client *http.Client
	logger voicemode.Logger
}

func New(logger voicemode.Logger) *Streamer {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	return &Streamer{client: &http.Client{}, logger: logger}
}

type speechRequestBody struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
	Instructions   string  `json:"instructions,omitempty"`
}

// Speak performs the full sequence from spec §4.7: negotiate format, gate
// emotion instructions, open the streaming request, buffer-then-play via
// sink, and optionally tee to disk.
func (s *Streamer) Speak(ctx context.Context, req Request, sink audioio.Sink) (Result, error) {
	ep := req.Endpoint
	format := req.Format
	supported := codec.ProviderSupportedFormats(ep.ProviderType, voicemode.KindTTS)
	negotiated := codec.NegotiateFormat(format, supported, []voicemode.Format{voicemode.FormatMP3, voicemode.FormatWAV, voicemode.FormatPCM})
	if negotiated != format {
		s.logger.Warn("ttsstreamer: substituting format %s for unsupported %s on %s", negotiated, format, ep.BaseURL)
		format = negotiated
	}

	instructions := req.Instructions
	model := req.Model
	if instructions != "" && !req.AllowEmotions {
		s.logger.Warn("ttsstreamer: dropping instructions, allow_emotions=false")
		instructions = ""
	}

	body := speechRequestBody{
		Model:          model,
		Input:          req.Text,
		Voice:          req.Voice,
		ResponseFormat: string(format),
		Speed:          req.Speed,
		Instructions:   instructions,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, voicemode.NewInternal("failed to encode tts request", err)
	}

	genTimeout := req.GenerationTimeout
	if genTimeout <= 0 {
		genTimeout = 30 * time.Second
	}
	genCtx, cancel := context.WithTimeout(ctx, genTimeout)
	defer cancel()

	url := ep.BaseURL + "/audio/speech"
	httpReq, err := http.NewRequestWithContext(genCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, voicemode.NewTTSFailed(ep.BaseURL, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Cancelled: true}, voicemode.ErrCancelled
		}
		return Result{}, voicemode.NewTTSFailed(ep.BaseURL, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return Result{}, voicemode.NewTTSFailed(ep.BaseURL, "non-200 response", fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	if !req.StreamingEnabled {
		return s.playWholeBody(genCtx, resp.Body, req, format, sink, started)
	}
	return s.playStreaming(genCtx, resp.Body, req, format, sink, started)
}

func (s *Streamer) playWholeBody(ctx context.Context, body io.Reader, req Request, format voicemode.Format, sink audioio.Sink, started time.Time) (Result, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Result{}, voicemode.NewTTSFailed(req.Endpoint.BaseURL, "request failed", err)
	}
	generationMs := time.Since(started).Milliseconds()

	buf, err := codec.Decode(data, format, req.SampleRate, req.Channels)
	if err != nil {
		return Result{}, voicemode.NewTTSFailed(req.Endpoint.BaseURL, "request failed", err)
	}

	playStart := time.Now()
	sink.Enqueue(buf.PCM)
	ttfa := time.Since(playStart).Milliseconds()

	drainCtx, cancel := context.WithTimeout(ctx, req.PlaybackDrainTimeout)
	defer cancel()
	if err := sink.WaitDrained(drainCtx); err != nil {
		sink.Flush()
		return Result{Cancelled: true, Bytes: len(data)}, voicemode.ErrCancelled
	}
	playbackMs := time.Since(playStart).Milliseconds()

	path, saveErr := s.maybeSave(data, req, format)
	if saveErr != nil {
		s.logger.Warn("ttsstreamer: failed to save audio: %v", saveErr)
	}

	return Result{
		TTFAms:       ttfa,
		GenerationMs: generationMs,
		PlaybackMs:   playbackMs,
		Bytes:        len(data),
		AudioPath:    path,
		Provider:     string(req.Endpoint.ProviderType),
		Voice:        req.Voice,
		Model:        req.Model,
	}, nil
}

// playStreaming reads the response body incrementally, accumulating into a
// tee buffer for save_audio, and pushes decoded PCM to sink once the
// configured chunk/time threshold is crossed.
func (s *Streamer) playStreaming(ctx context.Context, body io.Reader, req Request, format voicemode.Format, sink audioio.Sink, started time.Time) (Result, error) {
	chunkSize := req.StreamChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	bufferDeadline := time.Duration(req.StreamBufferMS) * time.Millisecond
	if bufferDeadline <= 0 {
		bufferDeadline = 200 * time.Millisecond
	}
	maxBuffer := req.StreamMaxBufferS
	if maxBuffer <= 0 {
		maxBuffer = 10
	}

	var all []byte
	var pending []byte
	var firstFlush bool
	var ttfa int64
	readBuf := make([]byte, chunkSize)
	flushStart := time.Now()

	flush := func(chunk []byte) error {
		// Only raw pcm is enqueued incrementally; every other format (wav
		// included) is decoded from the tee buffer once the stream
		// completes, so playback for those is deferred until then.
		if format == voicemode.FormatPCM {
			playStart := time.Now()
			sink.Enqueue(chunk)
			if !firstFlush {
				ttfa = time.Since(playStart).Milliseconds()
				firstFlush = true
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			sink.Flush()
			return Result{Cancelled: true, Bytes: len(all)}, voicemode.ErrCancelled
		default:
		}

		n, err := body.Read(readBuf)
		if n > 0 {
			all = append(all, readBuf[:n]...)
			pending = append(pending, readBuf[:n]...)
			if time.Since(flushStart) >= bufferDeadline || len(pending) >= chunkSize {
				if ferr := flush(pending); ferr != nil {
					return Result{}, ferr
				}
				pending = nil
				flushStart = time.Now()
			}
			if len(all) > maxBuffer*1024*1024 {
				s.logger.Warn("ttsstreamer: stream exceeded max buffer, backpressuring")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, voicemode.NewTTSFailed(req.Endpoint.BaseURL, "request failed", err)
		}
	}

	if len(pending) > 0 {
		if ferr := flush(pending); ferr != nil {
			return Result{}, ferr
		}
	}

	generationMs := time.Since(started).Milliseconds()

	// Non-raw formats decode the accumulated bytes once the stream
	// completes, then play in one shot; TTFA is measured from that point.
	if format != voicemode.FormatPCM {
		buf, err := codec.Decode(all, format, req.SampleRate, req.Channels)
		if err != nil {
			return Result{}, voicemode.NewTTSFailed(req.Endpoint.BaseURL, "request failed", err)
		}
		playStart := time.Now()
		sink.Enqueue(buf.PCM)
		ttfa = time.Since(playStart).Milliseconds()
	}

	drainCtx, cancel := context.WithTimeout(ctx, req.PlaybackDrainTimeout)
	defer cancel()
	playbackStart := time.Now()
	if err := sink.WaitDrained(drainCtx); err != nil {
		sink.Flush()
		return Result{Cancelled: true, Bytes: len(all)}, voicemode.ErrCancelled
	}
	playbackMs := time.Since(playbackStart).Milliseconds()

	path, saveErr := s.maybeSave(all, req, format)
	if saveErr != nil {
		s.logger.Warn("ttsstreamer: failed to save audio: %v", saveErr)
	}

	return Result{
		TTFAms:       ttfa,
		GenerationMs: generationMs,
		PlaybackMs:   playbackMs,
		Bytes:        len(all),
		AudioPath:    path,
		Provider:     string(req.Endpoint.ProviderType),
		Voice:        req.Voice,
		Model:        req.Model,
	}, nil
}

func (s *Streamer) maybeSave(data []byte, req Request, format voicemode.Format) (string, error) {
	if !req.SaveAudio || req.SaveAudioPath == "" {
		return "", nil
	}
	path := req.SaveAudioPath
	if filepath.Ext(path) == "" {
		path += "." + string(format)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
