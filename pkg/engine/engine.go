// Package engine implements VoiceMode's Turn Engine: the single
// converse() operation that drives one complete TTS -> record -> STT
// cycle, with ordered failover across registry endpoints and per-phase
// latency instrumentation. Grounded on
// pkg/orchestrator/managed_stream.go's per-turn timestamp fields and
// LatencyBreakdown accumulation; the turn mutex replaces the teacher's single ManagedStream-per-session model
// (VoiceMode's converse() is a synchronous call/response, not a standing
// stream, so there is one mutex serializing calls rather than one stream
// per session).
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/voicemode/voicemode-go/pkg/audioio"
	"github.com/voicemode/voicemode-go/pkg/config"
	"github.com/voicemode/voicemode-go/pkg/eventlog"
	"github.com/voicemode/voicemode-go/pkg/registry"
	"github.com/voicemode/voicemode-go/pkg/sttuploader"
	"github.com/voicemode/voicemode-go/pkg/ttsstreamer"
	"github.com/voicemode/voicemode-go/pkg/vad"
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// Args is converse()'s full input contract from spec §4.10, already
// range-checked and defaulted by the MCP surface layer before it reaches
// the engine.
type Args struct {
	Message          string
	WaitForResponse  bool
	ListenDurationMaxS float64
	ListenDurationMinS float64
	Voice            string
	Model            string
	AudioFormat      voicemode.Format
	TTSSpeed         float64
	TTSInstructions  string
	DisableVAD       bool
	VADAggressiveness int
	SkipTTS          bool
	ChimeEnabled     bool
	Transport        voicemode.Transport
}

// Result is what converse() hands back to the MCP surface.
type Result struct {
	Text       string
	Spoken     bool
	Reason     voicemode.StopReason
	Outcome    string
	Metrics    Metrics
	Error      error
}

// Metrics mirrors the "metrics{ ttfa_ms, tts_gen_ms, tts_play_ms,
// record_ms, stt_ms }" shape from spec §6's MCP response example.
type Metrics struct {
	TTFAms      int64
	TTSGenMs    int64
	TTSPlayMs   int64
	RecordMs    int64
	STTMs       int64
}

// Transport is the combined capture+playback contract a turn runs over;
// both audioio.Device and audioio.RoomTransport satisfy it, and tests can
// supply a fake.
type Transport interface {
	audioio.Source
	audioio.Sink
}

// Deps bundles the constructed components a turn coordinates. All are
// safe to share across concurrent Converse calls; Engine's own mutex is
// what serializes actual turns. Local/Room are interface-typed (rather
// than *audioio.Device/*audioio.RoomTransport) so a turn's audio path is
// swappable in tests without real hardware or a socket.
type Deps struct {
	Settings *voicemode.Settings
	Paths    config.Paths
	Registry *registry.Registry
	EventLog *eventlog.Log
	TTS      *ttsstreamer.Streamer
	STT      *sttuploader.Uploader
	Local    Transport // nil unless a local device was configured
	Room     Transport // nil unless a room transport was configured
	Logger   voicemode.Logger
}

// Engine owns the turn mutex: spec §5 requires converse/listen to be
// serialized, one turn in flight at a time.
type Engine struct {
	deps Deps
	mu   sync.Mutex
}

func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = voicemode.NoOpLogger{}
	}
	return &Engine{deps: deps}
}

// Converse runs one full turn. It returns ErrBusy immediately (never
// queues) if another turn is already in flight.
func (e *Engine) Converse(ctx context.Context, args Args) (Result, error) {
	if !e.mu.TryLock() {
		return Result{Error: voicemode.ErrBusy}, voicemode.ErrBusy
	}
	defer e.mu.Unlock()

	convID := e.deps.EventLog.CurrentConversationID()
	startedAt := time.Now()
	e.deps.EventLog.LogEvent("turn_started", map[string]interface{}{"conversation_id": string(convID)})

	sink, source, err := e.selectTransport(ctx, args.Transport)
	if err != nil {
		return Result{Error: err}, err
	}

	rec := voicemode.ExchangeRecord{
		SchemaVersion:  1,
		ConversationID: convID,
		StartedAt:      startedAt,
	}

	var metrics Metrics
	outcome := "ok"

	if args.Message != "" && !args.SkipTTS {
		ttsRes, ttsErr := e.speakWithFailover(ctx, args, sink, convID, startedAt)
		if ttsErr != nil {
			e.deps.EventLog.LogEvent("tts_failed", map[string]interface{}{"error": ttsErr.Error()})
			outcome = "tts_failed"
			// Per spec §4.10 step 2: exhausting endpoints still lets the
			// turn proceed to listening if wait_for_response.
		} else {
			metrics.TTFAms = ttsRes.TTFAms
			metrics.TTSGenMs = ttsRes.GenerationMs
			metrics.TTSPlayMs = ttsRes.PlaybackMs
			rec.TTS = &voicemode.TTSExchange{
				Provider:     ttsRes.Provider,
				Voice:        ttsRes.Voice,
				Model:        ttsRes.Model,
				AudioFormat:  args.AudioFormat,
				TTFAms:       ttsRes.TTFAms,
				GenerationMs: ttsRes.GenerationMs,
				PlaybackMs:   ttsRes.PlaybackMs,
				Bytes:        ttsRes.Bytes,
			}
			e.deps.EventLog.LogEvent("tts_end", nil)
		}
	}

	if !args.WaitForResponse {
		rec.EndedAt = time.Now()
		rec.Outcome = outcome
		e.persist(rec)
		return Result{Spoken: rec.TTS != nil, Outcome: outcome, Metrics: metrics}, nil
	}

	if args.ChimeEnabled {
		e.chime(sink, audioio.ChimeStart)
	}
	recordResult, recErr := e.listen(ctx, args, source)
	if args.ChimeEnabled {
		e.chime(sink, audioio.ChimeStop)
	}
	if recErr != nil {
		rec.EndedAt = time.Now()
		rec.Outcome = "cancelled"
		e.persist(rec)
		return Result{Error: recErr, Outcome: "cancelled"}, recErr
	}
	metrics.RecordMs = recordResult.Buffer.DurationMs()
	rec.Record = &voicemode.RecordExchange{
		DurationMs:    recordResult.Buffer.DurationMs(),
		StoppedReason: recordResult.StopReason,
		Bytes:         len(recordResult.Buffer.PCM),
	}

	minMs := int64(args.ListenDurationMinS * 1000)
	if recordResult.StopReason == voicemode.StopNoSpeech || recordResult.Buffer.DurationMs() < minMs {
		rec.EndedAt = time.Now()
		rec.Outcome = "no_speech"
		e.persist(rec)
		return Result{Reason: voicemode.StopNoSpeech, Outcome: "no_speech", Metrics: metrics}, nil
	}

	sttRes, sttErr := e.transcribeWithFailover(ctx, args, recordResult.Buffer, convID, startedAt)
	if sttErr != nil {
		e.deps.EventLog.LogEvent("stt_failed", map[string]interface{}{"error": sttErr.Error()})
		rec.EndedAt = time.Now()
		rec.Outcome = "stt_failed"
		rec.Error = sttErr.Error()
		e.persist(rec)
		return Result{Error: sttErr, Outcome: "stt_failed", Metrics: metrics}, sttErr
	}
	metrics.STTMs = sttRes.LatencyMs
	rec.STT = &voicemode.STTExchange{
		Provider:    sttRes.Provider,
		AudioFormat: args.AudioFormat,
		LatencyMs:   sttRes.LatencyMs,
		TextLen:     len(sttRes.Text),
	}

	rec.EndedAt = time.Now()
	rec.Outcome = "ok"
	e.persist(rec)
	e.deps.EventLog.LogEvent("turn_end", map[string]interface{}{"conversation_id": string(convID)})

	return Result{
		Text:    sttRes.Text,
		Spoken:  rec.TTS != nil,
		Reason:  recordResult.StopReason,
		Outcome: "ok",
		Metrics: metrics,
	}, nil
}

func (e *Engine) persist(rec voicemode.ExchangeRecord) {
	e.deps.EventLog.AppendExchange(rec)
}

func (e *Engine) selectTransport(ctx context.Context, t voicemode.Transport) (audioio.Sink, audioio.Source, error) {
	switch t {
	case voicemode.TransportRoom:
		if e.deps.Room == nil {
			return nil, nil, voicemode.NewConfigError("transport=room requested but no room transport configured", nil)
		}
		return e.deps.Room, e.deps.Room, nil
	case voicemode.TransportLocal, voicemode.TransportAuto, "":
		if e.deps.Local == nil {
			if e.deps.Room != nil {
				return e.deps.Room, e.deps.Room, nil
			}
			return nil, nil, voicemode.NewDeviceError("no audio transport available", nil)
		}
		return e.deps.Local, e.deps.Local, nil
	default:
		return nil, nil, voicemode.NewConfigError("unknown transport: "+string(t), nil)
	}
}

// speakWithFailover calls speak(), iterating eligible TTS endpoints in
// registry order until one succeeds or all are exhausted (spec §4.10
// step 2 / §4.6's failover-is-the-engine's-job split).
func (e *Engine) speakWithFailover(ctx context.Context, args Args, sink audioio.Sink, convID voicemode.ConversationID, startedAt time.Time) (ttsstreamer.Result, error) {
	sel, err := e.deps.Registry.SelectForTTS(args.Voice, args.Model, args.TTSInstructions != "" && e.deps.Settings.AllowEmotions, e.deps.Settings.TTSVoices, e.deps.Settings.TTSModels)
	if err != nil {
		return ttsstreamer.Result{}, err
	}

	e.deps.EventLog.LogEvent("tts_start", map[string]interface{}{"endpoint": sel.Endpoint.BaseURL})

	saveAudio := e.deps.Settings.SaveAudio || e.deps.Settings.SaveAll
	var audioPath string
	if saveAudio && e.deps.Paths.Audio != "" {
		audioPath = filepath.Join(e.deps.Paths.Audio, fmt.Sprintf("%s_%s_tts", startedAt.UTC().Format("20060102T150405"), convID))
	}

	var lastErr error
	for {
		res, err := e.deps.TTS.Speak(ctx, ttsstreamer.Request{
			Text:                 args.Message,
			Voice:                sel.Voice,
			Model:                sel.Model,
			Format:               args.AudioFormat,
			Speed:                args.TTSSpeed,
			Instructions:         args.TTSInstructions,
			Endpoint:             sel.Endpoint,
			AllowEmotions:        e.deps.Settings.AllowEmotions,
			StreamingEnabled:     e.deps.Settings.StreamingEnabled,
			StreamBufferMS:       e.deps.Settings.StreamBufferMS,
			StreamChunkSize:      e.deps.Settings.StreamChunkSize,
			StreamMaxBufferS:     e.deps.Settings.StreamMaxBufferS,
			GenerationTimeout:    time.Duration(e.deps.Settings.GenerationTimeoutS) * time.Second,
			PlaybackDrainTimeout: time.Duration(e.deps.Settings.PlaybackDrainTimeout) * time.Second,
			SaveAudio:            saveAudio,
			SaveAudioPath:        audioPath,
			SampleRate:           e.deps.Settings.SampleRate,
			Channels:             e.deps.Settings.Channels,
		}, sink)
		if err == nil {
			return res, nil
		}
		if voicemode.IsKind(err, voicemode.KindCancelled) {
			return res, err
		}
		lastErr = err
		e.deps.Registry.MarkFailure(sel.Endpoint)

		next, selErr := e.deps.Registry.SelectForTTS(args.Voice, args.Model, args.TTSInstructions != "" && e.deps.Settings.AllowEmotions, e.deps.Settings.TTSVoices, e.deps.Settings.TTSModels)
		if selErr != nil {
			break
		}
		sel = next
	}
	return ttsstreamer.Result{}, lastErr
}

// chimePlayer is satisfied by both audioio.Device and audioio.RoomTransport;
// chime is independent of skip_tts, gated only by chime_enabled (spec §9
// open question, resolved as stated).
type chimePlayer interface {
	Chime(kind audioio.ChimeKind, drainTimeout time.Duration)
}

func (e *Engine) chime(sink audioio.Sink, kind audioio.ChimeKind) {
	if c, ok := sink.(chimePlayer); ok {
		c.Chime(kind, 2*time.Second)
	}
}

func (e *Engine) listen(ctx context.Context, args Args, source audioio.Source) (*vad.Result, error) {
	e.deps.EventLog.LogEvent("record_start", nil)
	recorder := vad.NewRecorder(e.deps.Logger)

	maxS := args.ListenDurationMaxS
	if maxS <= 0 {
		maxS = float64(e.deps.Settings.ListenDurationMaxDefault)
	}

	guard := vad.NewEchoGuard(150 * time.Millisecond)
	// Both the start chime and any spoken message finished playing
	// synchronously just before this call (Converse blocks on playback
	// drain before listening), so "now" is the reference point the guard
	// needs to suppress residual device echo immediately after.
	guard.MarkPlaybackEnded(time.Now())
	result, err := recorder.Record(ctx, source, guard, vad.Params{
		MaxS:               maxS,
		MinS:               args.ListenDurationMinS,
		SilenceThresholdMS: e.deps.Settings.SilenceThresholdMS,
		GracePeriodS:       e.deps.Settings.InitialSilenceGracePerS,
		Aggressiveness:     args.VADAggressiveness,
		DisableVAD:         args.DisableVAD,
		SampleRate:         e.deps.Settings.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	e.deps.EventLog.LogEvent("record_end", map[string]interface{}{"reason": string(result.StopReason)})
	return result, nil
}

func (e *Engine) transcribeWithFailover(ctx context.Context, args Args, buf *voicemode.AudioBuffer, convID voicemode.ConversationID, startedAt time.Time) (sttuploader.Result, error) {
	// args.Model and Settings.TTSModels name TTS models; STT selection takes
	// each endpoint's first supported model instead.
	sel, err := e.deps.Registry.SelectForSTT("", nil)
	if err != nil {
		return sttuploader.Result{}, err
	}

	e.deps.EventLog.LogEvent("stt_start", map[string]interface{}{"endpoint": sel.Endpoint.BaseURL})

	saveTranscript := e.deps.Settings.SaveTranscriptions || e.deps.Settings.SaveAll
	var transcriptPath string
	if saveTranscript && e.deps.Paths.Transcriptions != "" {
		transcriptPath = filepath.Join(e.deps.Paths.Transcriptions, fmt.Sprintf("%s_%s.txt", startedAt.UTC().Format("20060102T150405"), convID))
	}

	var lastErr error
	for {
		format := args.AudioFormat
		if format == "" {
			format = e.deps.Settings.STTAudioFormat
		}
		res, err := e.deps.STT.Transcribe(ctx, sttuploader.Request{
			Buffer:             buf,
			Format:             format,
			Model:              sel.Model,
			Endpoint:           sel.Endpoint,
			UploadTimeout:      time.Duration(e.deps.Settings.STTUploadTimeoutS) * time.Second,
			SaveTranscriptions: saveTranscript,
			TranscriptPath:     transcriptPath,
		})
		if err == nil {
			e.deps.EventLog.LogEvent("stt_end", map[string]interface{}{"text_len": fmt.Sprint(len(res.Text))})
			return res, nil
		}
		lastErr = err
		e.deps.Registry.MarkFailure(sel.Endpoint)

		next, selErr := e.deps.Registry.SelectForSTT("", nil)
		if selErr != nil {
			break
		}
		sel = next
	}
	return sttuploader.Result{}, lastErr
}
