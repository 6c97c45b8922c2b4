// Package mcpsurface binds VoiceMode's tool operations (converse,
// listen_for_speech, voice_status, check_audio_devices, voice_statistics)
// to the Turn Engine and its neighbors. Grounded on
// pkg/orchestrator/conversation.go's thin-wrapper style: a small struct
// exposing a handful of high-level methods over an orchestrator, with
// argument defaulting and validation collected in one place rather than
// scattered across call sites. No business logic lives here beyond
// argument coercion, default application, and response shaping (spec
// §4.11) — MCP transport framing itself is out of scope (spec §1).
package mcpsurface

import (
	"context"
	"fmt"
	"time"

	"github.com/voicemode/voicemode-go/pkg/audioio"
	"github.com/voicemode/voicemode-go/pkg/engine"
	"github.com/voicemode/voicemode-go/pkg/supervisor"
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// Surface is the root value the MCP transport binds its tool handlers to.
// Its lifetime is the process; teardown is the caller's responsibility
// (cmd/voicemode closes the engine's dependencies on shutdown).
type Surface struct {
	Engine     *engine.Engine
	Supervisor *supervisor.Supervisor
	Settings   *voicemode.Settings
	Logger     voicemode.Logger
}

func New(eng *engine.Engine, sup *supervisor.Supervisor, settings *voicemode.Settings, logger voicemode.Logger) *Surface {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	return &Surface{Engine: eng, Supervisor: sup, Settings: settings, Logger: logger}
}

// ConverseArgs is the converse tool's argument object (spec §6). Optional
// fields are pointers so the surface can tell "not supplied" apart from
// "explicitly zero" when applying defaults from spec §4.10's table.
type ConverseArgs struct {
	Message            string
	WaitForResponse    *bool
	ListenDurationMinS *float64
	ListenDurationMaxS *float64
	Voice              string
	Model              string
	AudioFormat        string
	TTSSpeed           *float64
	TTSInstructions    string
	DisableVAD         *bool
	VADAggressiveness  *int
	ChimeEnabled       *bool
	SkipTTS            *bool
	Transport          string
}

// Metrics mirrors spec §6's "metrics{ ttfa_ms, tts_gen_ms, tts_play_ms,
// record_ms, stt_ms, total_ms }" response shape.
type Metrics struct {
	TTFAms    int64 `json:"ttfa_ms"`
	TTSGenMs  int64 `json:"tts_gen_ms"`
	TTSPlayMs int64 `json:"tts_play_ms"`
	RecordMs  int64 `json:"record_ms"`
	STTMs     int64 `json:"stt_ms"`
	TotalMs   int64 `json:"total_ms"`
}

// ConverseResult is converse's response object (spec §6): `{ text?,
// spoken?, metrics{...}, outcome, error? }`.
type ConverseResult struct {
	Text    string  `json:"text,omitempty"`
	Spoken  bool    `json:"spoken,omitempty"`
	Metrics Metrics `json:"metrics"`
	Outcome string  `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func floatClamp(p *float64, def, lo, hi float64) float64 {
	v := def
	if p != nil {
		v = *p
	}
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}

// applyDefaults enforces spec §4.10's contract table and returns the
// engine.Args the Turn Engine expects, already ranged and defaulted.
func (s *Surface) applyDefaults(args ConverseArgs) engine.Args {
	waitForResponse := boolOr(args.WaitForResponse, true)

	maxS := floatClamp(args.ListenDurationMaxS, 120, 1, 300)
	minS := floatClamp(args.ListenDurationMinS, s.Settings.MinRecordingDurationS, 0, maxS)

	speed := floatClamp(args.TTSSpeed, 1.0, 0.25, 4.0)

	aggressiveness := s.Settings.VADAggressiveness
	if args.VADAggressiveness != nil {
		aggressiveness = *args.VADAggressiveness
	}
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}

	instructions := args.TTSInstructions
	if !s.Settings.AllowEmotions {
		instructions = ""
	}

	transport := voicemode.Transport(args.Transport)
	if transport == "" {
		transport = voicemode.TransportAuto
	}

	return engine.Args{
		Message:            args.Message,
		WaitForResponse:    waitForResponse,
		ListenDurationMaxS: maxS,
		ListenDurationMinS: minS,
		Voice:              args.Voice,
		Model:              args.Model,
		AudioFormat:        voicemode.Format(args.AudioFormat),
		TTSSpeed:           speed,
		TTSInstructions:    instructions,
		DisableVAD:         boolOr(args.DisableVAD, false),
		VADAggressiveness:  aggressiveness,
		SkipTTS:            boolOr(args.SkipTTS, false),
		ChimeEnabled:       boolOr(args.ChimeEnabled, true),
		Transport:          transport,
	}
}

// Converse is the converse tool (spec §6/§4.11). It never returns a Go
// error to the caller: every failure is reported inside the result object
// so transports never need special-case error handling, matching spec
// §7's "the MCP Surface maps aggregated errors to tagged result objects;
// it never throws to the MCP transport."
func (s *Surface) Converse(ctx context.Context, args ConverseArgs) ConverseResult {
	if args.Message == "" && !boolOr(args.WaitForResponse, true) {
		return ConverseResult{Outcome: "error", Error: "message may only be empty when wait_for_response is true"}
	}
	if err := validateTransport(args.Transport); err != nil {
		return ConverseResult{Outcome: "error", Error: err.Error()}
	}

	res, err := s.Engine.Converse(ctx, s.applyDefaults(args))
	m := Metrics{
		TTFAms:    res.Metrics.TTFAms,
		TTSGenMs:  res.Metrics.TTSGenMs,
		TTSPlayMs: res.Metrics.TTSPlayMs,
		RecordMs:  res.Metrics.RecordMs,
		STTMs:     res.Metrics.STTMs,
	}
	m.TotalMs = m.TTSGenMs + m.TTSPlayMs + m.RecordMs + m.STTMs

	out := ConverseResult{
		Text:    res.Text,
		Spoken:  res.Spoken,
		Metrics: m,
		Outcome: res.Outcome,
	}
	if err != nil {
		out.Error = err.Error()
		if out.Outcome == "" {
			out.Outcome = "error"
		}
	}
	return out
}

// ListenForSpeechArgs is listen_for_speech's argument object: converse
// minus the TTS half, per spec §2's data flow (MCP surface -> Turn Engine
// -> ... -> VAD Recorder -> ... -> result), invoked with an empty message
// and skip_tts so the engine proceeds straight to recording.
type ListenForSpeechArgs struct {
	ListenDurationMinS *float64
	ListenDurationMaxS *float64
	DisableVAD         *bool
	VADAggressiveness  *int
	ChimeEnabled       *bool
	Transport          string
}

// ListenForSpeech records one reply without speaking first.
func (s *Surface) ListenForSpeech(ctx context.Context, args ListenForSpeechArgs) ConverseResult {
	return s.Converse(ctx, ConverseArgs{
		Message:            "",
		WaitForResponse:    boolPtr(true),
		SkipTTS:            boolPtr(true),
		ListenDurationMinS: args.ListenDurationMinS,
		ListenDurationMaxS: args.ListenDurationMaxS,
		DisableVAD:         args.DisableVAD,
		VADAggressiveness:  args.VADAggressiveness,
		ChimeEnabled:       args.ChimeEnabled,
		Transport:          args.Transport,
	})
}

func boolPtr(b bool) *bool { return &b }

// ServiceStatus is one named service's status entry within VoiceStatus's
// result.
type ServiceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	UptimeS int64  `json:"uptime_s,omitempty"`
}

// VoiceStatusResult is voice_status's response object.
type VoiceStatusResult struct {
	Services []ServiceStatus `json:"services"`
}

// VoiceStatus reports the running state of every registered supervised
// service (spec §4.9's status() operation, fanned out across every
// registered name rather than one).
func (s *Surface) VoiceStatus() VoiceStatusResult {
	var out VoiceStatusResult
	if s.Supervisor == nil {
		return out
	}
	for _, name := range s.Supervisor.Services() {
		st, err := s.Supervisor.Status(name)
		if err != nil {
			continue
		}
		out.Services = append(out.Services, ServiceStatus{
			Name:    name,
			Running: st.Running,
			PID:     st.PID,
			UptimeS: int64(st.Uptime / time.Second),
		})
	}
	return out
}

// DevicesResult is check_audio_devices' response object.
type DevicesResult struct {
	Devices []audioio.DeviceInfo `json:"devices"`
	Error   string               `json:"error,omitempty"`
}

// CheckAudioDevices enumerates capture/playback devices (spec §4.3), used
// by a caller diagnosing "no suitable device" before attempting a turn.
func (s *Surface) CheckAudioDevices() DevicesResult {
	devices, err := audioio.ListDevices()
	if err != nil {
		return DevicesResult{Error: err.Error()}
	}
	return DevicesResult{Devices: devices}
}

// StatisticsResult is voice_statistics' response object: a rollup over
// the rolling StatsWindow (spec §3's "StatsWindow (C2-adjacent)").
type StatisticsResult struct {
	TotalExchanges int     `json:"total_exchanges"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	AvgTTFAms      float64 `json:"avg_ttfa_ms"`
	AvgRecordMs    float64 `json:"avg_record_ms"`
	AvgSTTMs       float64 `json:"avg_stt_ms"`
}

// EventLogStats is the narrow seam VoiceStatistics needs from
// pkg/eventlog.Log, kept as an interface so tests can supply a fake
// window without constructing a full Log.
type EventLogStats interface {
	Snapshot() []voicemode.ExchangeRecord
}

// VoiceStatistics summarizes the most recent exchanges (spec §4.11's
// voice_statistics_* operation family, collapsed to one summary call).
func (s *Surface) VoiceStatistics(stats EventLogStats) StatisticsResult {
	var out StatisticsResult
	if stats == nil {
		return out
	}
	records := stats.Snapshot()
	out.TotalExchanges = len(records)

	var sumTTFA, sumRecord, sumSTT float64
	for _, rec := range records {
		if rec.Outcome == "ok" {
			out.Succeeded++
		} else {
			out.Failed++
		}
		if rec.TTS != nil {
			sumTTFA += float64(rec.TTS.TTFAms)
		}
		if rec.Record != nil {
			sumRecord += float64(rec.Record.DurationMs)
		}
		if rec.STT != nil {
			sumSTT += float64(rec.STT.LatencyMs)
		}
	}
	if out.TotalExchanges > 0 {
		n := float64(out.TotalExchanges)
		out.AvgTTFAms = sumTTFA / n
		out.AvgRecordMs = sumRecord / n
		out.AvgSTTMs = sumSTT / n
	}
	return out
}

// validateTransport is a small guard the surface uses before forwarding a
// transport string the engine would otherwise reject with a ConfigError;
// surfacing the same message early keeps the tagged-error contract
// consistent regardless of which layer notices first.
func validateTransport(t string) error {
	switch voicemode.Transport(t) {
	case "", voicemode.TransportAuto, voicemode.TransportLocal, voicemode.TransportRoom:
		return nil
	default:
		return fmt.Errorf("unknown transport: %s", t)
	}
}
