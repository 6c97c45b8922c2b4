package vad

import (
	"context"
	"time"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// FrameSource yields consecutive ~20ms PCM frames, blocking until the next
// frame is available or ctx is cancelled.
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

const frameMs = 20

// Params are the per-call recording parameters from spec §4.5/§4.10.
type Params struct {
	MaxS               float64
	MinS               float64
	SilenceThresholdMS int
	GracePeriodS       float64
	Aggressiveness     int
	DisableVAD         bool
	SampleRate         int
	MaxBufferBytes     int // stream_max_buffer_s * sample_rate * 2; 0 = no cap
}

type state int

const (
	stateGrace state = iota
	stateSpeaking
	stateStopping
)

// Result is what one Record call produced.
type Result struct {
	Buffer     *voicemode.AudioBuffer
	StopReason voicemode.StopReason
}

// Recorder runs the grace -> speaking -> stopping state machine described
// in spec §4.5, built on Classifier (grounded on the teacher's RMSVAD) and
// an optional EchoGuard.
type Recorder struct {
	logger voicemode.Logger
}

func NewRecorder(logger voicemode.Logger) *Recorder {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	return &Recorder{logger: logger}
}

// Record drives one turn's capture to completion. If VAD is disabled (or p
// has no classifier available), it degrades to a fixed-window capture of
// MaxS seconds, per spec.
func (r *Recorder) Record(ctx context.Context, src FrameSource, guard *EchoGuard, p Params) (*Result, error) {
	frameBytes := p.SampleRate * frameMs / 1000 * 2 // mono, 16-bit

	classifier := NewClassifier(p.Aggressiveness)

	var (
		st              = stateGrace
		reason          voicemode.StopReason
		pcm             []byte
		totalMs         float64
		trailingSilence float64
		graceMs         = p.GracePeriodS * 1000
	)

	for {
		select {
		case <-ctx.Done():
			return &Result{
				Buffer:     &voicemode.AudioBuffer{PCM: pcm, SampleRate: p.SampleRate, Channels: 1, SampleFormat: "s16le"},
				StopReason: voicemode.StopCancelled,
			}, nil
		default:
		}

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return &Result{
					Buffer:     &voicemode.AudioBuffer{PCM: pcm, SampleRate: p.SampleRate, Channels: 1, SampleFormat: "s16le"},
					StopReason: voicemode.StopCancelled,
				}, nil
			}
			return nil, voicemode.NewDeviceError("failed to read capture frame", err)
		}
		if len(frame) != frameBytes {
			r.logger.Warn("vad: dropping frame with unexpected size %d, want %d", len(frame), frameBytes)
			continue
		}

		isSpeech := p.DisableVAD
		if !p.DisableVAD {
			isSpeech = classifier.Classify(frame)
			if isSpeech && guard != nil && guard.ShouldIgnore(time.Now()) {
				r.logger.Debug("vad: ignoring speech-start classified during echo guard window")
				isSpeech = false
			}
		}

		switch st {
		case stateGrace:
			pcm = append(pcm, frame...)
			totalMs += frameMs
			if isSpeech {
				st = stateSpeaking
				trailingSilence = 0
			} else if totalMs >= graceMs {
				reason = voicemode.StopNoSpeech
				st = stateStopping
			}

		case stateSpeaking:
			pcm = append(pcm, frame...)
			totalMs += frameMs
			if isSpeech {
				trailingSilence = 0
			} else {
				trailingSilence += frameMs
			}

			minMs := p.MinS * 1000
			silenceMs := float64(p.SilenceThresholdMS)
			if totalMs >= minMs && trailingSilence >= silenceMs {
				reason = voicemode.StopSilence
				st = stateStopping
			}
		}

		// Overall cap wins over silence at any state; checked after the
		// per-state transition so max_s always takes priority (spec's
		// explicit tie-break).
		if totalMs >= p.MaxS*1000 {
			reason = voicemode.StopMaxDuration
			st = stateStopping
		}
		if p.MaxBufferBytes > 0 && len(pcm) >= p.MaxBufferBytes {
			reason = voicemode.StopBufferFull
			st = stateStopping
		}

		if st == stateStopping {
			break
		}
	}

	return &Result{
		Buffer:     &voicemode.AudioBuffer{PCM: pcm, SampleRate: p.SampleRate, Channels: 1, SampleFormat: "s16le"},
		StopReason: reason,
	}, nil
}
