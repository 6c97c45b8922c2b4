// Package config loads VoiceMode's environment into an immutable
// voicemode.Settings value. Env vars are authoritative; an optional .env
// file supplies fallback values the way cmd/agent/main.go loads provider
// credentials in the teacher repo.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// LoadSettings builds a Settings value from the process environment,
// optionally seeded by a .env file at envFile (loaded first, so that
// real environment variables still win over anything it sets).
func LoadSettings(envFile string) (*voicemode.Settings, error) {
	if envFile != "" {
		// Ignore a missing .env file; only report malformed files.
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, voicemode.NewConfigError("failed to parse .env file", err)
			}
		}
	}

	baseDir := getenv("VOICEMODE_BASE_DIR", defaultBaseDir())

	s := &voicemode.Settings{
		BaseDir: baseDir,

		TTSBaseURLs: splitList(getenv("VOICEMODE_TTS_BASE_URLS", "")),
		STTBaseURLs: splitList(getenv("VOICEMODE_STT_BASE_URLS", "")),

		TTSVoices: splitList(getenv("VOICEMODE_TTS_VOICES", "")),
		TTSModels: splitList(getenv("VOICEMODE_TTS_MODELS", "")),

		AudioFormat:    voicemode.Format(getenv("VOICEMODE_AUDIO_FORMAT", "pcm")),
		TTSAudioFormat: voicemode.Format(getenv("VOICEMODE_TTS_AUDIO_FORMAT", "")),
		STTAudioFormat: voicemode.Format(getenv("VOICEMODE_STT_AUDIO_FORMAT", "")),

		OpusBitrate: getenvInt("VOICEMODE_OPUS_BITRATE", 32000),
		MP3Bitrate:  getenvInt("VOICEMODE_MP3_BITRATE", 64000),
		AACBitrate:  getenvInt("VOICEMODE_AAC_BITRATE", 64000),

		StreamingEnabled: getenvBool("VOICEMODE_STREAMING_ENABLED", true),
		StreamChunkSize:  getenvInt("VOICEMODE_STREAM_CHUNK_SIZE", 4096),
		StreamBufferMS:   getenvInt("VOICEMODE_STREAM_BUFFER_MS", 200),
		StreamMaxBufferS: getenvInt("VOICEMODE_STREAM_MAX_BUFFER", 30),

		VADAggressiveness:       getenvInt("VOICEMODE_VAD_AGGRESSIVENESS", 2),
		SilenceThresholdMS:      getenvInt("VOICEMODE_SILENCE_THRESHOLD_MS", 1000),
		MinRecordingDurationS:   getenvFloat("VOICEMODE_MIN_RECORDING_DURATION", 0.5),
		InitialSilenceGracePerS: getenvFloat("VOICEMODE_INITIAL_SILENCE_GRACE_PERIOD", 4.0),

		SaveAudio:          getenvBool("VOICEMODE_SAVE_AUDIO", false),
		SaveTranscriptions: getenvBool("VOICEMODE_SAVE_TRANSCRIPTIONS", false),
		SaveAll:            getenvBool("VOICEMODE_SAVE_ALL", false),
		Debug:              getenvBool("VOICEMODE_DEBUG", false),
		AllowEmotions:      getenvBool("VOICEMODE_ALLOW_EMOTIONS", false),

		SampleRate: getenvInt("VOICEMODE_SAMPLE_RATE", 24000),
		Channels:   1,

		LiveKitURL:       os.Getenv("LIVEKIT_URL"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),

		GenerationTimeoutS:   getenvInt("VOICEMODE_TTS_GENERATION_TIMEOUT", 30),
		PlaybackDrainTimeout: getenvInt("VOICEMODE_PLAYBACK_DRAIN_TIMEOUT", 60),
		STTUploadTimeoutS:    getenvInt("VOICEMODE_STT_UPLOAD_TIMEOUT", 60),
		RegistryProbeTimeout: 2 * time.Second,
	}

	if s.ListenDurationMaxDefault == 0 {
		s.ListenDurationMaxDefault = 120
	}

	if s.TTSAudioFormat == "" {
		s.TTSAudioFormat = s.AudioFormat
	}
	if s.STTAudioFormat == "" {
		if s.AudioFormat == voicemode.FormatPCM {
			s.STTAudioFormat = voicemode.FormatMP3
		} else {
			s.STTAudioFormat = s.AudioFormat
		}
	}

	if err := validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func validate(s *voicemode.Settings) error {
	if s.VADAggressiveness < 0 || s.VADAggressiveness > 3 {
		return voicemode.NewConfigError(fmt.Sprintf("vad_aggressiveness out of range [0,3]: %d", s.VADAggressiveness), nil)
	}
	if s.SampleRate <= 0 {
		return voicemode.NewConfigError("sample_rate must be positive", nil)
	}
	switch s.AudioFormat {
	case voicemode.FormatPCM, voicemode.FormatWAV, voicemode.FormatMP3, voicemode.FormatOpus, voicemode.FormatFLAC, voicemode.FormatAAC:
	default:
		return voicemode.NewConfigError(fmt.Sprintf("unrecognized audio_format: %s", s.AudioFormat), nil)
	}
	return nil
}

// Paths bundles the derived, per-kind directories under BaseDir.
type Paths struct {
	Audio           string
	Transcriptions  string
	LogsEvents      string
	LogsExchanges   string
}

// DerivedPaths returns (and, best-effort, creates) the persisted state
// layout rooted at Settings.BaseDir.
func DerivedPaths(s *voicemode.Settings) Paths {
	p := Paths{
		Audio:          filepath.Join(s.BaseDir, "audio"),
		Transcriptions: filepath.Join(s.BaseDir, "transcriptions"),
		LogsEvents:     filepath.Join(s.BaseDir, "logs", "events"),
		LogsExchanges:  filepath.Join(s.BaseDir, "logs", "exchanges"),
	}
	for _, dir := range []string{p.Audio, p.Transcriptions, p.LogsEvents, p.LogsExchanges} {
		_ = os.MkdirAll(dir, 0o755)
	}
	return p
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voicemode"
	}
	return filepath.Join(home, ".voicemode")
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
