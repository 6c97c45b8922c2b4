package config

import (
	"os"
	"testing"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("VOICEMODE_BASE_DIR", t.TempDir())
	t.Setenv("VOICEMODE_TTS_BASE_URLS", "http://127.0.0.1:8880/v1,https://api.openai.com/v1")
	t.Setenv("VOICEMODE_AUDIO_FORMAT", "pcm")

	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(s.TTSBaseURLs) != 2 {
		t.Fatalf("expected 2 tts base urls, got %d", len(s.TTSBaseURLs))
	}
	if s.STTAudioFormat != voicemode.FormatMP3 {
		t.Errorf("expected stt fallback format mp3 when primary is pcm, got %s", s.STTAudioFormat)
	}
	if s.VADAggressiveness != 2 {
		t.Errorf("expected default vad_aggressiveness 2, got %d", s.VADAggressiveness)
	}
}

func TestLoadSettingsRejectsBadAggressiveness(t *testing.T) {
	t.Setenv("VOICEMODE_BASE_DIR", t.TempDir())
	t.Setenv("VOICEMODE_VAD_AGGRESSIVENESS", "7")

	_, err := LoadSettings("")
	if !voicemode.IsKind(err, voicemode.KindConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestDerivedPathsCreatesDirs(t *testing.T) {
	s := &voicemode.Settings{BaseDir: t.TempDir()}
	p := DerivedPaths(s)

	for _, dir := range []string{p.Audio, p.Transcriptions, p.LogsEvents, p.LogsExchanges} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
		}
	}
}
