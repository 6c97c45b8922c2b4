// Command voicemode is VoiceMode's process entrypoint: it loads settings,
// builds the registry/engine/supervisor, binds the MCP surface, and runs
// until SIGINT/SIGTERM. Grounded on cmd/agent/main.go's .env loading,
// malgo device setup, and signal-driven shutdown, with the LLM provider
// selection and chat-turn loop removed in favor of constructing the MCP
// surface and letting a transport (out of scope here, spec §1) drive it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/voicemode/voicemode-go/pkg/audioio"
	"github.com/voicemode/voicemode-go/pkg/config"
	"github.com/voicemode/voicemode-go/pkg/engine"
	"github.com/voicemode/voicemode-go/pkg/eventlog"
	"github.com/voicemode/voicemode-go/pkg/mcpsurface"
	"github.com/voicemode/voicemode-go/pkg/registry"
	"github.com/voicemode/voicemode-go/pkg/sttuploader"
	"github.com/voicemode/voicemode-go/pkg/supervisor"
	"github.com/voicemode/voicemode-go/pkg/ttsstreamer"
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

func main() {
	settings, err := config.LoadSettings(".env")
	if err != nil {
		log.Fatalf("voicemode: failed to load settings: %v", err)
	}
	logger := voicemode.NewStdLogger(settings.Debug)
	paths := config.DerivedPaths(settings)

	reg := registry.New(logger)
	for _, url := range settings.TTSBaseURLs {
		reg.AddEndpoint(&voicemode.Endpoint{BaseURL: url, Kind: voicemode.KindTTS, ProviderType: inferProviderType(url)})
	}
	for _, url := range settings.STTBaseURLs {
		reg.AddEndpoint(&voicemode.Endpoint{BaseURL: url, Kind: voicemode.KindSTT, ProviderType: inferProviderType(url)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional eager warmup (spec §9 open question: lazy+opportunistic is
	// the mandated default contract; this is the permitted optional extra).
	if getenvBool("VOICEMODE_EAGER_WARMUP", false) {
		reg.Warm(ctx)
	}

	elog := eventlog.New(paths, logger)
	defer elog.Close()

	sup := supervisor.New(logger)
	if runtime.GOOS == "linux" {
		sup.SetBootManager(supervisor.SystemdUserBootManager{})
	}

	deps := engine.Deps{
		Settings: settings,
		Paths:    paths,
		Registry: reg,
		EventLog: elog,
		TTS:      ttsstreamer.New(logger),
		STT:      sttuploader.New(logger),
		Logger:   logger,
	}

	if settings.LiveKitURL != "" {
		room, err := audioio.NewRoomTransport(ctx, settings.LiveKitURL, logger)
		if err != nil {
			logger.Warn("voicemode: room transport unavailable: %v", err)
		} else {
			deps.Room = room
			defer room.Close()
		}
	}

	device, err := audioio.NewDevice(settings.SampleRate, settings.Channels, logger)
	if err != nil {
		logger.Warn("voicemode: local audio device unavailable: %v", err)
	} else {
		deps.Local = device
		defer device.Close()
	}

	if deps.Local == nil && deps.Room == nil {
		log.Fatal("voicemode: no audio transport available (no local device and no room configured)")
	}

	eng := engine.New(deps)
	surface := mcpsurface.New(eng, sup, settings, logger)
	_ = surface // bound to tool names by the MCP transport, out of scope here (spec §1)

	logger.Info("voicemode: ready (base_dir=%s, tts_endpoints=%d, stt_endpoints=%d)",
		settings.BaseDir, len(settings.TTSBaseURLs), len(settings.STTBaseURLs))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("voicemode: shutting down")
	cancel()
	sup.WaitShutdown(ctx)
}

// inferProviderType guesses a configured endpoint's provider type from its
// base URL, since settings only carries URLs (spec §4.1's tts_base_urls /
// stt_base_urls) and not an explicit provider tag. Cloud OpenAI is
// recognized by hostname; the conventional local ports from spec §8's
// scenario 1 (kokoro TTS on 8880, whisper.cpp STT on 2022) are recognized
// next; anything else is ProviderUnknown, which the codec and registry
// treat permissively.
func inferProviderType(url string) voicemode.ProviderType {
	switch {
	case strings.Contains(url, "openai.com"):
		return voicemode.ProviderOpenAI
	case strings.Contains(url, ":8880"):
		return voicemode.ProviderKokoro
	case strings.Contains(url, ":2022"):
		return voicemode.ProviderWhisper
	default:
		return voicemode.ProviderUnknown
	}
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch v {
	case "1", "true", "True", "TRUE":
		return true
	case "0", "false", "False", "FALSE":
		return false
	default:
		return fallback
	}
}
