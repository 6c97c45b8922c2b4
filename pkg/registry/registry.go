// Package registry maintains VoiceMode's ordered, health-aware list of TTS
// and STT endpoints. No teacher file implements ordered multi-endpoint
// failover directly (the teacher wires exactly one provider per role at
// startup); the concurrency shape here — a mutex-guarded slice where
// "readers never block readers" — follows the same idiom as
// ConversationSession in pkg/orchestrator/types.go.
package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

const defaultProbeWindow = 60 * time.Second

// Registry holds endpoints for both kinds, in configuration order.
type Registry struct {
	mu     sync.RWMutex
	tts    []*voicemode.Endpoint
	stt    []*voicemode.Endpoint
	window time.Duration
	client *http.Client
	logger voicemode.Logger
}

func New(logger voicemode.Logger) *Registry {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	return &Registry{
		window: defaultProbeWindow,
		client: &http.Client{Timeout: 2 * time.Second},
		logger: logger,
	}
}

// AddEndpoint registers an endpoint in configuration order for its kind.
func (r *Registry) AddEndpoint(ep *voicemode.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep.Kind == voicemode.KindTTS {
		r.tts = append(r.tts, ep)
	} else {
		r.stt = append(r.stt, ep)
	}
}

// Endpoints returns endpoints of kind in configuration order, filtered to
// those eligible right now (never-probed is optimistically eligible).
func (r *Registry) Endpoints(kind voicemode.EndpointKind) []*voicemode.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.tts
	if kind == voicemode.KindSTT {
		list = r.stt
	}
	now := time.Now()
	out := make([]*voicemode.Endpoint, 0, len(list))
	for _, ep := range list {
		if ep.Eligible(now, r.window) {
			out = append(out, ep)
		}
	}
	return out
}

// Probe issues a small unauthenticated health check, caching the result.
// Local providers (kokoro/whisper) use a GET /health; cloud providers use
// a lightweight GET /models.
func (r *Registry) Probe(ctx context.Context, ep *voicemode.Endpoint) bool {
	path := "/health"
	if ep.ProviderType == voicemode.ProviderOpenAI {
		path = "/models"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL+path, nil)
	if err != nil {
		ep.MarkProbe(false, time.Now())
		return false
	}
	resp, err := r.client.Do(req)
	ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
	if resp != nil {
		resp.Body.Close()
	}
	ep.MarkProbe(ok, time.Now())
	if !ok {
		r.logger.Warn("registry: probe failed for %s: %v", ep.BaseURL, err)
	}
	return ok
}

// Warm eagerly probes every endpoint once. Optional: spec's default policy
// is lazy + opportunistic; this exists only for a caller (cmd/voicemode)
// that wants a startup warmup without changing the observable contract of
// Endpoints/SelectFor*.
func (r *Registry) Warm(ctx context.Context) {
	r.mu.RLock()
	all := append(append([]*voicemode.Endpoint{}, r.tts...), r.stt...)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ep := range all {
		wg.Add(1)
		go func(ep *voicemode.Endpoint) {
			defer wg.Done()
			r.Probe(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

// MarkFailure is how the Turn Engine reports a failed call against an
// endpoint; the registry never retries on its own (spec's explicit split
// of responsibility), it only remembers the failure for the next
// selection round.
func (r *Registry) MarkFailure(ep *voicemode.Endpoint) {
	ep.MarkProbe(false, time.Now())
}

// Selection is the endpoint plus the concretely chosen voice/model.
type Selection struct {
	Endpoint *voicemode.Endpoint
	Voice    string
	Model    string
}

// SelectForTTS scans eligible endpoints in order, picking the first
// preference-list voice/model each supports. requiresEmotion filters to
// endpoints whose models include an emotion-capable one.
func (r *Registry) SelectForTTS(requestedVoice, requestedModel string, requiresEmotion bool, voicePref, modelPref []string) (*Selection, error) {
	for _, ep := range r.Endpoints(voicemode.KindTTS) {
		voice, vOK := pickPreferred(requestedVoice, voicePref, ep.SupportedVoices)
		if !vOK {
			continue
		}
		model, mOK := pickPreferred(requestedModel, modelPref, ep.SupportedModels)
		if !mOK {
			continue
		}
		if requiresEmotion && !hasEmotionModel(ep.SupportedModels) {
			continue
		}
		return &Selection{Endpoint: ep, Voice: voice, Model: model}, nil
	}
	return nil, voicemode.NewNoSuitableEndpoint("no TTS endpoint supports the requested voice/model/emotion combination")
}

// SelectForSTT is SelectForTTS's STT-side analogue (no voice dimension).
func (r *Registry) SelectForSTT(requestedModel string, modelPref []string) (*Selection, error) {
	for _, ep := range r.Endpoints(voicemode.KindSTT) {
		model, ok := pickPreferred(requestedModel, modelPref, ep.SupportedModels)
		if !ok {
			continue
		}
		return &Selection{Endpoint: ep, Model: model}, nil
	}
	return nil, voicemode.NewNoSuitableEndpoint("no STT endpoint supports the requested model")
}

func pickPreferred(requested string, preference []string, supported []string) (string, bool) {
	if len(supported) == 0 {
		// Unknown support set: be permissive, matching Endpoint.SupportsFormat.
		if requested != "" {
			return requested, true
		}
		if len(preference) > 0 {
			return preference[0], true
		}
		return "", true
	}
	if requested == "" && len(preference) == 0 {
		// Nothing requested and no preference list: any supported entry
		// matches, so take the endpoint's first.
		return supported[0], true
	}
	if requested != "" && contains(supported, requested) {
		return requested, true
	}
	for _, p := range preference {
		if contains(supported, p) {
			return p, true
		}
	}
	return "", false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// emotionCapableModels is a small closed set; gpt-4o-mini-tts is the one
// spec names explicitly.
var emotionCapableModels = map[string]bool{"gpt-4o-mini-tts": true}

func hasEmotionModel(models []string) bool {
	for _, m := range models {
		if emotionCapableModels[m] {
			return true
		}
	}
	return false
}
