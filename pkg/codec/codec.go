// Package codec translates between encoded byte streams and PCM
// voicemode.AudioBuffer values, and negotiates which format a given
// provider/direction pair should use.
package codec

import (
	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// Decode turns an encoded byte stream of the given format into PCM.
func Decode(data []byte, format voicemode.Format, sampleRate, channels int) (*voicemode.AudioBuffer, error) {
	switch format {
	case voicemode.FormatPCM:
		return &voicemode.AudioBuffer{PCM: data, SampleRate: sampleRate, Channels: channels, SampleFormat: "s16le"}, nil
	case voicemode.FormatWAV:
		return decodeWAV(data)
	case voicemode.FormatMP3:
		return decodeMP3(data)
	case voicemode.FormatOpus:
		return decodeOpus(data, sampleRate, channels)
	case voicemode.FormatFLAC:
		return decodeFLAC(data)
	case voicemode.FormatAAC:
		return decodeAAC(data)
	default:
		return nil, voicemode.NewInternal("unsupported decode format: "+string(format), nil)
	}
}

// Encode turns a PCM buffer into the given format. mp3 has no available
// encoder in the corpus (see mp3.go); requesting it returns an Internal
// error naming the fallback rather than silently substituting a different
// format behind the caller's back.
func Encode(buf *voicemode.AudioBuffer, format voicemode.Format) ([]byte, error) {
	switch format {
	case voicemode.FormatPCM:
		return buf.PCM, nil
	case voicemode.FormatWAV:
		return encodeWAV(buf.PCM, buf.SampleRate, buf.Channels), nil
	case voicemode.FormatOpus:
		out, err := encodeOpus(buf.PCM, buf.SampleRate, buf.Channels)
		if err != nil {
			return nil, voicemode.NewInternal("opus encode failed", err)
		}
		return out, nil
	case voicemode.FormatFLAC:
		return encodeFLAC(buf.PCM, buf.SampleRate, buf.Channels), nil
	case voicemode.FormatAAC:
		return encodeAAC(buf.PCM, buf.SampleRate, buf.Channels), nil
	case voicemode.FormatMP3:
		return nil, voicemode.NewInternal("mp3 encode unavailable", encodeMP3Unavailable())
	default:
		return nil, voicemode.NewInternal("unsupported encode format: "+string(format), nil)
	}
}

// ProviderSupportedFormats is the lookup table driving format negotiation.
// Local services (kokoro/whisper) are conservative; cloud (openai) is
// permissive; unknown providers are treated as accepting everything so a
// misconfigured provider_type never blocks a call outright.
func ProviderSupportedFormats(pt voicemode.ProviderType, kind voicemode.EndpointKind) []voicemode.Format {
	switch pt {
	case voicemode.ProviderKokoro:
		if kind == voicemode.KindTTS {
			return []voicemode.Format{voicemode.FormatPCM, voicemode.FormatWAV, voicemode.FormatMP3}
		}
		return []voicemode.Format{voicemode.FormatWAV, voicemode.FormatMP3}
	case voicemode.ProviderWhisper:
		return []voicemode.Format{voicemode.FormatWAV, voicemode.FormatMP3, voicemode.FormatFLAC}
	case voicemode.ProviderOpenAI:
		return []voicemode.Format{voicemode.FormatPCM, voicemode.FormatWAV, voicemode.FormatMP3, voicemode.FormatOpus, voicemode.FormatFLAC, voicemode.FormatAAC}
	case voicemode.ProviderLiveKit:
		return []voicemode.Format{voicemode.FormatPCM, voicemode.FormatOpus}
	default:
		return nil // nil/empty means "assume permissive", see Endpoint.SupportsFormat
	}
}

// NegotiateFormat implements the spec's format negotiation rule: the
// requested format if supported, else the first of the preference order
// that's supported, else "mp3".
func NegotiateFormat(requested voicemode.Format, supported []voicemode.Format, preference []voicemode.Format) voicemode.Format {
	if formatIn(requested, supported) || len(supported) == 0 {
		return requested
	}
	for _, p := range preference {
		if formatIn(p, supported) {
			return p
		}
	}
	return voicemode.FormatMP3
}

func formatIn(f voicemode.Format, set []voicemode.Format) bool {
	for _, s := range set {
		if s == f {
			return true
		}
	}
	return false
}
