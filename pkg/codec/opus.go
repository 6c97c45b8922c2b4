package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

const opusFrameMs = 20

// opus packets have no self-delimiting wire format outside an Ogg/WebM
// container; since nothing else in VoiceMode needs Ogg muxing, encoded
// opus here is a minimal length-prefixed packet stream: repeated
// (uint32 LE packet length, packet bytes).

func encodeOpus(pcm []byte, sampleRate, channels int) ([]byte, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	frameSamples := sampleRate * opusFrameMs / 1000
	frameBytes := frameSamples * channels * 2

	out := new(bytes.Buffer)
	pktBuf := make([]byte, 4000)

	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		chunk := pcm[off:minInt(end, len(pcm))]
		samples := pcmToInt16(padTo(chunk, frameBytes))

		n, err := enc.Encode(samples, pktBuf)
		if err != nil {
			return nil, fmt.Errorf("opus encode frame at %d: %w", off, err)
		}
		binary.Write(out, binary.LittleEndian, uint32(n))
		out.Write(pktBuf[:n])
	}
	return out.Bytes(), nil
}

func decodeOpus(data []byte, sampleRate, channels int) (*voicemode.AudioBuffer, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}

	frameSamples := sampleRate * opusFrameMs / 1000
	pcmOut := new(bytes.Buffer)
	samples := make([]int16, frameSamples*channels)

	pos := 0
	for pos+4 <= len(data) {
		pktLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+pktLen > len(data) {
			return nil, fmt.Errorf("opus stream truncated")
		}
		pkt := data[pos : pos+pktLen]
		pos += pktLen

		n, err := dec.Decode(pkt, samples)
		if err != nil {
			return nil, fmt.Errorf("opus decode: %w", err)
		}
		for i := 0; i < n*channels; i++ {
			binary.Write(pcmOut, binary.LittleEndian, samples[i])
		}
	}

	return &voicemode.AudioBuffer{
		PCM:          pcmOut.Bytes(),
		SampleRate:   sampleRate,
		Channels:     channels,
		SampleFormat: "s16le",
	}, nil
}

func pcmToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	return out
}

func padTo(chunk []byte, size int) []byte {
	if len(chunk) >= size {
		return chunk
	}
	padded := make([]byte, size)
	copy(padded, chunk)
	return padded
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
