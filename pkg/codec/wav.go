package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// encodeWAV builds a RIFF/WAVE container around raw 16-bit PCM, the same
// manual-header construction as the teacher's pkg/audio/wav.go, generalized
// to an arbitrary channel count.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	buf := new(bytes.Buffer)

	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// decodeWAV strips the RIFF/WAVE container, returning the raw PCM payload
// and its sample rate/channel count. It walks chunks rather than assuming
// "fmt " is always immediately before "data", since some encoders insert
// extra chunks (e.g. "LIST") in between.
func decodeWAV(data []byte) (*voicemode.AudioBuffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var sampleRate, channels int
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			end := body + chunkSize
			if end > len(data) {
				end = len(data)
			}
			return &voicemode.AudioBuffer{
				PCM:          data[body:end],
				SampleRate:   sampleRate,
				Channels:     channels,
				SampleFormat: "s16le",
			}, nil
		}

		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}
	return nil, fmt.Errorf("no data chunk found")
}
