package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// decodeMP3 decodes an MP3 stream to 16-bit signed little-endian PCM via
// go-mp3, the pure-Go decoder the pack's blacktop-mcp-tts depends on for
// exactly this purpose (playing/transcoding synthesized speech).
func decodeMP3(data []byte) (*voicemode.AudioBuffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	return &voicemode.AudioBuffer{
		PCM:          pcm,
		SampleRate:   dec.SampleRate(),
		Channels:     2, // go-mp3 always decodes to stereo
		SampleFormat: "s16le",
	}, nil
}

// encodeMP3Unavailable is the cause Encode wraps in an Internal error when
// mp3 is requested: go-mp3 is decode-only and no mp3 encoder (e.g. a lame
// binding) appears anywhere in the retrieved corpus. Encode itself does not
// substitute another format; pkg/sttuploader falls back to wav on this
// error.
func encodeMP3Unavailable() error {
	return fmt.Errorf("mp3 encoding is not supported: no mp3 encoder library found; use wav/opus for encode")
}
