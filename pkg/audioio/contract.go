package audioio

import (
	"context"
	"time"
)

// Source is the capture side of the audio contract: anything the VAD
// recorder can pull 20ms frames from. Device and RoomTransport both
// satisfy this structurally.
type Source interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Sink is the playback side: anything the TTS streamer can push decoded
// PCM into.
type Sink interface {
	Enqueue(pcm []byte)
	WaitDrained(ctx context.Context) error
	Flush()
}

var _ Source = (*Device)(nil)
var _ Sink = (*Device)(nil)
var _ Source = (*RoomTransport)(nil)
var _ Sink = (*RoomTransport)(nil)

// chimePlayer is satisfied by Device; RoomTransport has its own Chime that
// just tees the same generated tone over the socket.
type chimePlayer interface {
	Chime(kind ChimeKind, drainTimeout time.Duration)
}

var _ chimePlayer = (*Device)(nil)
var _ chimePlayer = (*RoomTransport)(nil)
