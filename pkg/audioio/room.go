package audioio

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// RoomTransport is VoiceMode's answer to spec §9's open question ("exact
// semantics of transport=room... the wire detail is not frozen here"): a
// persistent websocket carrying binary PCM frames in both directions plus
// small JSON control messages, adapted from the teacher's
// pkg/providers/tts/lokutor.go (which keeps exactly this kind of
// reconnect-on-error persistent *websocket.Conn for a TTS-only stream; here
// it's repurposed into a duplex audio carrier so the same recorder/
// streamer contract in C3 works unchanged regardless of transport).
type RoomTransport struct {
	url    string
	logger voicemode.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	captureBuf chan []byte

	playbackMu    sync.Mutex
	playbackBytes []byte
}

type roomControl struct {
	Type string `json:"type"`
}

// NewRoomTransport dials a room server. roomURL is the room endpoint from
// Settings.LiveKitURL; the exact room protocol is deliberately left to deployment
// configuration per spec's open question.
func NewRoomTransport(ctx context.Context, roomURL string, logger voicemode.Logger) (*RoomTransport, error) {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	u, err := url.Parse(roomURL)
	if err != nil {
		return nil, voicemode.NewDeviceError("invalid room url", err)
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, voicemode.NewDeviceError("failed to connect to room", err)
	}

	r := &RoomTransport{
		url:        roomURL,
		logger:     logger,
		conn:       conn,
		captureBuf: make(chan []byte, 256),
	}
	go r.readLoop(ctx)
	return r, nil
}

func (r *RoomTransport) readLoop(ctx context.Context) {
	for {
		messageType, payload, err := r.conn.Read(ctx)
		if err != nil {
			r.logger.Warn("audioio: room connection closed: %v", err)
			return
		}
		if messageType == websocket.MessageBinary {
			select {
			case r.captureBuf <- payload:
			default:
				r.logger.Warn("audioio: room capture frame dropped, queue full")
			}
		}
	}
}

func (r *RoomTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-r.captureBuf:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RoomTransport) Enqueue(pcm []byte) {
	r.playbackMu.Lock()
	r.playbackBytes = append(r.playbackBytes, pcm...)
	r.playbackMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return
	}
	if err := r.conn.Write(context.Background(), websocket.MessageBinary, pcm); err != nil {
		r.logger.Warn("audioio: room write failed: %v", err)
	}
}

// WaitDrained is a best-effort ACK wait: since the wire detail isn't
// frozen, we accept a "played" control message or just time out — the
// recorder/streamer contract only needs WaitDrained to eventually return.
func (r *RoomTransport) WaitDrained(ctx context.Context) error {
	r.playbackMu.Lock()
	r.playbackBytes = nil
	r.playbackMu.Unlock()

	ack := make(chan struct{})
	go func() {
		var msg roomControl
		if err := wsjson.Read(ctx, r.conn, &msg); err == nil && msg.Type == "played" {
			close(ack)
		}
	}()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return nil
	case <-time.After(2 * time.Second):
		return nil
	}
}

func (r *RoomTransport) Flush() {
	r.playbackMu.Lock()
	defer r.playbackMu.Unlock()
	r.playbackBytes = nil
}

// Chime tees the same generated tone the local device would play over the
// room socket, tagged with a control message so the far end can distinguish
// it from speech audio if it wants to.
func (r *RoomTransport) Chime(kind ChimeKind, drainTimeout time.Duration) {
	tone := GenerateChime(kind, 24000)

	r.mu.Lock()
	_ = wsjson.Write(context.Background(), r.conn, roomControl{Type: fmt.Sprintf("chime_%s", kind)})
	r.mu.Unlock()

	r.Enqueue(tone)
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	_ = r.WaitDrained(ctx)
}

func (r *RoomTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(websocket.StatusNormalClosure, "")
	r.conn = nil
	return err
}
