// Package audioio implements VoiceMode's Audio I/O component: capture and
// playback against the default local sound device via malgo, short chime
// tones, and an alternate websocket-framed "room" transport. Grounded on
// cmd/agent/main.go's malgo context/device setup and onSamples callback.
package audioio

import (
	"context"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/voicemode/voicemode-go/pkg/voicemode"
)

// Device owns one duplex malgo device: microphone capture feeds a frame
// queue (vad.FrameSource-shaped), and playback consumes a byte queue the
// TTS streamer appends to, exactly the teacher's onSamples split of
// pInput/pOutput handling.
type Device struct {
	sampleRate int
	channels   int
	logger     voicemode.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	captureMu  sync.Mutex
	captureBuf chan []byte

	playbackMu    sync.Mutex
	playbackBytes []byte
	onDrainedOnce func() // fired once the playback queue empties after having had data
	everPlayed    bool
}

// NewDevice opens the default duplex device at sampleRate/channels. Device
// open failures are reported as voicemode.DeviceError per spec §4.3.
func NewDevice(sampleRate, channels int, logger voicemode.Logger) (*Device, error) {
	if logger == nil {
		logger = voicemode.NoOpLogger{}
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, voicemode.NewDeviceError("failed to init audio context", err)
	}

	d := &Device{
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger,
		mctx:       mctx,
		captureBuf: make(chan []byte, 256),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, voicemode.NewDeviceError("failed to init audio device", err)
	}
	d.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, voicemode.NewDeviceError("failed to start audio device", err)
	}
	return d, nil
}

func (d *Device) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil {
		frame := make([]byte, len(pInput))
		copy(frame, pInput)
		select {
		case d.captureBuf <- frame:
		default:
			d.logger.Warn("audioio: capture frame dropped, queue full")
		}
	}
	if pOutput != nil {
		d.playbackMu.Lock()
		n := copy(pOutput, d.playbackBytes)
		d.playbackBytes = d.playbackBytes[n:]
		drained := len(d.playbackBytes) == 0
		cb := d.onDrainedOnce
		if drained && d.everPlayed {
			d.onDrainedOnce = nil
		}
		d.playbackMu.Unlock()

		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
		if drained && cb != nil {
			cb()
		}
	}
}

// ReadFrame implements vad.FrameSource: it blocks for the next captured
// frame or ctx cancellation, whichever comes first.
func (d *Device) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-d.captureBuf:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue appends decoded PCM to the playback queue. It is the write side
// of the playback pipeline described in spec §5: a caller (the TTS
// streamer's decode stage) pushes bytes here as they arrive.
func (d *Device) Enqueue(pcm []byte) {
	d.playbackMu.Lock()
	defer d.playbackMu.Unlock()
	d.playbackBytes = append(d.playbackBytes, pcm...)
	d.everPlayed = true
}

// WaitDrained blocks (bounded by ctx) until the playback queue has emptied,
// i.e. every enqueued sample has reached the output device.
func (d *Device) WaitDrained(ctx context.Context) error {
	done := make(chan struct{})
	d.playbackMu.Lock()
	if len(d.playbackBytes) == 0 {
		d.playbackMu.Unlock()
		return nil
	}
	d.onDrainedOnce = func() { close(done) }
	d.playbackMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush discards whatever is still queued for playback without waiting for
// it to drain — used on cancellation.
func (d *Device) Flush() {
	d.playbackMu.Lock()
	defer d.playbackMu.Unlock()
	d.playbackBytes = nil
}

// DeviceInfo is one entry of ListDevices' result, trimmed to what spec
// §4.11's check_audio_devices needs.
type DeviceInfo struct {
	Name      string
	IsDefault bool
	Direction string // "capture" | "playback"
}

// ListDevices enumerates the host's capture and playback devices via a
// short-lived malgo context, independent of any open Device. Used by the
// MCP surface's check_audio_devices; it never touches a Device already in
// use for a turn.
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, voicemode.NewDeviceError("failed to init audio context", err)
	}
	defer mctx.Uninit()

	var out []DeviceInfo
	captures, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, voicemode.NewDeviceError("failed to enumerate capture devices", err)
	}
	for _, info := range captures {
		out = append(out, DeviceInfo{Name: info.Name(), IsDefault: info.IsDefault != 0, Direction: "capture"})
	}

	playbacks, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, voicemode.NewDeviceError("failed to enumerate playback devices", err)
	}
	for _, info := range playbacks {
		out = append(out, DeviceInfo{Name: info.Name(), IsDefault: info.IsDefault != 0, Direction: "playback"})
	}
	return out, nil
}

// Close releases the underlying device/context.
func (d *Device) Close() {
	if d.device != nil {
		d.device.Uninit()
	}
	if d.mctx != nil {
		d.mctx.Uninit()
	}
}
