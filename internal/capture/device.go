package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/chadiek/fretcheck/internal/dsp"
)

// DeviceConfig selects the input device geometry. The caller is responsible
// for running the device without echo cancellation, noise suppression, or
// automatic gain control; miniaudio opens raw capture streams, which is what
// a transcription model wants.
type DeviceConfig struct {
	// SampleRate to request. 0 means 44100.
	SampleRate int
	// Channels to request. 0 means 1. With more than one channel the
	// callback mixes to mono by arithmetic mean.
	Channels int
}

// Device captures from the default input device through miniaudio.
type Device struct {
	cfg DeviceConfig

	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	stopping atomic.Bool

	// callback scratch, sized up front so the audio thread never allocates
	scratch []float32
	mono    []float32
}

// NewDevice builds an unopened device source.
func NewDevice(cfg DeviceConfig) *Device {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Device{cfg: cfg}
}

// Open initializes the miniaudio context and reports the capture rate.
func (d *Device) Open(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", classify(err), err)
	}
	d.mu.Lock()
	d.mctx = mctx
	d.mu.Unlock()
	return d.cfg.SampleRate, nil
}

// Start opens the capture device and begins delivering mono samples.
func (d *Device) Start(onSamples func([]float32), onErr func(error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mctx == nil {
		return ErrDeviceUnavailable
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(d.cfg.Channels)
	cfg.SampleRate = uint32(d.cfg.SampleRate)
	cfg.Alsa.NoMMap = 1

	// A generous upper bound on per-callback frames; a backend block larger
	// than this is converted in chunks of this size.
	maxFrames := max(d.cfg.SampleRate/10, 1)
	d.scratch = make([]float32, maxFrames*d.cfg.Channels)
	d.mono = make([]float32, maxFrames)

	channels := d.cfg.Channels
	onRecv := func(_, in []byte, frameCount uint32) {
		for done := 0; done < int(frameCount); {
			frames := min(int(frameCount)-done, len(d.mono))
			n := frames * channels
			block := in[done*channels*4:]
			for i := 0; i < n; i++ {
				d.scratch[i] = math.Float32frombits(binary.LittleEndian.Uint32(block[i*4:]))
			}
			onSamples(dsp.MixMono(d.mono, d.scratch[:n], channels))
			done += frames
		}
	}
	// Runs from miniaudio's own thread, possibly while Stop holds the
	// mutex, so only the atomic flag is consulted here.
	onStop := func() {
		if !d.stopping.Load() && onErr != nil {
			onErr(fmt.Errorf("%w: capture stopped by backend", ErrDeviceUnavailable))
		}
	}

	device, err := malgo.InitDevice(d.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: onRecv,
		Stop: onStop,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", classify(err), err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("%w: %v", classify(err), err)
	}
	d.device = device
	log.Printf("capture: device started rate=%d channels=%d", d.cfg.SampleRate, channels)
	return nil
}

// Stop tears the device and context down. Safe to call repeatedly.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopping.Store(true)
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.mctx != nil {
		_ = d.mctx.Uninit()
		d.mctx.Free()
		d.mctx = nil
	}
	d.stopping.Store(false)
	return nil
}

// classify maps backend errors onto the capture taxonomy.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return ErrPermissionDenied
	}
	return ErrDeviceUnavailable
}
