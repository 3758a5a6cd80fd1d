// Package capture feeds mono device-rate samples into the engine's ring
// buffer. Sources are interchangeable: a real input device, a WAV file for
// offline checks, or a WebRTC track decoded elsewhere.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied means the host refused access to the device.
	ErrPermissionDenied = errors.New("capture: device access denied")
	// ErrDeviceUnavailable means no usable device, or the device was lost.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
)

// Source produces mono float32 samples at a fixed rate. Open reports the
// rate; Start begins delivery to onSamples (called from the source's own
// context — the callback must not block); onErr reports a fatal loss of the
// source. Stop is idempotent.
type Source interface {
	Open(ctx context.Context) (sampleRate int, err error)
	Start(onSamples func([]float32), onErr func(error)) error
	Stop() error
}
