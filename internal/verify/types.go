// Package verify contains the streaming chord verification engine: the tick
// scheduler over the shared ring buffer, temporal aggregation of transcribed
// notes, the chord policy with confirmation and debounce, and the controller
// that owns capture and worker lifecycle.
package verify

import (
	"errors"
	"fmt"

	"github.com/chadiek/fretcheck/internal/dsp"
)

// Policy selects how detected pitch classes are matched against the spec.
type Policy string

const (
	// PolicyKOfN passes when at least k expected pitch classes are heard.
	PolicyKOfN Policy = "K_OF_N"
	// PolicyIncludesTarget passes when the root pitch class is heard.
	PolicyIncludesTarget Policy = "INCLUDES_TARGET"
	// PolicyBassPriority passes K_OF_N and requires the root in the bass.
	PolicyBassPriority Policy = "BASS_PRIORITY"
)

// Engine failure taxonomy. Fatal ones move the engine to StatusError;
// per-inference failures surface as Error verdicts and the loop keeps going.
var (
	ErrPermissionDenied  = errors.New("verify: audio device access denied")
	ErrDeviceUnavailable = errors.New("verify: audio device unavailable")
	ErrAdapterInit       = errors.New("verify: transcription adapter failed to load")
	ErrConfigInvalid     = errors.New("verify: invalid configuration")
	ErrNotRunning        = errors.New("verify: engine is not running")
)

// Status is the controller state.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusListening
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusListening:
		return "listening"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Config holds every engine knob. Zero values fall back to the defaults
// documented on each field; DefaultGuitar is the usual starting point.
type Config struct {
	// WindowSec is the rolling window fed to the adapter. Default 1.3.
	WindowSec float64
	// TickMs is the scheduler period. Default 40.
	TickMs int
	// FramesConfirm is how many consecutive passing ticks arm a Match.
	// Default 3 (~120 ms of persistence).
	FramesConfirm int
	// MissCooldownMs is the minimum interval between Miss verdicts.
	// Default 250.
	MissCooldownMs int
	// SalienceThreshold drops weaker detections before matching. Default 0.2.
	SalienceThreshold float64
	// CentsTol, when non-zero, overrides SalienceThreshold through the
	// historical lookup (<=25 cents -> 0.4, <=50 -> 0.3, else 0.2). It is
	// not a true pitch tolerance.
	CentsTol int
	// TransposeSemitones shifts detected MIDI down by this many semitones
	// before pitch-class reduction, so shapes played behind a capo reduce
	// onto the scored chord (set it to the capo fret).
	TransposeSemitones int
	// AcceptInversions, when false, additionally requires the lowest
	// detected pitch class to be the root.
	AcceptInversions bool
	// Policy selects the matching rule. Default PolicyKOfN.
	Policy Policy
	// AggregatorMaxLen is the tick history depth, 3..5. Default 5.
	AggregatorMaxLen int
	// ResampleQuality selects linear (default) or the polyphase resampler.
	ResampleQuality dsp.Quality
}

// DefaultGuitar is the preset for a standard-tuned guitar over a default
// input device.
func DefaultGuitar() Config {
	return Config{
		WindowSec:         1.3,
		TickMs:            40,
		FramesConfirm:     3,
		MissCooldownMs:    250,
		SalienceThreshold: 0.2,
		AcceptInversions:  true,
		Policy:            PolicyKOfN,
		AggregatorMaxLen:  5,
	}
}

// withDefaults fills zero values and validates the rest.
func (c Config) withDefaults() (Config, error) {
	d := DefaultGuitar()
	if c.WindowSec == 0 {
		c.WindowSec = d.WindowSec
	}
	if c.TickMs == 0 {
		c.TickMs = d.TickMs
	}
	if c.FramesConfirm == 0 {
		c.FramesConfirm = d.FramesConfirm
	}
	if c.MissCooldownMs == 0 {
		c.MissCooldownMs = d.MissCooldownMs
	}
	if c.SalienceThreshold == 0 {
		c.SalienceThreshold = d.SalienceThreshold
	}
	if c.Policy == "" {
		c.Policy = d.Policy
	}
	if c.AggregatorMaxLen == 0 {
		c.AggregatorMaxLen = d.AggregatorMaxLen
	}
	switch {
	case c.WindowSec <= 0:
		return c, fmt.Errorf("%w: windowSec must be positive", ErrConfigInvalid)
	case c.TickMs <= 0:
		return c, fmt.Errorf("%w: tickMs must be positive", ErrConfigInvalid)
	case c.FramesConfirm < 1:
		return c, fmt.Errorf("%w: framesConfirm must be at least 1", ErrConfigInvalid)
	case c.MissCooldownMs < 0:
		return c, fmt.Errorf("%w: missCooldownMs must not be negative", ErrConfigInvalid)
	case c.AggregatorMaxLen < 3 || c.AggregatorMaxLen > 5:
		return c, fmt.Errorf("%w: aggregatorMaxLen must be 3..5", ErrConfigInvalid)
	}
	switch c.Policy {
	case PolicyKOfN, PolicyIncludesTarget, PolicyBassPriority:
	default:
		return c, fmt.Errorf("%w: unknown policy %q", ErrConfigInvalid, c.Policy)
	}
	return c, nil
}

// effectiveSalienceThreshold applies the CentsTol lookup when set.
func (c Config) effectiveSalienceThreshold() float64 {
	if c.CentsTol <= 0 {
		return c.SalienceThreshold
	}
	switch {
	case c.CentsTol <= 25:
		return 0.4
	case c.CentsTol <= 50:
		return 0.3
	default:
		return 0.2
	}
}
