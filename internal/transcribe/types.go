// Package transcribe wraps polyphonic note transcription behind a small
// capability interface so the engine never depends on a concrete model
// runtime.
package transcribe

import (
	"context"
	"errors"
	"fmt"
)

// Model input geometry. The window length is fixed by the pretrained model:
// just under two seconds at 22050 Hz.
const (
	ModelSampleRate    = 22050
	ModelWindowSamples = 43844
	// The model hops 256 samples per activation frame.
	ModelHopSamples = 256
)

// FramesPerSecond is the activation frame rate of the model outputs.
const FramesPerSecond = float64(ModelSampleRate) / float64(ModelHopSamples)

var (
	// ErrInit reports a model that could not be loaded.
	ErrInit = errors.New("transcribe: adapter init failed")
	// ErrEval reports a single failed inference; the caller keeps ticking.
	ErrEval = errors.New("transcribe: evaluation failed")
)

// NoteEvent is one transcribed note inside an analysis window.
type NoteEvent struct {
	// Midi is the integer MIDI number of the note.
	Midi int
	// Start is seconds relative to the window start.
	Start float64
	// End is seconds relative to the window start; only meaningful when
	// EndValid is set (a note may still be sounding at the window edge).
	End      float64
	EndValid bool
	// Salience is the model's peak activation amplitude for the note, in [0,1].
	Salience float64
}

// Adapter is the transcription capability. Evaluate takes exactly
// ModelWindowSamples mono samples at ModelSampleRate; callers with a short
// buffer must zero-pad at the front, callers with a long one must pass the
// trailing subrange.
type Adapter interface {
	Init(ctx context.Context) error
	Evaluate(samples []float32) ([]NoteEvent, error)
	Close() error
}

func checkWindow(samples []float32) error {
	if len(samples) != ModelWindowSamples {
		return fmt.Errorf("%w: window is %d samples, want %d", ErrEval, len(samples), ModelWindowSamples)
	}
	return nil
}
