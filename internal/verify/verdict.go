package verify

import (
	"encoding/json"
	"fmt"

	"github.com/chadiek/fretcheck/internal/chord"
	"github.com/chadiek/fretcheck/internal/transcribe"
)

// Verdict is one event on the result stream. The concrete types are Tick,
// Notes, Match, Miss and Error. Every verdict carries T, seconds since the
// session started, non-decreasing within a session.
type Verdict interface {
	Kind() string
	When() float64
}

// Tick reports one completed inference pass.
type Tick struct {
	T           float64 `json:"t"`
	InferenceMs float64 `json:"inferenceMs"`
}

// Notes carries the raw per-tick detections for optional UI overlays.
type Notes struct {
	T     float64                `json:"t"`
	Notes []transcribe.NoteEvent `json:"notes"`
}

// Match reports a confirmed chord match.
type Match struct {
	T float64 `json:"t"`
}

// Miss reports a failed tick with diagnostic pitch-class sets. Matched and
// Missing partition the expected set.
type Miss struct {
	T       float64            `json:"t"`
	Matched []chord.PitchClass `json:"matched"`
	Missing []chord.PitchClass `json:"missing"`
}

// Error reports a recoverable or fatal failure.
type Error struct {
	T       float64 `json:"t"`
	Message string  `json:"message"`
}

func (v Tick) Kind() string  { return "tick" }
func (v Notes) Kind() string { return "notes" }
func (v Match) Kind() string { return "match" }
func (v Miss) Kind() string  { return "miss" }
func (v Error) Kind() string { return "error" }

func (v Tick) When() float64  { return v.T }
func (v Notes) When() float64 { return v.T }
func (v Match) When() float64 { return v.T }
func (v Miss) When() float64  { return v.T }
func (v Error) When() float64 { return v.T }

// Encode renders a verdict as a kind-tagged JSON object for the UI stream.
func Encode(v Verdict) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	m["kind"] = v.Kind()
	return json.Marshal(m)
}

func (v Miss) String() string {
	return fmt.Sprintf("miss t=%.3f matched=%v missing=%v", v.T, v.Matched, v.Missing)
}
