// Package chord models pitch classes and the chord specs the verifier is
// asked to confirm.
package chord

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// PitchClass is a note letter regardless of octave: 0 = C .. 11 = B.
type PitchClass int

var pcNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func (p PitchClass) String() string {
	if p < 0 || p > 11 {
		return fmt.Sprintf("PitchClass(%d)", int(p))
	}
	return pcNames[p]
}

// FromMidi reduces a MIDI number to its pitch class. Works for any integer,
// including negatives after transposition.
func FromMidi(midi int) PitchClass {
	return PitchClass(((midi % 12) + 12) % 12)
}

// ParsePitchClass accepts note letters with optional # or b ("E", "F#", "Bb").
func ParsePitchClass(s string) (PitchClass, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, errors.New("chord: empty note name")
	}
	base := strings.ToUpper(t[:1])
	var pc int
	switch base {
	case "C":
		pc = 0
	case "D":
		pc = 2
	case "E":
		pc = 4
	case "F":
		pc = 5
	case "G":
		pc = 7
	case "A":
		pc = 9
	case "B":
		pc = 11
	default:
		return 0, fmt.Errorf("chord: unknown note name %q", s)
	}
	for _, r := range t[1:] {
		switch r {
		case '#':
			pc++
		case 'b':
			pc--
		default:
			return 0, fmt.Errorf("chord: unknown accidental in %q", s)
		}
	}
	return FromMidi(pc), nil
}

// Spec is the verification target: the set of expected pitch classes, the
// number k of them that must be heard, and an optional root for inversion
// and bass checks.
type Spec struct {
	PCs     []PitchClass
	K       int
	Root    PitchClass
	HasRoot bool
}

var (
	ErrEmptySpec = errors.New("chord: spec needs at least one pitch class")
	ErrBadK      = errors.New("chord: k must be between 1 and the number of pitch classes")
	ErrBadRoot   = errors.New("chord: root must be one of the spec pitch classes")
)

// NewSpec builds a validated spec. Duplicate pitch classes are collapsed;
// the caller's order is preserved because the first listed pitch class is
// the fallback root. k == 0 selects the default min(2, |pcs|).
func NewSpec(pcs []PitchClass, k int, root *PitchClass) (Spec, error) {
	seen := make(map[PitchClass]bool, len(pcs))
	var uniq []PitchClass
	for _, pc := range pcs {
		pc = FromMidi(int(pc))
		if !seen[pc] {
			seen[pc] = true
			uniq = append(uniq, pc)
		}
	}
	if len(uniq) == 0 {
		return Spec{}, ErrEmptySpec
	}
	if k == 0 {
		k = 2
		if len(uniq) < 2 {
			k = len(uniq)
		}
	}
	if k < 1 || k > len(uniq) {
		return Spec{}, ErrBadK
	}
	s := Spec{PCs: uniq, K: k}
	if root != nil {
		r := FromMidi(int(*root))
		if !seen[r] {
			return Spec{}, ErrBadRoot
		}
		s.Root = r
		s.HasRoot = true
	}
	return s, nil
}

// ParseSpec parses a whitespace- or comma-separated note list, e.g.
// "E G B" or "C,E,G". k and root follow NewSpec semantics; root may be "".
func ParseSpec(notes string, k int, root string) (Spec, error) {
	fields := strings.FieldsFunc(notes, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	var pcs []PitchClass
	for _, f := range fields {
		pc, err := ParsePitchClass(f)
		if err != nil {
			return Spec{}, err
		}
		pcs = append(pcs, pc)
	}
	var rootPC *PitchClass
	if strings.TrimSpace(root) != "" {
		pc, err := ParsePitchClass(root)
		if err != nil {
			return Spec{}, err
		}
		rootPC = &pc
	}
	return NewSpec(pcs, k, rootPC)
}

// Contains reports whether pc is part of the spec.
func (s Spec) Contains(pc PitchClass) bool {
	for _, p := range s.PCs {
		if p == pc {
			return true
		}
	}
	return false
}

// EffectiveRoot is the explicit root when set, otherwise the first pitch
// class the caller listed.
func (s Spec) EffectiveRoot() PitchClass {
	if s.HasRoot {
		return s.Root
	}
	return s.PCs[0]
}

// Equal reports whether two specs describe the same target: same pitch-class
// set, same k, the same effective root, and either both or neither with an
// explicit root. With an explicit root the
// listing order is irrelevant; without one it matters exactly as far as it
// changes the fallback root.
func (s Spec) Equal(o Spec) bool {
	if s.K != o.K || s.HasRoot != o.HasRoot || len(s.PCs) != len(o.PCs) {
		return false
	}
	if s.EffectiveRoot() != o.EffectiveRoot() {
		return false
	}
	for _, pc := range s.PCs {
		if !o.Contains(pc) {
			return false
		}
	}
	return true
}

func (s Spec) String() string {
	names := make([]string, len(s.PCs))
	for i, pc := range s.PCs {
		names[i] = pc.String()
	}
	out := strings.Join(names, " ")
	if s.HasRoot {
		out += "/" + s.Root.String()
	}
	return fmt.Sprintf("%s (k=%d)", out, s.K)
}

// MidiToHz converts a MIDI number to frequency for the given tuning
// reference (69 = A4 at a4Hz).
func MidiToHz(midi int, a4Hz float64) float64 {
	return a4Hz * math.Pow(2, float64(midi-69)/12)
}

// HzToMidi converts a frequency to the nearest fractional MIDI number.
func HzToMidi(hz float64, a4Hz float64) float64 {
	return 69 + 12*math.Log2(hz/a4Hz)
}
