package verify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chadiek/fretcheck/internal/chord"
	"github.com/chadiek/fretcheck/internal/transcribe"
)

func TestEncodeTagsEveryKind(t *testing.T) {
	verdicts := []Verdict{
		Tick{T: 1.5, InferenceMs: 12.25},
		Notes{T: 1.5, Notes: []transcribe.NoteEvent{{Midi: 52, Salience: 0.7}}},
		Match{T: 2},
		Miss{T: 2.5, Matched: []chord.PitchClass{4}, Missing: []chord.PitchClass{7, 11}},
		Error{T: 3, Message: "boom"},
	}
	for _, v := range verdicts {
		raw, err := Encode(v)
		require.NoError(t, err)

		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		require.Equal(t, v.Kind(), m["kind"])
		require.EqualValues(t, v.When(), m["t"])
	}
}

func TestEncodeMissFields(t *testing.T) {
	raw, err := Encode(Miss{T: 4.25, Matched: []chord.PitchClass{0, 4}, Missing: []chord.PitchClass{7}})
	require.NoError(t, err)

	var m struct {
		Kind    string    `json:"kind"`
		T       float64   `json:"t"`
		Matched []float64 `json:"matched"`
		Missing []float64 `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, "miss", m.Kind)
	require.Equal(t, 4.25, m.T)
	require.Equal(t, []float64{0, 4}, m.Matched)
	require.Equal(t, []float64{7}, m.Missing)
}

func TestVerdictTimestampsExposed(t *testing.T) {
	require.Equal(t, 1.5, Tick{T: 1.5}.When())
	require.Equal(t, 0.0, Match{}.When())
}
