package transcribe

// The model emits two activation grids per window: frame-level note
// activations and onset activations, both frames x 88 piano keys starting at
// MIDI 21. Note events are built by grouping contiguous active frames per
// key, anchored either to an onset or to enough sustain to rule out a
// single-frame blip.

const (
	activationLowestMidi = 21
	activationNumBins    = 88
)

// ExtractConfig tunes activation-to-event conversion.
type ExtractConfig struct {
	// FrameThreshold is the minimum note activation for a frame to count as
	// active.
	FrameThreshold float64
	// OnsetThreshold is the minimum onset activation anchoring a group.
	OnsetThreshold float64
	// OnsetLookahead is how many frames from the group start an onset may
	// appear and still anchor it.
	OnsetLookahead int
	// SustainFrames accepts an onset-less group once it spans this many
	// frames; a rolling window regularly re-examines notes whose pluck
	// happened before the window began.
	SustainFrames int
	// MinMidi / MaxMidi bound the instrument range.
	MinMidi int
	MaxMidi int
}

// DefaultExtractConfig covers standard-tuned guitar, E2..E6.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		FrameThreshold: 0.3,
		OnsetThreshold: 0.5,
		OnsetLookahead: 3,
		SustainFrames:  8,
		MinMidi:        40,
		MaxMidi:        88,
	}
}

// ExtractEvents converts activation grids to note events. notes and onsets
// are indexed [frame][bin] with bin 0 = MIDI 21. The two grids must have the
// same geometry.
func ExtractEvents(notes, onsets [][]float64, cfg ExtractConfig) []NoteEvent {
	if len(notes) == 0 {
		return nil
	}
	frames := len(notes)
	bins := len(notes[0])
	if bins > activationNumBins {
		bins = activationNumBins
	}
	var out []NoteEvent
	for bin := 0; bin < bins; bin++ {
		midi := activationLowestMidi + bin
		if midi < cfg.MinMidi || midi > cfg.MaxMidi {
			continue
		}
		f := 0
		for f < frames {
			if notes[f][bin] < cfg.FrameThreshold {
				f++
				continue
			}
			start := f
			peak := notes[f][bin]
			for f < frames && notes[f][bin] >= cfg.FrameThreshold {
				if notes[f][bin] > peak {
					peak = notes[f][bin]
				}
				f++
			}
			end := f // one past the last active frame

			anchored := false
			lookahead := start + cfg.OnsetLookahead
			if lookahead > end {
				lookahead = end
			}
			for o := start; o < lookahead && o < len(onsets); o++ {
				if bin < len(onsets[o]) && onsets[o][bin] >= cfg.OnsetThreshold {
					anchored = true
					break
				}
			}
			if !anchored && end-start < cfg.SustainFrames {
				continue
			}

			ev := NoteEvent{
				Midi:     midi,
				Start:    float64(start) / FramesPerSecond,
				Salience: peak,
			}
			if end < frames {
				ev.End = float64(end) / FramesPerSecond
				ev.EndValid = true
			}
			out = append(out, ev)
		}
	}
	return out
}
