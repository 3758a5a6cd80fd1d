package verify

import (
	"sort"

	"github.com/chadiek/fretcheck/internal/transcribe"
)

// aggregator fuses the last few tick outputs: duplicates (same MIDI) across
// the retained ticks collapse to one note whose salience is the mean over the
// ticks that reported it. A note reported by a single tick keeps that tick's
// salience until it ages out of the history.
type aggregator struct {
	maxLen int
	ticks  [][]transcribe.NoteEvent
}

func newAggregator(maxLen int) *aggregator {
	return &aggregator{maxLen: maxLen}
}

// push appends one tick's notes and returns the fused view over the history.
func (a *aggregator) push(notes []transcribe.NoteEvent) []transcribe.NoteEvent {
	a.ticks = append(a.ticks, notes)
	if len(a.ticks) > a.maxLen {
		a.ticks = a.ticks[1:]
	}

	type acc struct {
		salience float64
		count    int
		latest   transcribe.NoteEvent
	}
	byMidi := make(map[int]*acc)
	for _, tick := range a.ticks {
		for _, n := range tick {
			e, ok := byMidi[n.Midi]
			if !ok {
				e = &acc{}
				byMidi[n.Midi] = e
			}
			e.salience += n.Salience
			e.count++
			e.latest = n
		}
	}

	out := make([]transcribe.NoteEvent, 0, len(byMidi))
	for midi, e := range byMidi {
		n := e.latest
		n.Midi = midi
		n.Salience = e.salience / float64(e.count)
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Midi < out[j].Midi })
	return out
}

// reset drops the history. A change of expected chord does not call it; the
// history carries over.
func (a *aggregator) reset() { a.ticks = a.ticks[:0] }
