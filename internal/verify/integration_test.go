package verify

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/chadiek/fretcheck/internal/transcribe"
)

// toneSource pretends to be a microphone hearing sustained sine voicings at
// the model rate: it pushes the whole buffer up front and the ring buffer's
// rolling window does the rest.
type toneSource struct {
	samples []float32
}

func (s *toneSource) Open(ctx context.Context) (int, error) {
	return transcribe.ModelSampleRate, nil
}

func (s *toneSource) Start(onSamples func([]float32), onErr func(error)) error {
	onSamples(s.samples)
	return nil
}

func (s *toneSource) Stop() error { return nil }

func sineVoicing(midis ...int) []float32 {
	out := make([]float32, transcribe.ModelWindowSamples)
	amp := 0.8 / float64(len(midis))
	for _, m := range midis {
		hz := 440 * math.Pow(2, float64(m-69)/12)
		for i := range out {
			out[i] += float32(amp * math.Sin(2*math.Pi*hz*float64(i)/transcribe.ModelSampleRate))
		}
	}
	return out
}

func startSpectralEngine(t *testing.T, midis ...int) (*Engine, *collector) {
	t.Helper()
	adapter := transcribe.NewSpectral(transcribe.DefaultSpectralConfig())
	cfg := DefaultGuitar()
	cfg.TickMs = 20
	cfg.MissCooldownMs = 60
	e, err := New(cfg, adapter, &toneSource{samples: sineVoicing(midis...)})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	col := &collector{}
	e.OnResult(col.add)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, col
}

func TestPipelineConfirmsEMinorFromAudio(t *testing.T) {
	e, col := startSpectralEngine(t, 52, 55, 59) // E3 G3 B3
	if err := e.SetExpected(mustSpec(t, "E G B", 2, "E")); err != nil {
		t.Fatalf("set expected: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return col.count("match") >= 1 })

	time.Sleep(300 * time.Millisecond)
	if n := col.count("match"); n != 1 {
		t.Fatalf("sustained audio must confirm once, got %d", n)
	}
}

func TestPipelineReportsMissingNoteFromAudio(t *testing.T) {
	e, col := startSpectralEngine(t, 52, 55) // E3 G3, no B
	if err := e.SetExpected(mustSpec(t, "E G B", 3, "E")); err != nil {
		t.Fatalf("set expected: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return col.count("miss") >= 2 })

	if col.count("match") != 0 {
		t.Fatalf("partial voicing must not match")
	}
	for _, v := range col.snapshot() {
		if miss, ok := v.(Miss); ok {
			if !pcsEqual(miss.Matched, 4, 7) || !pcsEqual(miss.Missing, 11) {
				t.Fatalf("bad diagnostics from audio path: %v", miss)
			}
		}
	}
}

func TestPipelineSilenceNeverMatches(t *testing.T) {
	e, col := startSpectralEngine(t) // no tones at all
	if err := e.SetExpected(mustSpec(t, "E G B", 2, "E")); err != nil {
		t.Fatalf("set expected: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return col.count("miss") >= 2 })
	if col.count("match") != 0 {
		t.Fatalf("silence must never match")
	}
}
