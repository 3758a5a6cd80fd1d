package dsp

import (
	"math"
	"testing"
)

func TestLinearIdentityOnEqualRates(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, 0.4}
	out := make([]float32, 4)
	Linear(in, 44100, out, 44100)
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestLinearInterpolatesMidpoints(t *testing.T) {
	// Downsampling 2:1 with a ramp lands exactly on every other sample.
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	out := make([]float32, 4)
	Linear(in, 2, out, 1)
	for i, want := range []float32{0, 2, 4, 6} {
		if out[i] != want {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want)
		}
	}

	// Upsampling 1:2 interpolates halfway between neighbours.
	up := make([]float32, 8)
	Linear([]float32{0, 1, 2, 3}, 1, up, 2)
	for i, want := range []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3} {
		if up[i] != want {
			t.Fatalf("up[%d] = %v, want %v", i, up[i], want)
		}
	}
}

func TestLinearClampsAtBoundary(t *testing.T) {
	in := []float32{1, 2}
	out := make([]float32, 6)
	Linear(in, 1, out, 2)
	if out[len(out)-1] != 2 {
		t.Fatalf("tail must clamp to last input, got %v", out[len(out)-1])
	}
}

func TestResamplerPreservesSineFrequency(t *testing.T) {
	const (
		inRate  = 44100
		outRate = 22050
		hz      = 440.0
	)
	in := make([]float32, inRate/10)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * hz * float64(i) / inRate))
	}
	out := make([]float32, outRate/10)

	r, err := NewResampler(inRate, outRate, QualityLinear)
	if err != nil {
		t.Fatalf("new resampler: %v", err)
	}
	r.Process(in, out)

	// Compare against an ideal sine at the output rate; linear interpolation
	// of a 440 Hz tone at 22050 Hz stays well within a few percent.
	var maxErr float64
	for i := 0; i < len(out)-1; i++ {
		ideal := math.Sin(2 * math.Pi * hz * float64(i) / outRate)
		if d := math.Abs(float64(out[i]) - ideal); d > maxErr {
			maxErr = d
		}
	}
	if maxErr > 0.05 {
		t.Fatalf("resampled sine deviates too much: %v", maxErr)
	}
}

func TestMixMono(t *testing.T) {
	dst := make([]float32, 4)
	got := MixMono(dst, []float32{1, 3, -2, 2, 0, 1}, 2)
	want := []float32{2, 0, 0.5}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	mono := MixMono(dst, []float32{0.5, 0.25}, 1)
	if len(mono) != 2 || mono[0] != 0.5 || mono[1] != 0.25 {
		t.Fatalf("mono passthrough broken: %v", mono)
	}
}

func TestWindowSamples(t *testing.T) {
	if got := WindowSamples(1.3, 44100); got != 57330 {
		t.Fatalf("1.3s at 44100 = %d, want 57330", got)
	}
	if got := WindowSamples(1.3, 48000); got != 62400 {
		t.Fatalf("1.3s at 48000 = %d, want 62400", got)
	}
	// ceil behavior
	if got := WindowSamples(0.0001, 44100); got != 5 {
		t.Fatalf("ceil(4.41) = %d, want 5", got)
	}
}
