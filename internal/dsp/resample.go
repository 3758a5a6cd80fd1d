// Package dsp holds the small amount of signal plumbing between capture and
// the transcription model: channel mixdown and sample-rate conversion.
package dsp

import (
	"fmt"
	"math"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
)

// Quality selects the resampling algorithm.
type Quality int

const (
	// QualityLinear is deterministic O(n) linear interpolation. The model's
	// 1.3 s context dominates aliasing concerns at guitar pitches.
	QualityLinear Quality = iota
	// QualityBest delegates to the polyphase resampler from algo-dsp.
	QualityBest
)

// Linear resamples in (at inRate) into out (at outRate) by linear
// interpolation. Boundary reads clamp to the last input sample. Equal rates
// produce an exact copy over min(len(in), len(out)) samples.
func Linear(in []float32, inRate int, out []float32, outRate int) {
	if len(in) == 0 || len(out) == 0 {
		return
	}
	if inRate == outRate {
		n := len(out)
		if len(in) < n {
			n = len(in)
		}
		copy(out[:n], in[:n])
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		return
	}
	ratio := float64(inRate) / float64(outRate)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx] + (in[idx+1]-in[idx])*frac
	}
}

// Resampler converts a fixed-size device-rate window into a fixed-size
// model-rate window every tick. Scratch buffers are allocated once.
type Resampler struct {
	inRate  int
	outRate int
	quality Quality

	best  *dspresample.Resampler
	in64  []float64
	out64 []float64
}

// NewResampler builds a converter for the given rates.
func NewResampler(inRate, outRate int, q Quality) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("dsp: bad rates %d -> %d", inRate, outRate)
	}
	r := &Resampler{inRate: inRate, outRate: outRate, quality: q}
	if q == QualityBest && inRate != outRate {
		best, err := dspresample.NewForRates(
			float64(inRate),
			float64(outRate),
			dspresample.WithQuality(dspresample.QualityBest),
		)
		if err != nil {
			return nil, fmt.Errorf("dsp: resampler init: %w", err)
		}
		r.best = best
	}
	return r, nil
}

// Process fills out from in. The output length is fixed by the caller's
// buffer; the quality path is trimmed or zero-padded to it so both paths
// honor the same contract.
func (r *Resampler) Process(in []float32, out []float32) {
	if r.best == nil {
		Linear(in, r.inRate, out, r.outRate)
		return
	}
	if cap(r.in64) < len(in) {
		r.in64 = make([]float64, len(in))
	}
	r.in64 = r.in64[:len(in)]
	for i, s := range in {
		r.in64[i] = float64(s)
	}
	r.out64 = r.best.Process(r.in64)
	n := len(out)
	if len(r.out64) < n {
		n = len(r.out64)
	}
	for i := 0; i < n; i++ {
		out[i] = float32(r.out64[i])
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// MixMono reduces interleaved multi-channel samples to mono by arithmetic
// mean. dst must hold len(interleaved)/channels samples; the filled prefix
// of dst is returned. channels <= 1 copies through.
func MixMono(dst []float32, interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		n := copy(dst, interleaved)
		return dst[:n]
	}
	frames := len(interleaved) / channels
	if frames > len(dst) {
		frames = len(dst)
	}
	inv := 1 / float32(channels)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += interleaved[base+c]
		}
		dst[i] = sum * inv
	}
	return dst[:frames]
}

// WindowSamples is the sample count of a windowSec rolling window at rate,
// rounded up. The epsilon keeps binary representations of values like 1.3
// from tipping an exact product over the next integer.
func WindowSamples(windowSec float64, rate int) int {
	return int(math.Ceil(windowSec*float64(rate) - 1e-6))
}
