package transcribe

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/cwbudde/algo-fft"
)

// Spectral is a model-free Adapter built on an averaged STFT and iterative
// harmonic-sum pitch salience. It honors the same contract as the pretrained
// model and keeps the verifier usable when the artifact is absent; it is also
// what the integration tests drive with synthesized audio.
type Spectral struct {
	cfg SpectralConfig

	plan   *algofft.PlanReal64
	hann   []float64
	buf    []float64
	spec   []complex128
	avgMag []float64
}

// SpectralConfig tunes the fallback analyzer.
type SpectralConfig struct {
	FFTSize int
	HopSize int
	// MaxVoices bounds the iterative peak picking.
	MaxVoices int
	// MinRelSalience stops the iteration once the best remaining candidate
	// falls below this fraction of the strongest one.
	MinRelSalience float64
	// Harmonics summed per candidate, weighted 1/h.
	Harmonics int
	MinMidi   int
	MaxMidi   int
	A4Hz      float64
}

// DefaultSpectralConfig covers six-string guitar in standard tuning.
func DefaultSpectralConfig() SpectralConfig {
	return SpectralConfig{
		FFTSize:        16384,
		HopSize:        8192,
		MaxVoices:      6,
		MinRelSalience: 0.15,
		Harmonics:      6,
		MinMidi:        40, // E2
		MaxMidi:        88, // E6
		A4Hz:           440,
	}
}

// NewSpectral constructs the analyzer; Init builds the FFT plan.
func NewSpectral(cfg SpectralConfig) *Spectral {
	return &Spectral{cfg: cfg}
}

func (s *Spectral) Init(ctx context.Context) error {
	if s.plan != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	plan, err := algofft.NewPlanReal64(s.cfg.FFTSize)
	if err != nil {
		return fmt.Errorf("%w: fft plan: %v", ErrInit, err)
	}
	s.plan = plan
	s.hann = make([]float64, s.cfg.FFTSize)
	for i := range s.hann {
		s.hann[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(s.cfg.FFTSize-1))
	}
	s.buf = make([]float64, s.cfg.FFTSize)
	s.spec = make([]complex128, s.cfg.FFTSize/2+1)
	s.avgMag = make([]float64, s.cfg.FFTSize/2)
	return nil
}

func (s *Spectral) Close() error { return nil }

// Evaluate analyzes one model-rate window.
func (s *Spectral) Evaluate(samples []float32) ([]NoteEvent, error) {
	if s.plan == nil {
		return nil, fmt.Errorf("%w: adapter not initialized", ErrEval)
	}
	if err := checkWindow(samples); err != nil {
		return nil, err
	}

	// Average magnitude spectrum over hopped frames.
	for i := range s.avgMag {
		s.avgMag[i] = 0
	}
	frames := 0
	for pos := 0; pos+s.cfg.FFTSize <= len(samples); pos += s.cfg.HopSize {
		for i := 0; i < s.cfg.FFTSize; i++ {
			s.buf[i] = float64(samples[pos+i]) * s.hann[i]
		}
		s.plan.Forward(s.spec, s.buf)
		for k := 1; k < len(s.avgMag); k++ {
			s.avgMag[k] += cmplx.Abs(s.spec[k])
		}
		frames++
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w: window shorter than fft size", ErrEval)
	}
	scale := 1.0 / float64(frames)
	for k := range s.avgMag {
		s.avgMag[k] *= scale
	}

	return s.pickNotes(), nil
}

// pickNotes runs iterative harmonic-sum salience with spectral subtraction:
// accept the strongest candidate, remove its harmonic energy, repeat.
func (s *Spectral) pickNotes() []NoteEvent {
	binHz := float64(ModelSampleRate) / float64(s.cfg.FFTSize)
	windowDur := float64(ModelWindowSamples) / float64(ModelSampleRate)

	salience := func(midi int) float64 {
		f0 := s.cfg.A4Hz * math.Pow(2, float64(midi-69)/12)
		var sum float64
		for h := 1; h <= s.cfg.Harmonics; h++ {
			sum += s.peakMag(float64(h)*f0/binHz) / float64(h)
		}
		return sum
	}

	var norm float64 // strongest first-pass salience, fixed for the window
	for midi := s.cfg.MinMidi; midi <= s.cfg.MaxMidi; midi++ {
		if v := salience(midi); v > norm {
			norm = v
		}
	}
	if norm < 1e-9 {
		return nil // silence
	}

	var out []NoteEvent
	for len(out) < s.cfg.MaxVoices {
		best, bestVal := -1, 0.0
		for midi := s.cfg.MinMidi; midi <= s.cfg.MaxMidi; midi++ {
			if v := salience(midi); v > bestVal {
				best, bestVal = midi, v
			}
		}
		rel := bestVal / norm
		if best < 0 || rel < s.cfg.MinRelSalience {
			break
		}
		if rel > 1 {
			rel = 1
		}
		out = append(out, NoteEvent{
			Midi:     best,
			Start:    0,
			End:      windowDur,
			EndValid: true,
			Salience: rel,
		})
		s.subtractHarmonics(best, binHz)
	}
	return out
}

// peakMag returns the largest magnitude within the candidate's bin
// neighborhood (about half a semitone, never less than one bin).
func (s *Spectral) peakMag(bin float64) float64 {
	center := int(math.Round(bin))
	radius := int(bin*0.029) + 1
	var peak float64
	for k := center - radius; k <= center+radius; k++ {
		if k < 1 || k >= len(s.avgMag) {
			continue
		}
		if s.avgMag[k] > peak {
			peak = s.avgMag[k]
		}
	}
	return peak
}

func (s *Spectral) subtractHarmonics(midi int, binHz float64) {
	f0 := s.cfg.A4Hz * math.Pow(2, float64(midi-69)/12)
	for h := 1; h <= s.cfg.Harmonics; h++ {
		bin := float64(h) * f0 / binHz
		center := int(math.Round(bin))
		radius := int(bin*0.029) + 1
		for k := center - radius; k <= center+radius; k++ {
			if k >= 1 && k < len(s.avgMag) {
				s.avgMag[k] = 0
			}
		}
	}
}
