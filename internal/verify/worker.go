package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/chadiek/fretcheck/internal/dsp"
	"github.com/chadiek/fretcheck/internal/ringbuf"
	"github.com/chadiek/fretcheck/internal/transcribe"
)

// tickWorker runs the inference loop: every tick it snapshots the latest
// window from the ring buffer, resamples to the model rate, evaluates the
// adapter, feeds the aggregator and the policy, and dispatches verdicts.
// Everything it touches besides the ring is private to this goroutine.
type tickWorker struct {
	e    *Engine
	ring *ringbuf.Ring

	windowBuf    []float32 // device-rate rolling window, reused every tick
	resampledBuf []float32 // model-rate window, reused
	modelBuf     []float32 // exactly the model input length
	resampler    *dsp.Resampler

	agg    *aggregator
	policy *policyRunner
}

func newTickWorker(e *Engine, deviceRate int, ring *ringbuf.Ring) (*tickWorker, error) {
	resampler, err := dsp.NewResampler(deviceRate, transcribe.ModelSampleRate, e.cfg.ResampleQuality)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return &tickWorker{
		e:            e,
		ring:         ring,
		windowBuf:    make([]float32, dsp.WindowSamples(e.cfg.WindowSec, deviceRate)),
		resampledBuf: make([]float32, dsp.WindowSamples(e.cfg.WindowSec, transcribe.ModelSampleRate)),
		modelBuf:     make([]float32, transcribe.ModelWindowSamples),
		resampler:    resampler,
		agg:          newAggregator(e.cfg.AggregatorMaxLen),
		policy:       newPolicyRunner(e.cfg),
	}, nil
}

func (w *tickWorker) run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.e.cfg.TickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case spec := <-w.e.specCh:
			w.policy.setExpected(spec)
		case <-ticker.C:
			// Single-flight falls out of running the pass inline: a tick
			// that outlives its period leaves at most one tick pending on
			// the channel, and the rest drop rather than queue.
			w.drainSpec()
			w.tick()
		}
	}
}

// drainSpec applies a pending target change at the tick boundary.
func (w *tickWorker) drainSpec() {
	select {
	case spec := <-w.e.specCh:
		w.policy.setExpected(spec)
	default:
	}
}

func (w *tickWorker) tick() {
	w.ring.ReadLatest(len(w.windowBuf), w.windowBuf)
	w.resampler.Process(w.windowBuf, w.resampledBuf)

	// The model expects a fixed window: short input is front-padded with
	// zeros, long input contributes its trailing subrange.
	if n := len(w.resampledBuf); n < len(w.modelBuf) {
		pad := len(w.modelBuf) - n
		for i := 0; i < pad; i++ {
			w.modelBuf[i] = 0
		}
		copy(w.modelBuf[pad:], w.resampledBuf)
	} else {
		copy(w.modelBuf, w.resampledBuf[n-len(w.modelBuf):])
	}

	t0 := time.Now()
	notes, err := w.e.adapter.Evaluate(w.modelBuf)
	elapsed := time.Since(t0)
	t := w.e.now()
	if err != nil {
		w.e.emit(Error{T: t, Message: err.Error()})
		return
	}

	fused := w.agg.push(notes)
	w.e.emit(Notes{T: t, Notes: notes})
	w.e.emit(Tick{T: t, InferenceMs: float64(elapsed.Microseconds()) / 1000})
	for _, v := range w.policy.apply(fused, t) {
		w.e.emit(v)
	}
}
