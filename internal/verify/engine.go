package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chadiek/fretcheck/internal/capture"
	"github.com/chadiek/fretcheck/internal/chord"
	"github.com/chadiek/fretcheck/internal/dsp"
	"github.com/chadiek/fretcheck/internal/ringbuf"
	"github.com/chadiek/fretcheck/internal/transcribe"
)

// Engine is the verifier controller. It owns the capture source, the shared
// ring buffer, the tick worker, and the policy state; the adapter owns its
// model resources. All verdict callbacks run on the worker goroutine.
type Engine struct {
	cfg     Config
	adapter transcribe.Adapter
	source  capture.Source

	mu        sync.Mutex
	status    Status
	started   bool
	callbacks []func(Verdict)
	cancel    context.CancelFunc
	workerEnd chan struct{}

	// specCh is a latest-wins mailbox from the controller to the worker;
	// a new target takes effect at the next tick boundary.
	specCh chan chord.Spec

	sessionStart time.Time
	lastT        float64
}

// New builds an engine over an adapter and a capture source.
func New(cfg Config, adapter transcribe.Adapter, source capture.Source) (*Engine, error) {
	full, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: nil adapter", ErrConfigInvalid)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: nil capture source", ErrConfigInvalid)
	}
	return &Engine{
		cfg:     full,
		adapter: adapter,
		source:  source,
		status:  StatusIdle,
		specCh:  make(chan chord.Spec, 1),
	}, nil
}

// Status reports the controller state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// OnResult subscribes to the verdict stream. Callbacks are invoked from the
// inference worker and must return promptly.
func (e *Engine) OnResult(fn func(Verdict)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, fn)
}

// SetExpected atomically replaces the verification target; confirmation
// state resets and the new spec applies from the next tick. May be called
// before Start. Setting an equal spec twice is equivalent to setting it
// once.
func (e *Engine) SetExpected(spec chord.Spec) error {
	if len(spec.PCs) == 0 {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, chord.ErrEmptySpec)
	}
	if spec.K < 1 || spec.K > len(spec.PCs) {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, chord.ErrBadK)
	}
	// Replace any undelivered target; only the latest matters.
	for {
		select {
		case e.specCh <- spec:
			return nil
		default:
			select {
			case <-e.specCh:
			default:
			}
		}
	}
}

// Start acquires the capture source, sizes the ring buffer for the rolling
// window plus slack, warms the adapter with one silent window, and launches
// the tick worker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status == StatusListening || e.status == StatusLoading {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusLoading
	e.mu.Unlock()

	fail := func(err error) error {
		e.mu.Lock()
		e.status = StatusError
		e.mu.Unlock()
		return err
	}

	rate, err := e.source.Open(ctx)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrPermissionDenied):
			return fail(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
		default:
			return fail(fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
		}
	}

	// The source is open from here on; failures below must release it.
	failOpen := func(err error) error {
		_ = e.source.Stop()
		return fail(err)
	}

	ring, err := ringbuf.New(dsp.WindowSamples(e.cfg.WindowSec+0.5, rate))
	if err != nil {
		return failOpen(fmt.Errorf("%w: %v", ErrConfigInvalid, err))
	}

	if err := e.adapter.Init(ctx); err != nil {
		return failOpen(fmt.Errorf("%w: %v", ErrAdapterInit, err))
	}
	// Warm-up: one inference over silence so the first real tick does not
	// pay first-run costs. A failing warm-up is not fatal; the scheduler
	// reports per-tick errors as verdicts.
	if _, err := e.adapter.Evaluate(make([]float32, transcribe.ModelWindowSamples)); err != nil {
		log.Printf("engine: warm-up inference failed: %v", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	w, err := newTickWorker(e, rate, ring)
	if err != nil {
		cancel()
		return failOpen(err)
	}

	if err := e.source.Start(ring.Write, func(srcErr error) {
		e.emit(Error{T: e.now(), Message: srcErr.Error()})
		e.mu.Lock()
		e.status = StatusError
		e.mu.Unlock()
		cancel()
	}); err != nil {
		cancel()
		switch {
		case errors.Is(err, capture.ErrPermissionDenied):
			return failOpen(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
		default:
			return failOpen(fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
		}
	}

	e.mu.Lock()
	e.started = true
	e.cancel = cancel
	e.workerEnd = make(chan struct{})
	e.sessionStart = time.Now()
	e.lastT = 0
	e.status = StatusListening
	e.mu.Unlock()

	go func() {
		defer close(e.workerEnd)
		w.run(workerCtx)
	}()
	log.Printf("engine: listening rate=%d window=%.2fs tick=%dms", rate, e.cfg.WindowSec, e.cfg.TickMs)
	return nil
}

// Stop cancels the scheduler, releases the device, and drops the ring
// buffer. Idempotent; a second call has no observable effect. In-flight
// inference is allowed to finish but its verdicts are discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	workerEnd := e.workerEnd
	e.cancel = nil
	e.workerEnd = nil
	wasRunning := e.started
	e.started = false
	e.status = StatusIdle
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if workerEnd != nil {
		<-workerEnd
	}
	if wasRunning {
		_ = e.source.Stop()
		if err := e.adapter.Close(); err != nil {
			log.Printf("engine: adapter close: %v", err)
		}
	}
}

// now returns session seconds, monotone across one session.
func (e *Engine) now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionStart.IsZero() {
		return e.lastT
	}
	t := time.Since(e.sessionStart).Seconds()
	if t < e.lastT {
		t = e.lastT
	}
	e.lastT = t
	return t
}

// emit dispatches one verdict to every subscriber. Worker goroutine only
// (plus fatal source errors).
func (e *Engine) emit(v Verdict) {
	e.mu.Lock()
	cbs := e.callbacks
	status := e.status
	e.mu.Unlock()
	if status != StatusListening && status != StatusError {
		return
	}
	for _, fn := range cbs {
		fn(v)
	}
}
