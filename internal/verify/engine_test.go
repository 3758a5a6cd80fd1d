package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chadiek/fretcheck/internal/capture"
	"github.com/chadiek/fretcheck/internal/transcribe"
)

// fakeSource satisfies capture.Source without touching real hardware. The
// ring buffer zero-pads reads, so a source that never produces samples is a
// perfectly silent microphone.
type fakeSource struct {
	rate    int
	openErr error

	mu      sync.Mutex
	started int
	stopped int
	onErr   func(error)
}

func (f *fakeSource) Open(ctx context.Context) (int, error) {
	if f.openErr != nil {
		return 0, f.openErr
	}
	return f.rate, nil
}

func (f *fakeSource) Start(onSamples func([]float32), onErr func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.onErr = onErr
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSource) failNow(err error) {
	f.mu.Lock()
	fn := f.onErr
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// scriptAdapter returns whatever note list it is currently scripted with.
type scriptAdapter struct {
	mu       sync.Mutex
	notes    []transcribe.NoteEvent
	delay    time.Duration
	failures int
	evals    int
}

func (a *scriptAdapter) Init(ctx context.Context) error { return nil }
func (a *scriptAdapter) Close() error                   { return nil }

func (a *scriptAdapter) set(notes []transcribe.NoteEvent) {
	a.mu.Lock()
	a.notes = notes
	a.mu.Unlock()
}

func (a *scriptAdapter) Evaluate(samples []float32) ([]transcribe.NoteEvent, error) {
	a.mu.Lock()
	a.evals++
	notes := append([]transcribe.NoteEvent(nil), a.notes...)
	delay := a.delay
	fail := a.failures > 0
	if fail {
		a.failures--
	}
	a.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, fmt.Errorf("%w: scripted failure", transcribe.ErrEval)
	}
	return notes, nil
}

// collector gathers verdicts across goroutines.
type collector struct {
	mu sync.Mutex
	vs []Verdict
}

func (c *collector) add(v Verdict) {
	c.mu.Lock()
	c.vs = append(c.vs, v)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Verdict(nil), c.vs...)
}

func (c *collector) count(kind string) int {
	n := 0
	for _, v := range c.snapshot() {
		if v.Kind() == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func fastConfig() Config {
	c := DefaultGuitar()
	c.TickMs = 5
	c.MissCooldownMs = 40
	return c
}

func startEngine(t *testing.T, cfg Config, a *scriptAdapter) (*Engine, *collector, *fakeSource) {
	t.Helper()
	src := &fakeSource{rate: transcribe.ModelSampleRate}
	e, err := New(cfg, a, src)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	col := &collector{}
	e.OnResult(col.add)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, col, src
}

func TestEngineSustainedChordMatchesOnce(t *testing.T) {
	a := &scriptAdapter{}
	a.set(notesAt(0.8, 52, 55, 59)) // E minor voicing
	e, col, _ := startEngine(t, fastConfig(), a)

	if err := e.SetExpected(mustSpec(t, "E G B", 2, "E")); err != nil {
		t.Fatalf("set expected: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return col.count("match") >= 1 })

	// Keep sustaining; the cooldown must hold the line at one match.
	time.Sleep(150 * time.Millisecond)
	if n := col.count("match"); n != 1 {
		t.Fatalf("expected exactly one match during sustain, got %d", n)
	}
	if col.count("tick") == 0 || col.count("notes") == 0 {
		t.Fatalf("tick/notes verdicts must flow while listening")
	}
	if e.Status() != StatusListening {
		t.Fatalf("status = %v, want listening", e.Status())
	}
}

func TestEngineVerdictTimesMonotone(t *testing.T) {
	a := &scriptAdapter{}
	a.set(notesAt(0.8, 52, 55))
	e, col, _ := startEngine(t, fastConfig(), a)
	_ = e.SetExpected(mustSpec(t, "E G B", 2, "E"))

	waitFor(t, 2*time.Second, func() bool { return len(col.snapshot()) > 20 })
	vs := col.snapshot()
	for i := 1; i < len(vs); i++ {
		if vs[i].When() < vs[i-1].When() {
			t.Fatalf("timestamps regressed: %v then %v", vs[i-1].When(), vs[i].When())
		}
	}
}

func TestEngineMissDiagnosticsAndCooldown(t *testing.T) {
	a := &scriptAdapter{}
	a.set(notesAt(0.8, 52, 55)) // E3 G3 only
	e, col, _ := startEngine(t, fastConfig(), a)
	_ = e.SetExpected(mustSpec(t, "E G B", 3, "E"))

	waitFor(t, 2*time.Second, func() bool { return col.count("miss") >= 3 })
	var last float64
	first := true
	for _, v := range col.snapshot() {
		miss, ok := v.(Miss)
		if !ok {
			continue
		}
		if !pcsEqual(miss.Matched, 4, 7) || !pcsEqual(miss.Missing, 11) {
			t.Fatalf("bad diagnostics: %v", miss)
		}
		if !first && miss.T-last < 0.040-1e-9 {
			t.Fatalf("miss cooldown violated: %v after %v", miss.T, last)
		}
		last, first = miss.T, false
	}
	if col.count("match") != 0 {
		t.Fatalf("partial chord must never match")
	}
}

func TestEngineAdapterErrorsAreRecoverable(t *testing.T) {
	a := &scriptAdapter{failures: 6} // warm-up plus the first ticks
	a.set(notesAt(0.8, 52, 55, 59))
	e, col, _ := startEngine(t, fastConfig(), a)
	_ = e.SetExpected(mustSpec(t, "E G B", 2, "E"))

	waitFor(t, 2*time.Second, func() bool {
		return col.count("error") >= 1 && col.count("match") >= 1
	})
	if e.Status() != StatusListening {
		t.Fatalf("eval failures must not kill the session, status = %v", e.Status())
	}
}

func TestEngineSingleFlightDropsOverrunTicks(t *testing.T) {
	a := &scriptAdapter{delay: 35 * time.Millisecond}
	a.set(notesAt(0.8, 52, 55, 59))
	cfg := fastConfig()
	cfg.TickMs = 10
	e, col, _ := startEngine(t, cfg, a)
	_ = e.SetExpected(mustSpec(t, "E G B", 2, "E"))

	time.Sleep(400 * time.Millisecond)
	e.Stop()

	ticks := col.count("tick")
	// 400ms / 10ms = 40 scheduled ticks, but a 35ms inference lets at most
	// ~12 complete. Leave slack for scheduler jitter.
	if ticks == 0 || ticks > 20 {
		t.Fatalf("single-flight drop broken: %d completed ticks", ticks)
	}
	if col.count("match") != 1 {
		t.Fatalf("overrun must not prevent the match, got %d", col.count("match"))
	}
	for _, v := range col.snapshot() {
		if tick, ok := v.(Tick); ok && tick.InferenceMs < 30 {
			t.Fatalf("inferenceMs must report the true latency, got %v", tick.InferenceMs)
		}
	}
}

func TestEngineTargetSwitchMidStream(t *testing.T) {
	a := &scriptAdapter{}
	a.set(notesAt(0.8, 52, 55, 59)) // sustained E minor
	e, col, _ := startEngine(t, fastConfig(), a)
	_ = e.SetExpected(mustSpec(t, "E G B", 2, "E"))
	waitFor(t, 2*time.Second, func() bool { return col.count("match") == 1 })

	_ = e.SetExpected(mustSpec(t, "A C E", 2, "A"))
	waitFor(t, 2*time.Second, func() bool { return col.count("miss") >= 1 })
	for _, v := range col.snapshot() {
		if miss, ok := v.(Miss); ok {
			if !pcsEqual(miss.Matched, 4) || !pcsEqual(miss.Missing, 0, 9) {
				t.Fatalf("bad post-switch diagnostics: %v", miss)
			}
		}
	}
	if col.count("match") != 1 {
		t.Fatalf("no spurious match after target switch")
	}
}

func TestEngineStopIdempotent(t *testing.T) {
	a := &scriptAdapter{}
	e, _, src := startEngine(t, fastConfig(), a)

	e.Stop()
	if e.Status() != StatusIdle {
		t.Fatalf("status after stop = %v, want idle", e.Status())
	}
	e.Stop()
	src.mu.Lock()
	stopped := src.stopped
	src.mu.Unlock()
	if stopped != 1 {
		t.Fatalf("second stop must be a no-op, source stopped %d times", stopped)
	}
}

func TestEngineSetExpectedValidation(t *testing.T) {
	a := &scriptAdapter{}
	src := &fakeSource{rate: 44100}
	e, err := New(fastConfig(), a, src)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.SetExpected(mustSpec(t, "E G B", 2, "E")); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	var bad = mustSpec(t, "E G B", 2, "E")
	bad.K = 4
	if err := e.SetExpected(bad); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	bad.PCs = nil
	if err := e.SetExpected(bad); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for empty pcs, got %v", err)
	}
}

func TestEngineOpenFailureMapsTaxonomy(t *testing.T) {
	a := &scriptAdapter{}
	src := &fakeSource{rate: 44100, openErr: capture.ErrPermissionDenied}
	e, err := New(fastConfig(), a, src)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = e.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if e.Status() != StatusError {
		t.Fatalf("status = %v, want error", e.Status())
	}

	src2 := &fakeSource{rate: 44100, openErr: errors.New("no such device")}
	e2, _ := New(fastConfig(), a, src2)
	if err := e2.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestEngineDeviceLossMidSession(t *testing.T) {
	a := &scriptAdapter{}
	e, col, src := startEngine(t, fastConfig(), a)

	src.failNow(capture.ErrDeviceUnavailable)
	waitFor(t, time.Second, func() bool { return col.count("error") >= 1 })
	if e.Status() != StatusError {
		t.Fatalf("status = %v, want error after device loss", e.Status())
	}
}

func TestEngineRejectsBadConfig(t *testing.T) {
	a := &scriptAdapter{}
	src := &fakeSource{rate: 44100}
	bad := DefaultGuitar()
	bad.WindowSec = -1
	if _, err := New(bad, a, src); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	bad = DefaultGuitar()
	bad.AggregatorMaxLen = 9
	if _, err := New(bad, a, src); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}
