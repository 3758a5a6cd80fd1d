package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cwbudde/wav"
)

// WAVFile replays a WAV recording into the pipeline, either paced in real
// time or pushed all at once without pacing. Used by the offline `check`
// command.
type WAVFile struct {
	path     string
	realtime bool

	samples []float32
	rate    int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewWAVFile builds a source over path. With realtime set, playback paces
// itself to the file's sample rate.
func NewWAVFile(path string, realtime bool) *WAVFile {
	return &WAVFile{path: path, realtime: realtime}
}

// Open decodes the file, mixes it to mono, and normalizes to [-1, 1].
func (w *WAVFile) Open(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := os.Open(w.path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%w: invalid wav file %s", ErrDeviceUnavailable, w.path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return 0, fmt.Errorf("%w: empty wav buffer %s", ErrDeviceUnavailable, w.path)
	}

	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	scale := 1.0 / float64(int(1)<<(dec.BitDepth-1))
	w.samples = make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += float64(buf.Data[i*ch+c])
		}
		w.samples[i] = float32(sum / float64(ch) * scale)
	}
	w.rate = buf.Format.SampleRate
	return w.rate, nil
}

// Start begins replay. Samples are pushed in ~10 ms blocks.
func (w *WAVFile) Start(onSamples func([]float32), onErr func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.samples == nil {
		return fmt.Errorf("%w: wav source not opened", ErrDeviceUnavailable)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	block := w.rate / 100
	if block < 1 {
		block = 1
	}
	go func() {
		defer close(w.done)
		var ticker *time.Ticker
		if w.realtime {
			ticker = time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
		}
		for pos := 0; pos < len(w.samples); pos += block {
			if ctx.Err() != nil {
				return
			}
			end := pos + block
			if end > len(w.samples) {
				end = len(w.samples)
			}
			onSamples(w.samples[pos:end])
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// Done is closed once the whole file has been replayed or replay was
// stopped.
func (w *WAVFile) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Duration reports the decoded length.
func (w *WAVFile) Duration() time.Duration {
	if w.rate == 0 {
		return 0
	}
	return time.Duration(float64(len(w.samples)) / float64(w.rate) * float64(time.Second))
}

// Stop halts replay. Safe to call repeatedly.
func (w *WAVFile) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return nil
}
