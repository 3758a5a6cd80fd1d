package transcribe

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// modelOutputFrames is the activation frame count the model emits per window.
const modelOutputFrames = ModelWindowSamples/ModelHopSamples + 1

// ModelConfig locates the pretrained polyphonic transcription model and names
// its graph endpoints. The defaults match the standard ONNX export of the
// model; overrides cover re-exports with different node names.
type ModelConfig struct {
	// Path to the .onnx artifact.
	Path string
	// SharedLibraryPath optionally points at the onnxruntime shared library.
	SharedLibraryPath string
	InputName         string
	NoteOutputName    string
	OnsetOutputName   string

	Extract ExtractConfig
}

// DefaultModelConfig fills everything but the artifact path.
func DefaultModelConfig(path string) ModelConfig {
	return ModelConfig{
		Path:            path,
		InputName:       "input_2",
		NoteOutputName:  "note",
		OnsetOutputName: "onset",
		Extract:         DefaultExtractConfig(),
	}
}

var ortInit sync.Once

// BasicPitch runs the pretrained model through onnxruntime. One instance is
// owned by the inference worker; Evaluate is not safe for concurrent use.
type BasicPitch struct {
	cfg ModelConfig

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	note    *ort.Tensor[float32]
	onset   *ort.Tensor[float32]

	// reused frame-major views over the output tensors
	noteGrid  [][]float64
	onsetGrid [][]float64
}

// NewBasicPitch constructs the adapter; the model is loaded in Init.
func NewBasicPitch(cfg ModelConfig) *BasicPitch {
	return &BasicPitch{cfg: cfg}
}

// Init loads the model and allocates the fixed-shape tensors. One silent
// warm-up inference is the caller's job (the engine does it on start).
func (b *BasicPitch) Init(ctx context.Context) error {
	if b.session != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.cfg.Path == "" {
		return fmt.Errorf("%w: no model path configured", ErrInit)
	}
	if b.cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(b.cfg.SharedLibraryPath)
	}
	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("%w: onnxruntime: %v", ErrInit, initErr)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, ModelWindowSamples, 1))
	if err != nil {
		return fmt.Errorf("%w: input tensor: %v", ErrInit, err)
	}
	note, err := ort.NewEmptyTensor[float32](ort.NewShape(1, modelOutputFrames, activationNumBins))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("%w: note tensor: %v", ErrInit, err)
	}
	onset, err := ort.NewEmptyTensor[float32](ort.NewShape(1, modelOutputFrames, activationNumBins))
	if err != nil {
		input.Destroy()
		note.Destroy()
		return fmt.Errorf("%w: onset tensor: %v", ErrInit, err)
	}

	session, err := ort.NewAdvancedSession(
		b.cfg.Path,
		[]string{b.cfg.InputName},
		[]string{b.cfg.NoteOutputName, b.cfg.OnsetOutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{note, onset},
		nil,
	)
	if err != nil {
		input.Destroy()
		note.Destroy()
		onset.Destroy()
		return fmt.Errorf("%w: session: %v", ErrInit, err)
	}

	b.session = session
	b.input = input
	b.note = note
	b.onset = onset
	b.noteGrid = make([][]float64, modelOutputFrames)
	b.onsetGrid = make([][]float64, modelOutputFrames)
	for f := 0; f < modelOutputFrames; f++ {
		b.noteGrid[f] = make([]float64, activationNumBins)
		b.onsetGrid[f] = make([]float64, activationNumBins)
	}
	return nil
}

// Evaluate runs one inference over exactly ModelWindowSamples samples.
func (b *BasicPitch) Evaluate(samples []float32) ([]NoteEvent, error) {
	if b.session == nil {
		return nil, fmt.Errorf("%w: adapter not initialized", ErrEval)
	}
	if err := checkWindow(samples); err != nil {
		return nil, err
	}
	copy(b.input.GetData(), samples)
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEval, err)
	}

	noteData := b.note.GetData()
	onsetData := b.onset.GetData()
	if len(noteData) < modelOutputFrames*activationNumBins ||
		len(onsetData) < modelOutputFrames*activationNumBins {
		return nil, fmt.Errorf("%w: model output shape mismatch (note=%d onset=%d)",
			ErrEval, len(noteData), len(onsetData))
	}
	for f := 0; f < modelOutputFrames; f++ {
		row := f * activationNumBins
		for k := 0; k < activationNumBins; k++ {
			b.noteGrid[f][k] = float64(noteData[row+k])
			b.onsetGrid[f][k] = float64(onsetData[row+k])
		}
	}
	return ExtractEvents(b.noteGrid, b.onsetGrid, b.cfg.Extract), nil
}

// Close releases the session and tensors.
func (b *BasicPitch) Close() error {
	if b.session == nil {
		return nil
	}
	b.session.Destroy()
	b.input.Destroy()
	b.note.Destroy()
	b.onset.Destroy()
	b.session = nil
	return nil
}
