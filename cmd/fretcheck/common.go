package main

import (
	"github.com/chadiek/fretcheck/internal/chord"
	"github.com/chadiek/fretcheck/internal/config"
	"github.com/chadiek/fretcheck/internal/transcribe"
	"github.com/chadiek/fretcheck/internal/verify"
)

// chordFlags are shared by listen and check.
type chordFlags struct {
	notes     string
	k         int
	root      string
	policy    string
	transpose int
	centsTol  int
	strict    bool
}

// newAdapter picks the model-backed adapter when an artifact is configured
// and the spectral analyzer otherwise.
func newAdapter(cfg config.Config) transcribe.Adapter {
	if cfg.ModelPath == "" {
		return transcribe.NewSpectral(transcribe.DefaultSpectralConfig())
	}
	mc := transcribe.DefaultModelConfig(cfg.ModelPath)
	mc.SharedLibraryPath = cfg.OnnxLibraryPath
	return transcribe.NewBasicPitch(mc)
}

// engineConfig maps CLI flags onto the engine configuration.
func engineConfig(f chordFlags) verify.Config {
	c := verify.DefaultGuitar()
	c.TransposeSemitones = f.transpose
	c.CentsTol = f.centsTol
	c.AcceptInversions = !f.strict
	if f.policy != "" {
		c.Policy = verify.Policy(f.policy)
	}
	return c
}

func parseChordFlags(f chordFlags) (chord.Spec, error) {
	return chord.ParseSpec(f.notes, f.k, f.root)
}
