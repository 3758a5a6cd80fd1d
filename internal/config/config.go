package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration. Engine-level knobs live in
// verify.Config; this covers what differs per machine.
type Config struct {
	HTTPAddress string
	// ModelPath points at the transcription model artifact. Empty selects
	// the spectral fallback analyzer.
	ModelPath string
	// OnnxLibraryPath optionally points at the onnxruntime shared library.
	OnnxLibraryPath string
	SampleRate      int
	Channels        int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	modelPath := os.Getenv("FRETCHECK_MODEL")
	if modelPath == "" {
		log.Println("config: FRETCHECK_MODEL not set - using the spectral analyzer")
	}

	cfg := Config{
		HTTPAddress:     addr,
		ModelPath:       modelPath,
		OnnxLibraryPath: os.Getenv("FRETCHECK_ONNXRUNTIME"),
		SampleRate:      intEnv("FRETCHECK_SAMPLE_RATE", 44100),
		Channels:        intEnv("FRETCHECK_CHANNELS", 1),
	}
	log.Printf("config: HTTP_ADDRESS=%s sampleRate=%d channels=%d", cfg.HTTPAddress, cfg.SampleRate, cfg.Channels)
	return cfg
}

func intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("config: ignoring invalid %s=%q", key, raw)
		return def
	}
	return v
}
