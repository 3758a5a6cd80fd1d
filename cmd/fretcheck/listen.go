package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chadiek/fretcheck/internal/capture"
	"github.com/chadiek/fretcheck/internal/config"
	"github.com/chadiek/fretcheck/internal/verify"
)

var listenFlags chordFlags

func init() {
	listenCmd.Flags().StringVar(&listenFlags.notes, "chord", "", "expected chord as a note list, e.g. \"E G B\"")
	listenCmd.Flags().IntVar(&listenFlags.k, "k", 0, "pitch classes required (default min(2, chord size))")
	listenCmd.Flags().StringVar(&listenFlags.root, "root", "", "root note for inversion/bass checks")
	listenCmd.Flags().StringVar(&listenFlags.policy, "policy", "", "K_OF_N, INCLUDES_TARGET or BASS_PRIORITY")
	listenCmd.Flags().IntVar(&listenFlags.transpose, "transpose", 0, "semitones subtracted from detections (capo fret)")
	listenCmd.Flags().IntVar(&listenFlags.centsTol, "cents-tol", 0, "detune tolerance mapped onto the salience threshold")
	listenCmd.Flags().BoolVar(&listenFlags.strict, "strict-bass", false, "reject inversions (lowest note must be the root)")
	_ = listenCmd.MarkFlagRequired("chord")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Verify live microphone input against an expected chord",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		spec, err := parseChordFlags(listenFlags)
		if err != nil {
			return err
		}

		src := capture.NewDevice(capture.DeviceConfig{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		})
		engine, err := verify.New(engineConfig(listenFlags), newAdapter(cfg), src)
		if err != nil {
			return err
		}
		engine.OnResult(printVerdict)
		if err := engine.Start(cmd.Context()); err != nil {
			return err
		}
		defer engine.Stop()
		if err := engine.SetExpected(spec); err != nil {
			return err
		}
		log.Printf("listening for %s - ctrl-c to stop", spec)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-cmd.Context().Done():
		}
		return nil
	},
}

func printVerdict(v verify.Verdict) {
	switch v := v.(type) {
	case verify.Match:
		fmt.Printf("%8.3f  MATCH\n", v.T)
	case verify.Miss:
		fmt.Printf("%8.3f  miss   heard=%v missing=%v\n", v.T, v.Matched, v.Missing)
	case verify.Error:
		fmt.Printf("%8.3f  error  %s\n", v.T, v.Message)
	}
}
