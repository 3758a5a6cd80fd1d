package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/fretcheck/internal/capture"
	"github.com/chadiek/fretcheck/internal/config"
	"github.com/chadiek/fretcheck/internal/verify"
)

var checkFlags chordFlags

func init() {
	checkCmd.Flags().StringVar(&checkFlags.notes, "chord", "", "expected chord as a note list, e.g. \"E G B\"")
	checkCmd.Flags().IntVar(&checkFlags.k, "k", 0, "pitch classes required (default min(2, chord size))")
	checkCmd.Flags().StringVar(&checkFlags.root, "root", "", "root note for inversion/bass checks")
	checkCmd.Flags().StringVar(&checkFlags.policy, "policy", "", "K_OF_N, INCLUDES_TARGET or BASS_PRIORITY")
	checkCmd.Flags().IntVar(&checkFlags.transpose, "transpose", 0, "semitones subtracted from detections (capo fret)")
	checkCmd.Flags().IntVar(&checkFlags.centsTol, "cents-tol", 0, "detune tolerance mapped onto the salience threshold")
	checkCmd.Flags().BoolVar(&checkFlags.strict, "strict-bass", false, "reject inversions (lowest note must be the root)")
	_ = checkCmd.MarkFlagRequired("chord")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <take.wav>",
	Short: "Verify a recorded take against an expected chord",
	Long: `check replays a WAV recording through the live pipeline in real time
and reports whether the expected chord was confirmed anywhere in the take.
Exits non-zero when it was not.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		spec, err := parseChordFlags(checkFlags)
		if err != nil {
			return err
		}

		src := capture.NewWAVFile(args[0], true)
		engine, err := verify.New(engineConfig(checkFlags), newAdapter(cfg), src)
		if err != nil {
			return err
		}

		var (
			mu      sync.Mutex
			matched bool
			misses  int
		)
		engine.OnResult(func(v verify.Verdict) {
			printVerdict(v)
			mu.Lock()
			defer mu.Unlock()
			switch v.(type) {
			case verify.Match:
				matched = true
			case verify.Miss:
				misses++
			}
		})

		if err := engine.Start(cmd.Context()); err != nil {
			return err
		}
		defer engine.Stop()
		if err := engine.SetExpected(spec); err != nil {
			return err
		}

		select {
		case <-src.Done():
			// Let the confirmation window drain over the final audio.
			time.Sleep(500 * time.Millisecond)
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
		engine.Stop()

		mu.Lock()
		defer mu.Unlock()
		if !matched {
			return fmt.Errorf("no confirmed %s in %s (%d misses)", spec, args[0], misses)
		}
		fmt.Printf("confirmed %s in %s\n", spec, args[0])
		return nil
	},
}
