package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fretcheck",
	Short: "Real-time chord verification for guitar practice",
	Long: `fretcheck listens to a guitar, transcribes what is being played, and
verifies it against an expected chord: capture, rolling-window polyphonic
transcription, and a confirmation/debounce policy over pitch classes.`,
}

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	cobra.CheckErr(rootCmd.Execute())
}
