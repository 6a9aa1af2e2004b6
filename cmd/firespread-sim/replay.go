package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firespread-sim/internal/sink"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replaySummary   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded frame log",
	Long:  "replay feeds frames from a JSONL log back into GreptimeDB or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		if replaySummary {
			return sink.ReplayLogFile(replayInput, sink.NewSummaryWriter(), replaySpeed)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		w, cleanup, err := newWriters(cfg, replayPrintOnly, "", log)
		if err != nil {
			return err
		}
		defer cleanup()
		return sink.ReplayLogFile(replayInput, w, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to frame log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print frames to STDOUT instead of writing to DB")
	replayCmd.Flags().BoolVar(&replaySummary, "summary", false, "Print one colored summary line per frame")
	replayCmd.MarkFlagRequired("input")
}
