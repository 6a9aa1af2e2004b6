package main

import (
	"log/slog"

	"firespread-sim/internal/config"
	"firespread-sim/internal/sink"
)

// recorder receives both frames and connection status events.
type recorder interface {
	sink.FrameWriter
	sink.StatusWriter
}

// newWriters sets up frame and status writers based on flags and config.
// extra writers own the terminal, so no STDOUT writer is added when any are
// given. It returns the writer and a cleanup function to close any resources.
func newWriters(cfg *config.Config, printOnly bool, logFile string, log *slog.Logger, extra ...recorder) (recorder, func(), error) {
	cleanup := func() {}

	base, err := baseWriter(cfg, printOnly, len(extra) == 0, log)
	if err != nil {
		return nil, nil, err
	}
	all := make([]recorder, 0, len(extra)+2)
	if base != nil {
		all = append(all, base)
	}
	all = append(all, extra...)

	if logFile != "" {
		fw, err := sink.NewFileWriter(logFile, logFile+".status")
		if err != nil {
			return nil, nil, err
		}
		all = append(all, fw)
		cleanup = func() { fw.Close() }
	}

	if len(all) == 1 {
		return all[0], cleanup, nil
	}
	fws := make([]sink.FrameWriter, 0, len(all))
	sws := make([]sink.StatusWriter, 0, len(all))
	for _, w := range all {
		fws = append(fws, w)
		sws = append(sws, w)
	}
	return sink.NewMultiWriter(fws, sws), cleanup, nil
}

// baseWriter chooses GreptimeDB when an endpoint is configured and printing
// was not requested, otherwise JSON on STDOUT if the terminal is free.
func baseWriter(cfg *config.Config, printOnly, stdout bool, log *slog.Logger) (recorder, error) {
	if printOnly || cfg == nil || cfg.Greptime.Endpoint == "" {
		if !stdout {
			return nil, nil
		}
		return sink.NewJSONStdoutWriter(), nil
	}
	g := cfg.Greptime
	return sink.NewGreptimeDBWriter(g.Endpoint, g.Database, g.FireCellTable, g.StatusTable, log)
}
