package sink

import (
	"context"
	"log/slog"

	"firespread-sim/internal/session"
)

// Pump records views from an orchestrator subscription until ctx is done or
// views is closed. A frame is written when the tick, flags, mode or session
// change; a status event when the connection status or phase change. Writer
// errors are logged and recording continues. Either writer may be nil.
func Pump(ctx context.Context, views <-chan session.View, fw FrameWriter, sw StatusWriter, log *slog.Logger) {
	var last *session.View
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			if fw != nil && (last == nil || frameChanged(*last, v)) {
				if err := fw.WriteFrame(v.Frame()); err != nil {
					log.Warn("frame write failed", "err", err)
				}
			}
			if sw != nil && (last == nil || last.Status != v.Status || last.Phase != v.Phase) {
				if err := sw.WriteStatus(v.StatusEvent()); err != nil {
					log.Warn("status write failed", "err", err)
				}
			}
			last = &v
		}
	}
}

func frameChanged(prev, cur session.View) bool {
	return prev.State.CurrentTime != cur.State.CurrentTime ||
		prev.State.IsRunning != cur.State.IsRunning ||
		prev.State.IsPaused != cur.State.IsPaused ||
		prev.Mode != cur.Mode ||
		prev.SessionID != cur.SessionID ||
		len(prev.State.FireCells) != len(cur.State.FireCells)
}
