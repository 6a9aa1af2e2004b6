package sink

import "firespread-sim/internal/fire"

// MultiWriter fans frames and status events out to multiple writers.
type MultiWriter struct {
	frameWriters  []FrameWriter
	statusWriters []StatusWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(fws []FrameWriter, sws []StatusWriter) *MultiWriter {
	return &MultiWriter{frameWriters: fws, statusWriters: sws}
}

// WriteFrame sends a frame to all frame writers.
func (mw *MultiWriter) WriteFrame(fr fire.Frame) error {
	for _, w := range mw.frameWriters {
		if err := w.WriteFrame(fr); err != nil {
			return err
		}
	}
	return nil
}

// WriteFrames sends multiple frames to all frame writers, using batch if supported.
func (mw *MultiWriter) WriteFrames(frames []fire.Frame) error {
	for _, w := range mw.frameWriters {
		if bw, ok := w.(batchFrameWriter); ok {
			if err := bw.WriteFrames(frames); err != nil {
				return err
			}
			continue
		}
		for _, fr := range frames {
			if err := w.WriteFrame(fr); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteStatus sends a status event to all status writers.
func (mw *MultiWriter) WriteStatus(ev fire.StatusEvent) error {
	for _, w := range mw.statusWriters {
		if err := w.WriteStatus(ev); err != nil {
			return err
		}
	}
	return nil
}
