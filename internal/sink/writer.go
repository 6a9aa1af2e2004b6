package sink

import "firespread-sim/internal/fire"

// FrameWriter records session frames.
type FrameWriter interface {
	WriteFrame(fire.Frame) error
}

// StatusWriter records connection status and phase changes.
type StatusWriter interface {
	WriteStatus(fire.StatusEvent) error
}

type batchFrameWriter interface {
	WriteFrames([]fire.Frame) error
}
