package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"firespread-sim/internal/fire"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
	colorCyan   = "\x1b[36m"
	colorGray   = "\x1b[90m"
)

// JSONStdoutWriter prints frames and status events as JSON lines.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// WriteFrame outputs a frame in JSON format.
func (w *JSONStdoutWriter) WriteFrame(fr fire.Frame) error {
	data, err := json.Marshal(fr)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteStatus outputs a status event in JSON format.
func (w *JSONStdoutWriter) WriteStatus(ev fire.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// SummaryWriter prints one colorized line per frame instead of every cell.
type SummaryWriter struct {
	out io.Writer
}

// NewSummaryWriter creates a SummaryWriter writing to os.Stdout.
func NewSummaryWriter() *SummaryWriter {
	return &SummaryWriter{out: os.Stdout}
}

// WriteFrame implements FrameWriter.
func (w *SummaryWriter) WriteFrame(fr fire.Frame) error {
	_, err := fmt.Fprintln(w.out, FrameLine(fr))
	return err
}

// WriteStatus implements StatusWriter.
func (w *SummaryWriter) WriteStatus(ev fire.StatusEvent) error {
	_, err := fmt.Fprintln(w.out, StatusLine(ev))
	return err
}

// FrameLine renders a frame as a single colorized log line.
func FrameLine(fr fire.Frame) string {
	var burning int
	var peak float64
	for _, c := range fr.FireCells {
		if c.State == fire.CellBurning {
			burning++
		}
		if c.Intensity > peak {
			peak = c.Intensity
		}
	}
	modeColor := colorBlue
	if fr.Mode == fire.ModeLocal {
		modeColor = colorYellow
	}
	return fmt.Sprintf("%s[%s]%s %smode=%s%s %st=%d%s %scells=%d%s %sburning=%d%s %speak=%.1f%s",
		colorGray, fr.Timestamp.Format(time.RFC3339), colorReset,
		modeColor, fr.Mode, colorReset,
		colorCyan, fr.CurrentTime, colorReset,
		colorGreen, len(fr.FireCells), colorReset,
		colorRed, burning, colorReset,
		colorYellow, peak, colorReset,
	)
}

// StatusLine renders a status event as a single colorized log line.
func StatusLine(ev fire.StatusEvent) string {
	return fmt.Sprintf("%s[%s]%s %sSTATUS%s %s%s%s phase=%s",
		colorGray, ev.Timestamp.Format(time.RFC3339), colorReset,
		colorCyan, colorReset,
		StatusColor(ev.Status), ev.Status, colorReset,
		ev.Phase,
	)
}

// StatusColor picks the ANSI color for a connection status.
func StatusColor(status string) string {
	switch status {
	case "connected":
		return colorGreen
	case "error":
		return colorRed
	case "disconnected":
		return colorYellow
	}
	return colorGray
}
