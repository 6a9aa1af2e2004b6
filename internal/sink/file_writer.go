package sink

import (
	"encoding/json"
	"os"

	"firespread-sim/internal/fire"
)

// FileWriter writes frames and status events to JSONL files.
type FileWriter struct {
	frameFile  *os.File
	statusFile *os.File
	frameEnc   *json.Encoder
	statusEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. statusPath may be empty to skip the
// status log.
func NewFileWriter(framePath, statusPath string) (*FileWriter, error) {
	ff, err := os.Create(framePath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{frameFile: ff, frameEnc: json.NewEncoder(ff)}
	if statusPath != "" {
		sf, err := os.Create(statusPath)
		if err != nil {
			ff.Close()
			return nil, err
		}
		fw.statusFile = sf
		fw.statusEnc = json.NewEncoder(sf)
	}
	return fw, nil
}

// WriteFrame logs a single frame.
func (f *FileWriter) WriteFrame(fr fire.Frame) error {
	return f.frameEnc.Encode(fr)
}

// WriteFrames logs multiple frames.
func (f *FileWriter) WriteFrames(frames []fire.Frame) error {
	for _, fr := range frames {
		if err := f.WriteFrame(fr); err != nil {
			return err
		}
	}
	return nil
}

// WriteStatus logs a status event, if enabled.
func (f *FileWriter) WriteStatus(ev fire.StatusEvent) error {
	if f.statusEnc == nil {
		return nil
	}
	return f.statusEnc.Encode(ev)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.frameFile != nil {
		if e := f.frameFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.statusFile != nil {
		if e := f.statusFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
