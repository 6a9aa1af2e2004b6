package sink

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"firespread-sim/internal/fire"
)

// replayBatchSize bounds the frames sent per batch write during an
// undelayed replay.
const replayBatchSize = 100

// ReplayLog replays frames from r to writer. A speed >0 accelerates playback.
// If speed <= 0, no artificial delay is inserted and writers supporting batch
// writes receive the frames in batches.
func ReplayLog(r io.Reader, writer FrameWriter, speed float64) error {
	dec := json.NewDecoder(r)
	if bw, ok := writer.(batchFrameWriter); ok && speed <= 0 {
		return replayBatched(dec, bw)
	}
	var prev time.Time
	for {
		var fr fire.Frame
		if err := dec.Decode(&fr); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !prev.IsZero() && speed > 0 {
			diff := fr.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				time.Sleep(diff)
			}
		}
		if err := writer.WriteFrame(fr); err != nil {
			return err
		}
		prev = fr.Timestamp
	}
}

func replayBatched(dec *json.Decoder, bw batchFrameWriter) error {
	batch := make([]fire.Frame, 0, replayBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := bw.WriteFrames(batch)
		batch = batch[:0]
		return err
	}
	for {
		var fr fire.Frame
		if err := dec.Decode(&fr); err != nil {
			if errors.Is(err, io.EOF) {
				return flush()
			}
			return err
		}
		batch = append(batch, fr)
		if len(batch) == replayBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// ReplayLogFile opens a file and replays its frames.
func ReplayLogFile(path string, writer FrameWriter, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReplayLog(f, writer, speed)
}
