package fire

import "time"

// DriveMode tells which process produced a frame.
type DriveMode string

// Drive modes.
const (
	ModeIdle   DriveMode = "idle"
	ModeRemote DriveMode = "remote"
	ModeLocal  DriveMode = "local"
)

// Frame captures the session state after one tick for recording.
type Frame struct {
	SessionID   string     `json:"session_id"`
	Mode        DriveMode  `json:"mode"`
	Status      string     `json:"status"`
	IsRunning   bool       `json:"is_running"`
	IsPaused    bool       `json:"is_paused"`
	CurrentTime int        `json:"current_time"`
	FireCells   []FireCell `json:"fire_cells"`
	Timestamp   time.Time  `json:"ts"`
}

// StatusEvent records a connection status or phase change.
type StatusEvent struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"ts"`
}
