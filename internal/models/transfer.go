package models

import "time"

// Direction says which side holds the source tree.
type Direction string

const (
	DirectionPull Direction = "pull" // device -> host
	DirectionPush Direction = "push" // host -> device
)

func (d Direction) Valid() bool {
	return d == DirectionPull || d == DirectionPush
}

// ProgressEvent is one progress sample pushed to the presentation layer.
// Percent is nil while the total size is unknown (probe failed or zero).
type ProgressEvent struct {
	SessionID        string    `json:"session_id,omitempty"`
	BytesTransferred uint64    `json:"bytes_transferred"`
	Percent          *float64  `json:"percent,omitempty"`
	Speed            float64   `json:"speed_bps"`
	AverageSpeed     float64   `json:"avg_speed_bps"`
	Timestamp        time.Time `json:"timestamp"`
}

// TerminalEvent is the single end-of-session notification.
type TerminalEvent struct {
	SessionID        string        `json:"session_id"`
	State            string        `json:"state"` // completed | failed | cancelled
	FaultKind        string        `json:"fault_kind,omitempty"`
	Diagnostics      string        `json:"diagnostics,omitempty"`
	BytesTransferred uint64        `json:"bytes_transferred"`
	TotalBytes       uint64        `json:"total_bytes"`
	Duration         time.Duration `json:"duration_ns"`
}

// StateEvent announces non-terminal session transitions (probing, running).
type StateEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}
