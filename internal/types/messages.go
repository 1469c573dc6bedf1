package types

import "time"

// TransferEvent is broadcast to ops dashboards on every session transition
type TransferEvent struct {
	Type       string       `json:"type"` // "transfer_event"
	SessionID  string       `json:"sessionId"`
	Department string       `json:"department"`
	State      SessionState `json:"state"`
	Cursor     int          `json:"cursor"`
	Candidate  string       `json:"candidate,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}
