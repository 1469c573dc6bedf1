package types

import "time"

// SessionState represents the lifecycle state of a transfer session
type SessionState string

const (
	StateDialing   SessionState = "dialing"   // An attempt to candidates[cursor] is in flight
	StateConnected SessionState = "connected" // candidates[cursor] joined the bridge
	StateExhausted SessionState = "exhausted" // Every candidate failed
)

// Terminal reports whether no further candidates will be dialed
func (s SessionState) Terminal() bool {
	return s == StateConnected || s == StateExhausted
}

// Candidate is one specialist endpoint in a department's ordered attempt list
type Candidate struct {
	Name   string `json:"name" yaml:"name" dynamodbav:"Name"`
	Number string `json:"number" yaml:"number" dynamodbav:"Number"`
}

// TransferIntent is the voice agent's decision to route a caller to a department,
// stored until the caller's leg reaches the telephony layer
type TransferIntent struct {
	DepartmentName    string    `json:"departmentName" dynamodbav:"DepartmentName"`
	ExternalCallID    string    `json:"externalCallId" dynamodbav:"ExternalCallID"`
	CallerPhoneNumber string    `json:"callerPhoneNumber,omitempty" dynamodbav:"CallerPhoneNumber,omitempty"`
	AcknowledgmentID  string    `json:"acknowledgmentId" dynamodbav:"AcknowledgmentID"`
	CreatedAt         time.Time `json:"createdAt" dynamodbav:"CreatedAt"`
}

// AttemptOutcome describes how a single dial attempt ended
type AttemptOutcome string

const (
	AttemptPending   AttemptOutcome = "pending"
	AttemptAnswered  AttemptOutcome = "answered" // leg is live, waiting for talk time
	AttemptConnected AttemptOutcome = "connected"
	AttemptFailed    AttemptOutcome = "failed"
)

// AttemptSnapshot is the read-only view of one dial attempt
type AttemptSnapshot struct {
	Index     int            `json:"index"`
	Candidate Candidate      `json:"candidate"`
	LegID     string         `json:"legId,omitempty"`
	Outcome   AttemptOutcome `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
}

// SessionSnapshot is the read-only view of a transfer session
type SessionSnapshot struct {
	SessionID         string            `json:"sessionId"`
	InboundLegID      string            `json:"inboundLegId"`
	DepartmentName    string            `json:"departmentName"`
	ExternalCallID    string            `json:"externalCallId"`
	CallerPhoneNumber string            `json:"callerPhoneNumber,omitempty"`
	BridgeName        string            `json:"bridgeName"`
	Candidates        []Candidate       `json:"candidates"`
	Cursor            int               `json:"cursor"`
	State             SessionState      `json:"state"`
	Attempts          []AttemptSnapshot `json:"attempts"`
	StartedAt         time.Time         `json:"startedAt"`
	EndedAt           *time.Time        `json:"endedAt,omitempty"`
}
