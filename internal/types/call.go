package types

import "time"

// CallStatus is the carrier-reported status of a single call leg
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCanceled   CallStatus = "canceled"
)

// AnsweredBy is the carrier's classification of who picked up a leg.
// Empty means no classification was available.
type AnsweredBy string

const (
	AnsweredByNone              AnsweredBy = ""
	AnsweredByHuman             AnsweredBy = "human"
	AnsweredByMachineStart      AnsweredBy = "machine_start"
	AnsweredByMachineEndBeep    AnsweredBy = "machine_end_beep"
	AnsweredByMachineEndSilence AnsweredBy = "machine_end_silence"
	AnsweredByMachineEndOther   AnsweredBy = "machine_end_other"
	AnsweredByFax               AnsweredBy = "fax"
	AnsweredByUnknown           AnsweredBy = "unknown"
)

// StatusEvent is a per-attempt status callback from the carrier, routed back
// to its session by the (SessionID, Attempt) tag
type StatusEvent struct {
	SessionID  string        `json:"sessionId"`
	Attempt    int           `json:"attempt"`
	LegID      string        `json:"legId"`
	Status     CallStatus    `json:"status"`
	AnsweredBy AnsweredBy    `json:"answeredBy,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// InboundCall is the carrier event for a caller arriving after the voice agent
// handed the call off
type InboundCall struct {
	LegID             string `json:"legId"`
	CallerPhoneNumber string `json:"callerPhoneNumber"`
	ExternalCallID    string `json:"externalCallId,omitempty"` // only when the carrier forwards it
}

// Human reports whether the classification allows treating the leg as a
// person: either no classification was made or it explicitly says human.
func (a AnsweredBy) Human() bool {
	return a == AnsweredByNone || a == AnsweredByHuman
}
