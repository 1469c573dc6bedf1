package transfer

import "github.com/Trivi1234567/vapi-transfer-server-render/internal/types"

// Outcome is the verdict for a single status event of the current attempt
type Outcome int

const (
	// OutcomePending means the leg is still progressing; the cursor stays put
	OutcomePending Outcome = iota
	// OutcomeConnected means a human joined with talk time
	OutcomeConnected
	// OutcomeFailed means the attempt is over without a human connection
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConnected:
		return "connected"
	default:
		return "failed"
	}
}

// Classify maps a carrier status event onto an attempt outcome.
//
// A connection only counts when the leg is in-progress or completed with
// nonzero duration and the answering entity is unclassified or human. Any
// machine, fax or unknown classification fails the attempt even when the leg
// nominally completed.
func Classify(ev types.StatusEvent) Outcome {
	switch ev.Status {
	case types.CallStatusQueued, types.CallStatusInitiated, types.CallStatusRinging:
		return OutcomePending
	case types.CallStatusInProgress, types.CallStatusCompleted:
		if !ev.AnsweredBy.Human() {
			return OutcomeFailed
		}
		if ev.Duration > 0 {
			return OutcomeConnected
		}
		if ev.Status == types.CallStatusInProgress {
			// answered, talk time not reported yet
			return OutcomePending
		}
		return OutcomeFailed
	default:
		return OutcomeFailed
	}
}
