package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/looplab/fsm"
)

const (
	eventConnect = "connect"
	eventExhaust = "exhaust"
)

// newSessionFSM tracks the coarse session state. Advancing from one candidate
// to the next keeps the session in dialing; only the cursor moves.
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		string(types.StateDialing),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(types.StateDialing)}, Dst: string(types.StateConnected)},
			{Name: eventExhaust, Src: []string{string(types.StateDialing)}, Dst: string(types.StateExhausted)},
		},
		fsm.Callbacks{},
	)
}

type attempt struct {
	index     int
	candidate types.Candidate
	legID     string
	outcome   types.AttemptOutcome
	reason    string
	startedAt time.Time
	endedAt   *time.Time
}

func (a *attempt) finish(outcome types.AttemptOutcome, reason string, at time.Time) {
	a.outcome = outcome
	a.reason = reason
	a.endedAt = &at
}

func (a *attempt) open() bool {
	return a.outcome == types.AttemptPending || a.outcome == types.AttemptAnswered
}

// session is one caller's sequential search. Every field is guarded by mu,
// which is held for the whole of an event including any gateway call, so
// events of the same session are handled one at a time. Readers that must not
// wait on the gateway use view, republished each time mu is released.
type session struct {
	mu   sync.Mutex
	view atomic.Pointer[types.SessionSnapshot]

	id                string
	inboundLegID      string
	department        string
	externalCallID    string
	callerPhoneNumber string
	bridgeName        string
	candidates        []types.Candidate

	cursor    int
	machine   *fsm.FSM
	attempts  []*attempt
	timer     *time.Timer
	startedAt time.Time
	endedAt   *time.Time
}

func newSession(legID string, intent types.TransferIntent, candidates []types.Candidate, now time.Time) *session {
	return &session{
		id:                legID,
		inboundLegID:      legID,
		department:        intent.DepartmentName,
		externalCallID:    intent.ExternalCallID,
		callerPhoneNumber: intent.CallerPhoneNumber,
		bridgeName:        BridgeName(legID),
		candidates:        candidates,
		machine:           newSessionFSM(),
		startedAt:         now,
	}
}

// BridgeName is the conference name holding the caller of a session
func BridgeName(sessionID string) string {
	return "transfer-" + sessionID
}

func (s *session) state() types.SessionState {
	return types.SessionState(s.machine.Current())
}

// current returns the attempt at the cursor, nil before the first dial
func (s *session) current() *attempt {
	if s.cursor < len(s.attempts) {
		return s.attempts[s.cursor]
	}
	return nil
}

func (s *session) hasNext() bool {
	return s.cursor+1 < len(s.candidates)
}

func (s *session) transition(ctx context.Context, event string, at time.Time) error {
	if err := s.machine.Event(ctx, event); err != nil {
		return err
	}
	s.stopTimer()
	s.endedAt = &at
	return nil
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *session) event(reason string, at time.Time) types.TransferEvent {
	ev := types.TransferEvent{
		Type:       "transfer_event",
		SessionID:  s.id,
		Department: s.department,
		State:      s.state(),
		Cursor:     s.cursor,
		Reason:     reason,
		Timestamp:  at,
	}
	if s.cursor < len(s.candidates) {
		ev.Candidate = s.candidates[s.cursor].Name
	}
	return ev
}

// publish stores the current snapshot for lock-free readers. Caller holds mu.
func (s *session) publish() {
	snap := s.snapshot()
	s.view.Store(&snap)
}

// unlock publishes and releases mu
func (s *session) unlock() {
	s.publish()
	s.mu.Unlock()
}

func (s *session) snapshot() types.SessionSnapshot {
	snap := types.SessionSnapshot{
		SessionID:         s.id,
		InboundLegID:      s.inboundLegID,
		DepartmentName:    s.department,
		ExternalCallID:    s.externalCallID,
		CallerPhoneNumber: s.callerPhoneNumber,
		BridgeName:        s.bridgeName,
		Candidates:        append([]types.Candidate(nil), s.candidates...),
		Cursor:            s.cursor,
		State:             s.state(),
		Attempts:          make([]types.AttemptSnapshot, 0, len(s.attempts)),
		StartedAt:         s.startedAt,
		EndedAt:           s.endedAt,
	}
	for _, a := range s.attempts {
		snap.Attempts = append(snap.Attempts, types.AttemptSnapshot{
			Index:     a.index,
			Candidate: a.candidate,
			LegID:     a.legID,
			Outcome:   a.outcome,
			Reason:    a.reason,
			StartedAt: a.startedAt,
			EndedAt:   a.endedAt,
		})
	}
	return snap
}
