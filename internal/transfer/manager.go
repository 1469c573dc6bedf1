package transfer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/metrics"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/registry"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OriginateRequest asks the carrier for one outbound leg to a candidate. The
// gateway tags the leg's callbacks with (SessionID, Attempt).
type OriginateRequest struct {
	SessionID  string
	Attempt    int
	Candidate  types.Candidate
	BridgeName string
}

// Gateway is the subset of the carrier's call control the orchestrator drives
type Gateway interface {
	Originate(ctx context.Context, req OriginateRequest) (legID string, err error)
	Hangup(ctx context.Context, legID string) error
}

// Directory resolves a department to its ordered candidates
type Directory interface {
	Lookup(department string) ([]types.Candidate, bool)
}

// RecordStore is the subset of storage.Store needed to persist finished sessions
type RecordStore interface {
	SaveTransferRecord(record types.TransferRecord) error
}

// Listener observes every session transition. Implementations must not block.
type Listener interface {
	OnTransferEvent(event types.TransferEvent)
}

// ExhaustedHandler is invoked once when a session runs out of candidates.
// The caller is still parked in the waiting bridge at that point.
type ExhaustedHandler func(ctx context.Context, session types.SessionSnapshot)

// Options tunes the orchestrator
type Options struct {
	// AttemptTimeout bounds how long an attempt may stay unanswered before a
	// failure is synthesized. Zero relies on the carrier alone.
	AttemptTimeout time.Duration
	// DialTimeout bounds a single gateway request
	DialTimeout time.Duration
}

// PrepareRequest is a validated-or-not preparation event from the voice agent
type PrepareRequest struct {
	DepartmentName    string
	ExternalCallID    string
	CallerPhoneNumber string
	AcknowledgmentID  string
}

// Acknowledgment is returned to the voice agent for an accepted preparation
type Acknowledgment struct {
	AcknowledgmentID string
	Key              string
	Message          string
}

// InboundOutcome tells the HTTP layer which instruction to render
type InboundOutcome int

const (
	InboundBridged InboundOutcome = iota
	InboundNoRoute
)

// InboundResult is the routing decision for an inbound caller leg
type InboundResult struct {
	Outcome    InboundOutcome
	SessionID  string
	BridgeName string
	Duplicate  bool
	Reason     string
}

// AnswerDecision says whether an answered candidate leg may join the bridge
type AnswerDecision struct {
	Join       bool
	BridgeName string
	Reason     string
}

// inboundCall is the in-flight result of the first handler for a caller leg.
// Duplicates wait on done and reuse res and err.
type inboundCall struct {
	done chan struct{}
	res  InboundResult
	err  error
}

// effects collects the work a locked section hands off to run after unlock
type effects struct {
	events    []types.TransferEvent
	terminal  *types.SessionSnapshot
	exhausted bool
}

// Manager owns every live transfer session and drives the sequential dial
type Manager struct {
	registry  registry.Store
	directory Directory
	gateway   Gateway
	records   RecordStore
	listeners []Listener
	exhausted ExhaustedHandler
	opts      Options
	now       func() time.Time

	sessions map[string]*session
	starting map[string]*inboundCall
	closed   bool
	mu       sync.RWMutex

	logger zerolog.Logger
}

// NewManager creates an orchestrator over a registry, directory and gateway
func NewManager(store registry.Store, dir Directory, gw Gateway, opts Options, logger zerolog.Logger) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	return &Manager{
		registry:  store,
		directory: dir,
		gateway:   gw,
		opts:      opts,
		now:       time.Now,
		sessions:  make(map[string]*session),
		starting:  make(map[string]*inboundCall),
		logger:    logger.With().Str("component", "transfer").Logger(),
	}
}

// SetRecordStore sets the persistence store for finished sessions
func (m *Manager) SetRecordStore(store RecordStore) {
	m.records = store
}

// AddListener registers a transition observer. Not safe to call once events flow.
func (m *Manager) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// SetExhaustedHandler installs the fallback hook for sessions with no candidate left
func (m *Manager) SetExhaustedHandler(h ExhaustedHandler) {
	m.exhausted = h
}

// Prepare validates a preparation event and stores it as a pending intent
func (m *Manager) Prepare(ctx context.Context, req PrepareRequest) (Acknowledgment, error) {
	dept := strings.TrimSpace(req.DepartmentName)
	callID := strings.TrimSpace(req.ExternalCallID)
	ack := Acknowledgment{AcknowledgmentID: req.AcknowledgmentID}

	if dept == "" {
		metrics.Get().RecordPreparation(false)
		return ack, ErrMissingDepartment
	}
	if callID == "" {
		metrics.Get().RecordPreparation(false)
		return ack, ErrMissingCallID
	}

	if candidates, ok := m.directory.Lookup(dept); !ok || len(candidates) == 0 {
		// still stored: the inbound leg will get the apology
		m.logger.Warn().
			Str("department", dept).
			Str("external_call_id", callID).
			Msg("preparing transfer to department without candidates")
	}

	intent := types.TransferIntent{
		DepartmentName:    dept,
		ExternalCallID:    callID,
		CallerPhoneNumber: strings.TrimSpace(req.CallerPhoneNumber),
		AcknowledgmentID:  req.AcknowledgmentID,
		CreatedAt:         m.now(),
	}
	key := registry.CorrelationKey(intent.CallerPhoneNumber, callID)
	if err := m.registry.Put(ctx, key, intent); err != nil {
		metrics.Get().RecordPreparation(false)
		return ack, fmt.Errorf("failed to store transfer intent: %w", err)
	}

	metrics.Get().RecordPreparation(true)
	m.logger.Info().
		Str("key", key).
		Str("department", dept).
		Str("external_call_id", callID).
		Msg("transfer prepared")

	ack.Key = key
	ack.Message = fmt.Sprintf("Transfer to %s prepared. The caller will be connected to the first available specialist.", dept)
	return ack, nil
}

// HandleInbound consumes the pending intent for an arriving caller and starts
// dialing the first candidate. The returned result is never an error for a
// caller without a pending transfer; that is a no-route outcome.
func (m *Manager) HandleInbound(ctx context.Context, call types.InboundCall) (InboundResult, error) {
	legID := strings.TrimSpace(call.LegID)
	if legID == "" {
		legID = uuid.New().String()
	}
	log := m.logger.With().Str("session_id", legID).Str("caller", call.CallerPhoneNumber).Logger()

	m.mu.Lock()
	if _, ok := m.sessions[legID]; ok {
		m.mu.Unlock()
		log.Info().Msg("duplicate inbound event, reusing bridge")
		return InboundResult{Outcome: InboundBridged, SessionID: legID, BridgeName: BridgeName(legID), Duplicate: true}, nil
	}
	if first, ok := m.starting[legID]; ok {
		m.mu.Unlock()
		log.Info().Msg("duplicate inbound event, waiting for first handler")
		select {
		case <-first.done:
		case <-ctx.Done():
			return InboundResult{}, ctx.Err()
		}
		res := first.res
		res.Duplicate = true
		return res, first.err
	}
	pending := &inboundCall{done: make(chan struct{})}
	m.starting[legID] = pending
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, legID)
		m.mu.Unlock()
		close(pending.done)
	}()

	pending.res, pending.err = m.startSession(ctx, legID, call, log)
	return pending.res, pending.err
}

// startSession consumes the intent for a new caller leg and dials the first candidate
func (m *Manager) startSession(ctx context.Context, legID string, call types.InboundCall, log zerolog.Logger) (InboundResult, error) {
	intent, found, err := m.takeIntent(ctx, call)
	if err != nil {
		return InboundResult{}, err
	}
	if !found {
		metrics.Get().RecordInbound(false)
		log.Info().Msg("no pending transfer for inbound call")
		return InboundResult{Outcome: InboundNoRoute, SessionID: legID, Reason: "no pending transfer"}, nil
	}

	candidates, ok := m.directory.Lookup(intent.DepartmentName)
	if !ok || len(candidates) == 0 {
		metrics.Get().RecordInbound(false)
		reason := "unknown department"
		if ok {
			reason = "department has no candidates"
		}
		log.Warn().Str("department", intent.DepartmentName).Msg(reason)
		return InboundResult{Outcome: InboundNoRoute, SessionID: legID, Reason: reason}, nil
	}

	metrics.Get().RecordInbound(true)
	s := newSession(legID, intent, candidates, m.now())

	s.mu.Lock()
	s.publish()
	m.mu.Lock()
	m.sessions[legID] = s
	active := len(m.sessions)
	m.mu.Unlock()
	metrics.Get().SetActiveSessions(active)

	log.Info().
		Str("department", s.department).
		Int("candidates", len(candidates)).
		Msg("transfer session started")

	fx := &effects{}
	m.dialLocked(ctx, s, fx)
	s.unlock()
	m.apply(ctx, fx)

	return InboundResult{Outcome: InboundBridged, SessionID: legID, BridgeName: s.bridgeName}, nil
}

// takeIntent tries each lookup key in order; the first hit is consumed
func (m *Manager) takeIntent(ctx context.Context, call types.InboundCall) (types.TransferIntent, bool, error) {
	for _, key := range registry.LookupKeys(call.CallerPhoneNumber, call.ExternalCallID) {
		intent, ok, err := m.registry.TakeMatching(ctx, key)
		if err != nil {
			return types.TransferIntent{}, false, fmt.Errorf("failed to take transfer intent %s: %w", key, err)
		}
		if ok {
			return intent, true, nil
		}
	}
	return types.TransferIntent{}, false, nil
}

// HandleStatus applies a carrier status event to the attempt it is tagged with
func (m *Manager) HandleStatus(ctx context.Context, ev types.StatusEvent) error {
	s := m.session(ev.SessionID)
	if s == nil {
		metrics.Get().RecordStrayStatus()
		return ErrSessionNotFound
	}

	s.mu.Lock()
	fx := &effects{}
	m.applyStatusLocked(ctx, s, ev, fx)
	s.unlock()

	m.apply(ctx, fx)
	return nil
}

func (m *Manager) applyStatusLocked(ctx context.Context, s *session, ev types.StatusEvent, fx *effects) {
	log := m.logger.With().
		Str("session_id", s.id).
		Int("attempt", ev.Attempt).
		Str("leg_id", ev.LegID).
		Str("status", string(ev.Status)).
		Str("answered_by", string(ev.AnsweredBy)).
		Logger()

	a := s.current()
	if a == nil || ev.Attempt != s.cursor || (ev.LegID != "" && a.legID != "" && ev.LegID != a.legID) {
		metrics.Get().RecordStrayStatus()
		log.Warn().Int("cursor", s.cursor).Msg("status event for non-current attempt ignored")
		return
	}
	if s.state().Terminal() || !a.open() {
		log.Debug().Str("state", string(s.state())).Msg("status event after attempt finished ignored")
		return
	}
	if a.legID == "" {
		a.legID = ev.LegID
	}

	now := m.now()
	switch Classify(ev) {
	case OutcomePending:
		if ev.Status == types.CallStatusInProgress {
			a.outcome = types.AttemptAnswered
			s.stopTimer()
		}
		log.Debug().Msg("attempt progressing")

	case OutcomeConnected:
		if err := s.transition(ctx, eventConnect, now); err != nil {
			log.Error().Err(err).Msg("failed to mark session connected")
			return
		}
		a.finish(types.AttemptConnected, "", now)
		fx.events = append(fx.events, s.event("", now))
		snap := s.snapshot()
		fx.terminal = &snap
		log.Info().Str("candidate", a.candidate.Name).Dur("duration", ev.Duration).Msg("specialist connected")

	case OutcomeFailed:
		reason := string(ev.Status)
		if !ev.AnsweredBy.Human() {
			reason = "answered by " + string(ev.AnsweredBy)
		}
		a.finish(types.AttemptFailed, reason, now)
		s.stopTimer()
		log.Info().Str("candidate", a.candidate.Name).Str("reason", reason).Msg("attempt failed")
		m.advanceLocked(ctx, s, fx)
	}
}

// AnswerInstruction decides whether a freshly answered candidate leg joins the
// caller. Only the current, still open attempt of a dialing session may join,
// and never a machine.
func (m *Manager) AnswerInstruction(sessionID string, attemptIndex int, answeredBy types.AnsweredBy) AnswerDecision {
	s := m.session(sessionID)
	if s == nil {
		return AnswerDecision{Reason: "unknown session"}
	}

	s.mu.Lock()
	defer s.unlock()

	log := m.logger.With().Str("session_id", s.id).Int("attempt", attemptIndex).Logger()
	a := s.current()
	switch {
	case s.state().Terminal():
		log.Warn().Str("state", string(s.state())).Msg("answer on finished session rejected")
		return AnswerDecision{Reason: "session finished"}
	case a == nil || attemptIndex != s.cursor || !a.open():
		log.Warn().Int("cursor", s.cursor).Msg("answer on stale attempt rejected")
		return AnswerDecision{Reason: "stale attempt"}
	case !answeredBy.Human():
		log.Info().Str("answered_by", string(answeredBy)).Msg("machine answered, not joining bridge")
		return AnswerDecision{Reason: "answered by " + string(answeredBy)}
	}

	a.outcome = types.AttemptAnswered
	s.stopTimer()
	log.Info().Str("candidate", a.candidate.Name).Msg("candidate joining bridge")
	return AnswerDecision{Join: true, BridgeName: s.bridgeName}
}

// advanceLocked moves to the next candidate or exhausts the session
func (m *Manager) advanceLocked(ctx context.Context, s *session, fx *effects) {
	if !s.hasNext() {
		m.exhaustLocked(ctx, s, fx)
		return
	}
	s.cursor++
	m.dialLocked(ctx, s, fx)
}

// dialLocked originates the attempt at the cursor. A synchronous gateway
// failure counts as a failed attempt and moves on immediately.
func (m *Manager) dialLocked(ctx context.Context, s *session, fx *effects) {
	for {
		now := m.now()
		a := &attempt{
			index:     s.cursor,
			candidate: s.candidates[s.cursor],
			outcome:   types.AttemptPending,
			startedAt: now,
		}
		s.attempts = append(s.attempts, a)
		fx.events = append(fx.events, s.event("", now))

		log := m.logger.With().
			Str("session_id", s.id).
			Int("attempt", a.index).
			Str("candidate", a.candidate.Name).
			Logger()

		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.DialTimeout)
		legID, err := m.gateway.Originate(dialCtx, OriginateRequest{
			SessionID:  s.id,
			Attempt:    a.index,
			Candidate:  a.candidate,
			BridgeName: s.bridgeName,
		})
		cancel()

		if err == nil {
			a.legID = legID
			m.armTimerLocked(s, a.index)
			log.Info().Str("leg_id", legID).Msg("candidate dialed")
			return
		}

		metrics.Get().RecordDialError()
		log.Error().Err(err).Msg("failed to originate candidate leg")
		a.finish(types.AttemptFailed, "originate failed", m.now())

		if !s.hasNext() {
			m.exhaustLocked(ctx, s, fx)
			return
		}
		s.cursor++
	}
}

func (m *Manager) exhaustLocked(ctx context.Context, s *session, fx *effects) {
	now := m.now()
	if err := s.transition(ctx, eventExhaust, now); err != nil {
		m.logger.Error().Err(err).Str("session_id", s.id).Msg("failed to mark session exhausted")
		return
	}
	fx.events = append(fx.events, s.event("all candidates failed", now))
	snap := s.snapshot()
	fx.terminal = &snap
	fx.exhausted = true
	m.logger.Warn().
		Str("session_id", s.id).
		Str("department", s.department).
		Int("attempts", len(s.attempts)).
		Msg("all candidates failed, caller left in waiting bridge")
}

func (m *Manager) armTimerLocked(s *session, index int) {
	s.stopTimer()
	if m.opts.AttemptTimeout <= 0 {
		return
	}
	id := s.id
	s.timer = time.AfterFunc(m.opts.AttemptTimeout, func() {
		m.expireAttempt(id, index)
	})
}

// expireAttempt synthesizes a failure for exactly (sessionID, index) when the
// carrier never reported a final status, and cancels the hung leg.
func (m *Manager) expireAttempt(sessionID string, index int) {
	m.mu.RLock()
	s, closed := m.sessions[sessionID], m.closed
	m.mu.RUnlock()
	if s == nil || closed {
		return
	}

	ctx := context.Background()
	fx := &effects{}

	s.mu.Lock()
	a := s.current()
	if m.isClosed() || s.state().Terminal() || s.cursor != index || a == nil || a.outcome != types.AttemptPending {
		s.mu.Unlock()
		return
	}

	metrics.Get().RecordAttemptTimeout()
	m.logger.Warn().
		Str("session_id", s.id).
		Int("attempt", index).
		Str("leg_id", a.legID).
		Dur("timeout", m.opts.AttemptTimeout).
		Msg("attempt timed out")

	a.finish(types.AttemptFailed, "timeout", m.now())
	s.timer = nil
	if a.legID != "" {
		hangupCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
		if err := m.gateway.Hangup(hangupCtx, a.legID); err != nil {
			m.logger.Warn().Err(err).Str("leg_id", a.legID).Msg("failed to cancel timed out leg")
		}
		cancel()
	}
	m.advanceLocked(ctx, s, fx)
	s.unlock()

	m.apply(ctx, fx)
}

// apply runs the effects of a transition outside of the session lock
func (m *Manager) apply(ctx context.Context, fx *effects) {
	for _, ev := range fx.events {
		for _, l := range m.listeners {
			l.OnTransferEvent(ev)
		}
	}
	if fx.terminal == nil {
		return
	}

	if m.records != nil {
		if err := m.records.SaveTransferRecord(toRecord(*fx.terminal)); err != nil {
			m.logger.Error().Err(err).Str("session_id", fx.terminal.SessionID).Msg("failed to save transfer record")
		}
	}
	if fx.exhausted && m.exhausted != nil {
		m.exhausted(ctx, *fx.terminal)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) session(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Session returns a snapshot of one session
func (m *Manager) Session(id string) (types.SessionSnapshot, bool) {
	s := m.session(id)
	if s == nil {
		return types.SessionSnapshot{}, false
	}
	return *s.view.Load(), true
}

// Sessions returns snapshots of all retained sessions, newest first. It reads
// published views and never waits on a session busy with the gateway.
func (m *Manager) Sessions() []types.SessionSnapshot {
	m.mu.RLock()
	result := make([]types.SessionSnapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, *s.view.Load())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

// PruneSessions drops terminal sessions that ended more than retention ago
func (m *Manager) PruneSessions(now time.Time, retention time.Duration) int {
	m.mu.Lock()
	pruned := 0
	for id, s := range m.sessions {
		// terminal views are final, so no session lock is needed
		view := s.view.Load()
		if view.State.Terminal() && view.EndedAt != nil && now.Sub(*view.EndedAt) >= retention {
			delete(m.sessions, id)
			pruned++
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.Get().SetActiveSessions(active)
	return pruned
}

// Close stops every pending attempt timer. Sessions stay readable.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	for _, s := range list {
		s.mu.Lock()
		s.stopTimer()
		s.mu.Unlock()
	}
	m.logger.Info().Int("sessions", len(list)).Msg("transfer manager closed")
}
