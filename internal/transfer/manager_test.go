package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/directory"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/registry"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = types.Candidate{Name: "alice", Number: "+15550000001"}
	bob   = types.Candidate{Name: "bob", Number: "+15550000002"}
	carol = types.Candidate{Name: "carol", Number: "+15550000003"}
)

const callerNumber = "+15557654321"

type fakeGateway struct {
	mu      sync.Mutex
	dials   []OriginateRequest
	hangups []string
	reject  map[string]bool // candidate numbers whose dial fails synchronously

	entered chan struct{} // signalled when a dial starts, if set
	hold    chan struct{} // dials wait for it to close, if set
}

func (g *fakeGateway) Originate(_ context.Context, req OriginateRequest) (string, error) {
	if g.entered != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
	}
	if g.hold != nil {
		<-g.hold
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dials = append(g.dials, req)
	if g.reject[req.Candidate.Number] {
		return "", errors.New("carrier rejected dial")
	}
	return legID(req.SessionID, req.Attempt), nil
}

func (g *fakeGateway) Hangup(_ context.Context, legID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hangups = append(g.hangups, legID)
	return nil
}

func (g *fakeGateway) dialed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.dials))
	for _, d := range g.dials {
		names = append(names, d.Candidate.Name)
	}
	return names
}

func (g *fakeGateway) hungUp() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.hangups...)
}

type recordingListener struct {
	mu     sync.Mutex
	events []types.TransferEvent
}

func (l *recordingListener) OnTransferEvent(ev types.TransferEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *recordingListener) states() []types.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.SessionState, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.State)
	}
	return out
}

type memoryRecords struct {
	mu      sync.Mutex
	records []types.TransferRecord
}

func (r *memoryRecords) SaveTransferRecord(record types.TransferRecord) error {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()
	return nil
}

func legID(sessionID string, attempt int) string {
	return fmt.Sprintf("leg-%s-%d", sessionID, attempt)
}

type harness struct {
	mgr      *Manager
	gw       *fakeGateway
	store    *registry.MemoryStore
	listener *recordingListener
	records  *memoryRecords
}

func newHarness(t *testing.T, opts Options, departments map[string][]types.Candidate) *harness {
	t.Helper()
	dir, err := directory.New(departments)
	require.NoError(t, err)

	h := &harness{
		gw:       &fakeGateway{reject: map[string]bool{}},
		store:    registry.NewMemoryStore(time.Minute),
		listener: &recordingListener{},
		records:  &memoryRecords{},
	}
	h.mgr = NewManager(h.store, dir, h.gw, opts, zerolog.Nop())
	h.mgr.AddListener(h.listener)
	h.mgr.SetRecordStore(h.records)
	t.Cleanup(h.mgr.Close)
	return h
}

// start prepares a transfer for department and delivers the matching inbound leg
func (h *harness) start(t *testing.T, department, sessionID string) InboundResult {
	t.Helper()
	ctx := context.Background()
	_, err := h.mgr.Prepare(ctx, PrepareRequest{
		DepartmentName:    department,
		ExternalCallID:    "vapi-" + sessionID,
		CallerPhoneNumber: callerNumber,
		AcknowledgmentID:  "tool-" + sessionID,
	})
	require.NoError(t, err)

	res, err := h.mgr.HandleInbound(ctx, types.InboundCall{LegID: sessionID, CallerPhoneNumber: callerNumber})
	require.NoError(t, err)
	require.Equal(t, InboundBridged, res.Outcome)
	return res
}

func (h *harness) status(t *testing.T, sessionID string, attempt int, st types.CallStatus, by types.AnsweredBy, d time.Duration) {
	t.Helper()
	err := h.mgr.HandleStatus(context.Background(), types.StatusEvent{
		SessionID:  sessionID,
		Attempt:    attempt,
		LegID:      legID(sessionID, attempt),
		Status:     st,
		AnsweredBy: by,
		Duration:   d,
	})
	require.NoError(t, err)
}

func (h *harness) snapshot(t *testing.T, sessionID string) types.SessionSnapshot {
	t.Helper()
	snap, ok := h.mgr.Session(sessionID)
	require.True(t, ok)
	return snap
}

func TestSequentialDialConnectsThirdCandidate(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob, carol}})

	res := h.start(t, "Sales", "CA100")
	assert.Equal(t, "transfer-CA100", res.BridgeName)
	assert.Equal(t, []string{"alice"}, h.gw.dialed())

	h.status(t, "CA100", 0, types.CallStatusBusy, "", 0)
	snap := h.snapshot(t, "CA100")
	assert.Equal(t, types.StateDialing, snap.State)
	assert.Equal(t, 1, snap.Cursor)

	h.status(t, "CA100", 1, types.CallStatusNoAnswer, "", 0)
	assert.Equal(t, 2, h.snapshot(t, "CA100").Cursor)

	h.status(t, "CA100", 2, types.CallStatusCompleted, types.AnsweredByHuman, 5*time.Second)

	snap = h.snapshot(t, "CA100")
	assert.Equal(t, types.StateConnected, snap.State)
	assert.Equal(t, 2, snap.Cursor)
	assert.NotNil(t, snap.EndedAt)
	assert.Equal(t, []string{"alice", "bob", "carol"}, h.gw.dialed())
	assert.Equal(t, []types.SessionState{
		types.StateDialing, types.StateDialing, types.StateDialing, types.StateConnected,
	}, h.listener.states())

	require.Len(t, snap.Attempts, 3)
	assert.Equal(t, types.AttemptFailed, snap.Attempts[0].Outcome)
	assert.Equal(t, "busy", snap.Attempts[0].Reason)
	assert.Equal(t, types.AttemptConnected, snap.Attempts[2].Outcome)

	require.Len(t, h.records.records, 1)
	rec := h.records.records[0]
	assert.Equal(t, "connected", rec.Outcome)
	assert.Equal(t, "carol", rec.ConnectedTo)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, "Sales", rec.Department)
}

func TestAllCandidatesFailExhausts(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"support": {alice, bob}})

	var exhausted []types.SessionSnapshot
	h.mgr.SetExhaustedHandler(func(_ context.Context, s types.SessionSnapshot) {
		exhausted = append(exhausted, s)
	})

	h.start(t, "support", "CA200")
	h.status(t, "CA200", 0, types.CallStatusFailed, "", 0)
	h.status(t, "CA200", 1, types.CallStatusNoAnswer, "", 0)

	snap := h.snapshot(t, "CA200")
	assert.Equal(t, types.StateExhausted, snap.State)
	assert.Equal(t, []string{"alice", "bob"}, h.gw.dialed())
	require.Len(t, exhausted, 1)
	assert.Equal(t, "CA200", exhausted[0].SessionID)

	// late events never dial again
	h.status(t, "CA200", 1, types.CallStatusCompleted, types.AnsweredByHuman, 3*time.Second)
	h.status(t, "CA200", 2, types.CallStatusBusy, "", 0)
	assert.Len(t, h.gw.dialed(), 2)
	assert.Equal(t, types.StateExhausted, h.snapshot(t, "CA200").State)
	assert.Len(t, exhausted, 1)

	require.Len(t, h.records.records, 1)
	assert.Equal(t, "exhausted", h.records.records[0].Outcome)
	assert.Empty(t, h.records.records[0].ConnectedTo)
}

func TestStaleStatusEventIgnored(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob, carol}})

	h.start(t, "sales", "CA300")
	h.status(t, "CA300", 0, types.CallStatusBusy, "", 0)

	// duplicate failure and a late success for attempt 0
	h.status(t, "CA300", 0, types.CallStatusBusy, "", 0)
	h.status(t, "CA300", 0, types.CallStatusCompleted, types.AnsweredByHuman, 10*time.Second)

	snap := h.snapshot(t, "CA300")
	assert.Equal(t, types.StateDialing, snap.State)
	assert.Equal(t, 1, snap.Cursor)
	assert.Equal(t, []string{"alice", "bob"}, h.gw.dialed())
}

func TestStatusForForeignLegIgnored(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob}})
	h.start(t, "sales", "CA310")

	err := h.mgr.HandleStatus(context.Background(), types.StatusEvent{
		SessionID: "CA310",
		Attempt:   0,
		LegID:     "some-other-leg",
		Status:    types.CallStatusBusy,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, h.snapshot(t, "CA310").Cursor)
	assert.Len(t, h.gw.dialed(), 1)
}

func TestMachineAnsweredCompletedAdvances(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob}})

	h.start(t, "sales", "CA400")
	h.status(t, "CA400", 0, types.CallStatusCompleted, types.AnsweredByMachineEndBeep, 25*time.Second)

	snap := h.snapshot(t, "CA400")
	assert.Equal(t, types.StateDialing, snap.State)
	assert.Equal(t, 1, snap.Cursor)
	assert.Equal(t, "answered by machine_end_beep", snap.Attempts[0].Reason)
	assert.Equal(t, []string{"alice", "bob"}, h.gw.dialed())
}

func TestProgressEventsDoNotAdvance(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob}})

	h.start(t, "sales", "CA410")
	h.status(t, "CA410", 0, types.CallStatusRinging, "", 0)
	h.status(t, "CA410", 0, types.CallStatusInProgress, types.AnsweredByHuman, 0)

	snap := h.snapshot(t, "CA410")
	assert.Equal(t, 0, snap.Cursor)
	assert.Equal(t, types.AttemptAnswered, snap.Attempts[0].Outcome)
	assert.Len(t, h.gw.dialed(), 1)

	h.status(t, "CA410", 0, types.CallStatusCompleted, types.AnsweredByHuman, 42*time.Second)
	assert.Equal(t, types.StateConnected, h.snapshot(t, "CA410").State)
}

func TestInboundWithoutIntentNeverDials(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice}})

	res, err := h.mgr.HandleInbound(context.Background(), types.InboundCall{LegID: "CA500", CallerPhoneNumber: callerNumber})
	require.NoError(t, err)
	assert.Equal(t, InboundNoRoute, res.Outcome)
	assert.Equal(t, "no pending transfer", res.Reason)

	assert.Empty(t, h.gw.dialed())
	assert.Empty(t, h.mgr.Sessions())
	_, ok := h.mgr.Session("CA500")
	assert.False(t, ok)
}

func TestInboundForUnroutableDepartment(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"empty": {}})
	ctx := context.Background()

	tests := []struct {
		department string
		reason     string
	}{
		{"nowhere", "unknown department"},
		{"empty", "department has no candidates"},
	}
	for i, tt := range tests {
		t.Run(tt.department, func(t *testing.T) {
			phone := fmt.Sprintf("+1555111000%d", i)
			_, err := h.mgr.Prepare(ctx, PrepareRequest{DepartmentName: tt.department, ExternalCallID: "c", CallerPhoneNumber: phone})
			require.NoError(t, err)

			res, err := h.mgr.HandleInbound(ctx, types.InboundCall{LegID: "leg-" + tt.department, CallerPhoneNumber: phone})
			require.NoError(t, err)
			assert.Equal(t, InboundNoRoute, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}

	assert.Empty(t, h.gw.dialed())
	assert.Empty(t, h.mgr.Sessions())
	count, _ := h.store.Count(ctx)
	assert.Zero(t, count, "intent is consumed even when it cannot be routed")
}

func TestInboundMatchesOnCallIDWhenNumberWithheld(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice}})
	ctx := context.Background()

	ack, err := h.mgr.Prepare(ctx, PrepareRequest{DepartmentName: "sales", ExternalCallID: "vapi-9", CallerPhoneNumber: "anonymous"})
	require.NoError(t, err)
	assert.Equal(t, "call:vapi-9", ack.Key)

	res, err := h.mgr.HandleInbound(ctx, types.InboundCall{LegID: "CA600", CallerPhoneNumber: "anonymous", ExternalCallID: "vapi-9"})
	require.NoError(t, err)
	assert.Equal(t, InboundBridged, res.Outcome)
	assert.Equal(t, []string{"alice"}, h.gw.dialed())
}

func TestPrepareValidation(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice}})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     PrepareRequest
		wantErr error
	}{
		{"missing department", PrepareRequest{ExternalCallID: "c1", AcknowledgmentID: "tool_abc"}, ErrMissingDepartment},
		{"blank department", PrepareRequest{DepartmentName: "  ", ExternalCallID: "c1", AcknowledgmentID: "tool_abc"}, ErrMissingDepartment},
		{"missing call id", PrepareRequest{DepartmentName: "sales", AcknowledgmentID: "tool_abc"}, ErrMissingCallID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := h.mgr.Prepare(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, "tool_abc", ack.AcknowledgmentID)
		})
	}

	count, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "rejected preparations must not mutate the registry")

	ack, err := h.mgr.Prepare(ctx, PrepareRequest{DepartmentName: "sales", ExternalCallID: "c2", CallerPhoneNumber: callerNumber, AcknowledgmentID: "tool_ok"})
	require.NoError(t, err)
	assert.Equal(t, "tool_ok", ack.AcknowledgmentID)
	assert.Equal(t, "phone:"+callerNumber, ack.Key)
	assert.Contains(t, ack.Message, "sales")
}

func TestSecondPreparationOverwritesFirst(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice}, "support": {bob}})
	ctx := context.Background()

	for _, dept := range []string{"sales", "support"} {
		_, err := h.mgr.Prepare(ctx, PrepareRequest{DepartmentName: dept, ExternalCallID: "c-" + dept, CallerPhoneNumber: callerNumber})
		require.NoError(t, err)
	}

	_, err := h.mgr.HandleInbound(ctx, types.InboundCall{LegID: "CA700", CallerPhoneNumber: callerNumber})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, h.gw.dialed())
	assert.Equal(t, "support", h.snapshot(t, "CA700").DepartmentName)

	// consumed: a second caller leg from the same number gets no route
	res, err := h.mgr.HandleInbound(ctx, types.InboundCall{LegID: "CA701", CallerPhoneNumber: callerNumber})
	require.NoError(t, err)
	assert.Equal(t, InboundNoRoute, res.Outcome)
}

func TestDuplicateInboundDoesNotRedial(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob}})
	h.start(t, "sales", "CA800")

	res, err := h.mgr.HandleInbound(context.Background(), types.InboundCall{LegID: "CA800", CallerPhoneNumber: callerNumber})
	require.NoError(t, err)
	assert.Equal(t, InboundBridged, res.Outcome)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "transfer-CA800", res.BridgeName)
	assert.Equal(t, []string{"alice"}, h.gw.dialed())
}

// heldStore parks every TakeMatching until release is closed
type heldStore struct {
	registry.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *heldStore) TakeMatching(ctx context.Context, key string) (types.TransferIntent, bool, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.TakeMatching(ctx, key)
}

func newHeldManager(t *testing.T) (*Manager, *heldStore, *fakeGateway) {
	t.Helper()
	dir, err := directory.New(map[string][]types.Candidate{"sales": {alice, bob}})
	require.NoError(t, err)
	store := &heldStore{
		Store:   registry.NewMemoryStore(time.Minute),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	gw := &fakeGateway{reject: map[string]bool{}}
	mgr := NewManager(store, dir, gw, Options{}, zerolog.Nop())
	t.Cleanup(mgr.Close)
	return mgr, store, gw
}

// inboundWhileFirstPending delivers call twice, the second while the first is
// still looking up its intent, and returns both results
func inboundWhileFirstPending(t *testing.T, mgr *Manager, store *heldStore, call types.InboundCall) (InboundResult, InboundResult) {
	t.Helper()
	first := make(chan InboundResult, 1)
	go func() {
		res, err := mgr.HandleInbound(context.Background(), call)
		assert.NoError(t, err)
		first <- res
	}()

	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatal("first inbound never reached the registry")
	}
	time.AfterFunc(50*time.Millisecond, func() { close(store.release) })

	dup, err := mgr.HandleInbound(context.Background(), call)
	require.NoError(t, err)
	return <-first, dup
}

func TestDuplicateInboundDuringLookupGetsApology(t *testing.T) {
	mgr, store, gw := newHeldManager(t)

	first, dup := inboundWhileFirstPending(t, mgr, store, types.InboundCall{LegID: "CA850", CallerPhoneNumber: callerNumber})

	assert.Equal(t, InboundNoRoute, first.Outcome)
	assert.Equal(t, InboundNoRoute, dup.Outcome)
	assert.True(t, dup.Duplicate)
	assert.Empty(t, dup.BridgeName)

	_, ok := mgr.Session("CA850")
	assert.False(t, ok)
	assert.Empty(t, gw.dialed())
}

func TestDuplicateInboundDuringLookupSharesBridge(t *testing.T) {
	mgr, store, gw := newHeldManager(t)
	_, err := mgr.Prepare(context.Background(), PrepareRequest{DepartmentName: "sales", ExternalCallID: "vapi-851", CallerPhoneNumber: callerNumber})
	require.NoError(t, err)

	first, dup := inboundWhileFirstPending(t, mgr, store, types.InboundCall{LegID: "CA851", CallerPhoneNumber: callerNumber})

	assert.Equal(t, InboundBridged, first.Outcome)
	assert.Equal(t, InboundBridged, dup.Outcome)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, "transfer-CA851", dup.BridgeName)
	assert.Equal(t, []string{"alice"}, gw.dialed())
}

func TestSessionsReadableDuringSlowDial(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice}})
	h.gw.entered = make(chan struct{}, 1)
	h.gw.hold = make(chan struct{})

	_, err := h.mgr.Prepare(context.Background(), PrepareRequest{DepartmentName: "sales", ExternalCallID: "vapi-860", CallerPhoneNumber: callerNumber})
	require.NoError(t, err)

	inboundDone := make(chan struct{})
	go func() {
		defer close(inboundDone)
		_, err := h.mgr.HandleInbound(context.Background(), types.InboundCall{LegID: "CA860", CallerPhoneNumber: callerNumber})
		assert.NoError(t, err)
	}()

	select {
	case <-h.gw.entered:
	case <-time.After(time.Second):
		t.Fatal("dial never started")
	}

	read := make(chan []types.SessionSnapshot, 1)
	go func() {
		h.mgr.PruneSessions(time.Now(), 0)
		read <- h.mgr.Sessions()
	}()

	select {
	case list := <-read:
		require.Len(t, list, 1)
		assert.Equal(t, "CA860", list[0].SessionID)
		assert.Equal(t, types.StateDialing, list[0].State)
	case <-time.After(time.Second):
		t.Fatal("session listing waited on the gateway")
	}

	close(h.gw.hold)
	<-inboundDone

	snap := h.snapshot(t, "CA860")
	require.Len(t, snap.Attempts, 1)
	assert.Equal(t, legID("CA860", 0), snap.Attempts[0].LegID)
}

func TestSynchronousDialFailureAdvances(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob}})
	h.gw.reject[alice.Number] = true

	h.start(t, "sales", "CA900")

	snap := h.snapshot(t, "CA900")
	assert.Equal(t, types.StateDialing, snap.State)
	assert.Equal(t, 1, snap.Cursor)
	assert.Equal(t, "originate failed", snap.Attempts[0].Reason)
	assert.Equal(t, []string{"alice", "bob"}, h.gw.dialed())
}

func TestSynchronousDialFailureOnLastCandidateExhausts(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob}})
	h.gw.reject[alice.Number] = true
	h.gw.reject[bob.Number] = true

	res := h.start(t, "sales", "CA901")
	assert.Equal(t, InboundBridged, res.Outcome, "caller still parks in the bridge")

	snap := h.snapshot(t, "CA901")
	assert.Equal(t, types.StateExhausted, snap.State)
	assert.Len(t, h.gw.dialed(), 2)
	assert.Equal(t, []types.SessionState{
		types.StateDialing, types.StateDialing, types.StateExhausted,
	}, h.listener.states())
}

func TestAttemptTimeoutSynthesizesFailure(t *testing.T) {
	h := newHarness(t, Options{AttemptTimeout: 20 * time.Millisecond}, map[string][]types.Candidate{"sales": {alice, bob, carol}})
	h.start(t, "sales", "CA1000")

	assert.Eventually(t, func() bool {
		return len(h.gw.dialed()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	h.mgr.Close()

	assert.Contains(t, h.gw.hungUp(), legID("CA1000", 0))
	snap := h.snapshot(t, "CA1000")
	assert.GreaterOrEqual(t, snap.Cursor, 1)
	assert.Equal(t, types.AttemptFailed, snap.Attempts[0].Outcome)
	assert.Equal(t, "timeout", snap.Attempts[0].Reason)

	// the cancelled leg's own final status is now stale
	h.status(t, "CA1000", 0, types.CallStatusCanceled, "", 0)
	assert.Equal(t, snap.Cursor, h.snapshot(t, "CA1000").Cursor)
}

func TestAnsweredAttemptDoesNotTimeOut(t *testing.T) {
	h := newHarness(t, Options{AttemptTimeout: 100 * time.Millisecond}, map[string][]types.Candidate{"sales": {alice, bob}})
	h.start(t, "sales", "CA1100")

	decision := h.mgr.AnswerInstruction("CA1100", 0, types.AnsweredByHuman)
	require.True(t, decision.Join)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, []string{"alice"}, h.gw.dialed())
	assert.Empty(t, h.gw.hungUp())
}

func TestAnswerInstruction(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob, carol}})
	h.start(t, "sales", "CA1200")

	d := h.mgr.AnswerInstruction("CA1200", 0, types.AnsweredByMachineStart)
	assert.False(t, d.Join)
	assert.Equal(t, "answered by machine_start", d.Reason)

	h.status(t, "CA1200", 0, types.CallStatusCompleted, types.AnsweredByMachineStart, 8*time.Second)

	d = h.mgr.AnswerInstruction("CA1200", 0, types.AnsweredByHuman)
	assert.False(t, d.Join)
	assert.Equal(t, "stale attempt", d.Reason)

	d = h.mgr.AnswerInstruction("CA1200", 1, "")
	assert.True(t, d.Join)
	assert.Equal(t, "transfer-CA1200", d.BridgeName)

	d = h.mgr.AnswerInstruction("missing", 0, types.AnsweredByHuman)
	assert.False(t, d.Join)

	h.status(t, "CA1200", 1, types.CallStatusCompleted, types.AnsweredByHuman, 30*time.Second)
	d = h.mgr.AnswerInstruction("CA1200", 1, types.AnsweredByHuman)
	assert.False(t, d.Join)
	assert.Equal(t, "session finished", d.Reason)
}

func TestConcurrentFailuresAdvanceOnce(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice, bob, carol}})
	h.start(t, "sales", "CA1300")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.mgr.HandleStatus(context.Background(), types.StatusEvent{
				SessionID: "CA1300",
				Attempt:   0,
				LegID:     legID("CA1300", 0),
				Status:    types.CallStatusNoAnswer,
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"alice", "bob"}, h.gw.dialed())
	assert.Equal(t, 1, h.snapshot(t, "CA1300").Cursor)
}

func TestStatusForUnknownSession(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice}})
	err := h.mgr.HandleStatus(context.Background(), types.StatusEvent{SessionID: "nope", Status: types.CallStatusBusy})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPruneSessionsKeepsLiveOnes(t *testing.T) {
	h := newHarness(t, Options{}, map[string][]types.Candidate{"sales": {alice}})
	h.start(t, "sales", "CA1400")

	_, err := h.mgr.Prepare(context.Background(), PrepareRequest{DepartmentName: "sales", ExternalCallID: "x", CallerPhoneNumber: "+15559990000"})
	require.NoError(t, err)
	_, err = h.mgr.HandleInbound(context.Background(), types.InboundCall{LegID: "CA1401", CallerPhoneNumber: "+15559990000"})
	require.NoError(t, err)

	h.status(t, "CA1400", 0, types.CallStatusBusy, "", 0)
	require.Equal(t, types.StateExhausted, h.snapshot(t, "CA1400").State)

	assert.Zero(t, h.mgr.PruneSessions(time.Now(), time.Hour))
	assert.Equal(t, 1, h.mgr.PruneSessions(time.Now().Add(2*time.Hour), time.Hour))

	_, ok := h.mgr.Session("CA1400")
	assert.False(t, ok)
	_, ok = h.mgr.Session("CA1401")
	assert.True(t, ok, "dialing sessions are never pruned")
}
