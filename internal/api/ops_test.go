package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/auth"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/directory"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions []types.SessionSnapshot

func (f fakeSessions) Sessions() []types.SessionSnapshot { return f }

func (f fakeSessions) Session(id string) (types.SessionSnapshot, bool) {
	for _, s := range f {
		if s.SessionID == id {
			return s, true
		}
	}
	return types.SessionSnapshot{}, false
}

type fakeCounter struct {
	n   int
	err error
}

func (f fakeCounter) Count(context.Context) (int, error) { return f.n, f.err }

type fakeHistory struct {
	records   map[string][]types.TransferRecord
	truncated bool
}

func (f *fakeHistory) GetTransferRecords(dateKey string) ([]types.TransferRecord, error) {
	return f.records[dateKey], nil
}

func (f *fakeHistory) TruncateAll() error {
	f.truncated = true
	return nil
}

func asViewer(req *http.Request, departments ...string) *http.Request {
	claims := &auth.Claims{Role: auth.RoleViewer, Departments: departments}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

func testSessions() fakeSessions {
	return fakeSessions{
		{SessionID: "CA2", DepartmentName: "support", State: types.StateDialing},
		{SessionID: "CA1", DepartmentName: "Sales", State: types.StateConnected},
	}
}

func TestSessionsListFiltersByDepartment(t *testing.T) {
	h := NewSessionsHandler(testSessions(), fakeCounter{}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.List(rec, asViewer(httptest.NewRequest(http.MethodGet, "/api/sessions", nil), "sales"))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []types.SessionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "CA1", got[0].SessionID)

	// requests without claims see everything
	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestSessionsGet(t *testing.T) {
	h := NewSessionsHandler(testSessions(), fakeCounter{}, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/api/sessions/{sessionId}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/CA2", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessionId":"CA2"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, asViewer(httptest.NewRequest(http.MethodGet, "/api/sessions/CA2", nil), "sales"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPendingCount(t *testing.T) {
	h := NewSessionsHandler(testSessions(), fakeCounter{n: 3}, zerolog.Nop())
	rec := httptest.NewRecorder()
	h.Pending(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/pending", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":3}`, rec.Body.String())

	h = NewSessionsHandler(testSessions(), fakeCounter{err: errors.New("scan failed")}, zerolog.Nop())
	rec = httptest.NewRecorder()
	h.Pending(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/pending", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistory(t *testing.T) {
	store := &fakeHistory{records: map[string][]types.TransferRecord{
		"2026-03-01": {
			{DateKey: "2026-03-01", SessionID: "CA1", Department: "sales", Outcome: "connected"},
			{DateKey: "2026-03-01", SessionID: "CA2", Department: "support", Outcome: "exhausted"},
		},
	}}
	h := NewHistoryHandler(store, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC) }

	var got []types.TransferRecord

	rec := httptest.NewRecorder()
	h.GetHistory(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	rec = httptest.NewRecorder()
	h.GetHistory(rec, asViewer(httptest.NewRequest(http.MethodGet, "/api/transfers/history?date=2026-03-01", nil), "support"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "CA2", got[0].SessionID)

	rec = httptest.NewRecorder()
	h.GetHistory(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/history?date=2026-02-30x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.GetHistory(rec, httptest.NewRequest(http.MethodGet, "/api/transfers/history?date=2026-01-01", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.WipeHistory(rec, httptest.NewRequest(http.MethodDelete, "/api/transfers/history", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.truncated)
}

func TestDirectoryList(t *testing.T) {
	dir, err := directory.New(map[string][]types.Candidate{
		"sales":   {{Name: "alice", Number: "+15550000001"}, {Name: "bob", Number: "+15550000002"}},
		"support": {{Name: "carol", Number: "+15550000003"}},
	})
	require.NoError(t, err)
	h := NewDirectoryHandler(dir)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/directory", nil))
	assert.JSONEq(t, `[{"name":"sales","candidates":["alice","bob"]},{"name":"support","candidates":["carol"]}]`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "+1555")

	rec = httptest.NewRecorder()
	h.List(rec, asViewer(httptest.NewRequest(http.MethodGet, "/api/directory", nil), "support"))
	assert.JSONEq(t, `[{"name":"support","candidates":["carol"]}]`, rec.Body.String())
}
