package api

import (
	"net/http"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/rs/zerolog"
)

// HistoryStore reads and wipes persisted transfer outcomes
type HistoryStore interface {
	GetTransferRecords(dateKey string) ([]types.TransferRecord, error)
	TruncateAll() error
}

// HistoryHandler provides REST endpoints for finished transfers
type HistoryHandler struct {
	store  HistoryStore
	now    func() time.Time
	logger zerolog.Logger
}

// NewHistoryHandler creates a new HistoryHandler
func NewHistoryHandler(store HistoryStore, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "history_handler").Logger(),
	}
}

// GetHistory returns the transfer records of one day, today (UTC) by default
// GET /api/transfers/history?date=YYYY-MM-DD
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	records, err := h.store.GetTransferRecords(date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to get transfer records")
		writeError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}

	out := make([]types.TransferRecord, 0, len(records))
	for _, rec := range records {
		if visible(r, rec.Department) {
			out = append(out, rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// WipeHistory truncates the persisted history tables (admin only)
// DELETE /api/transfers/history
func (h *HistoryHandler) WipeHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate history tables")
		writeError(w, http.StatusInternalServerError, "failed to truncate history")
		return
	}

	h.logger.Info().Msg("transfer history truncated")
	writeJSON(w, http.StatusOK, map[string]string{"message": "transfer history truncated"})
}
