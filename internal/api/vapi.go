// Package api exposes the HTTP surface: the voice-agent tool endpoint, the
// carrier voice webhooks and the operations API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/extract"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/transfer"
	"github.com/rs/zerolog"
)

const maxToolCallBody = 1 << 20

// Preparer stores transfer intents announced by the voice agent
type Preparer interface {
	Prepare(ctx context.Context, req transfer.PrepareRequest) (transfer.Acknowledgment, error)
}

type toolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

type toolResponse struct {
	Results []toolResult `json:"results"`
}

// VapiHandler serves the prepare-sequential-transfer tool call
type VapiHandler struct {
	preparer Preparer
	logger   zerolog.Logger
}

// NewVapiHandler creates a new VapiHandler
func NewVapiHandler(preparer Preparer, logger zerolog.Logger) *VapiHandler {
	return &VapiHandler{
		preparer: preparer,
		logger:   logger.With().Str("component", "vapi_handler").Logger(),
	}
}

// PrepareTransfer handles POST /api/vapi/prepare-sequential-transfer
func (h *VapiHandler) PrepareTransfer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxToolCallBody))
	if err != nil {
		h.respond(w, http.StatusBadRequest, toolResult{ToolCallID: extract.UnknownToolCallID, Error: "failed to read request body"})
		return
	}

	call, err := extract.ToolCall(body)
	if err != nil {
		h.logger.Warn().Err(err).Str("tool_call_id", call.ToolCallID).Msg("unrecognized tool call payload")
		h.respond(w, http.StatusBadRequest, toolResult{ToolCallID: call.ToolCallID, Error: err.Error()})
		return
	}

	ack, err := h.preparer.Prepare(r.Context(), transfer.PrepareRequest{
		DepartmentName:    call.DepartmentName,
		ExternalCallID:    call.ExternalCallID,
		CallerPhoneNumber: call.CallerPhoneNumber,
		AcknowledgmentID:  call.ToolCallID,
	})
	switch {
	case errors.Is(err, transfer.ErrMissingDepartment), errors.Is(err, transfer.ErrMissingCallID):
		h.logger.Warn().Err(err).Str("tool_call_id", call.ToolCallID).Msg("rejected transfer preparation")
		h.respond(w, http.StatusBadRequest, toolResult{ToolCallID: ack.AcknowledgmentID, Error: err.Error()})
		return
	case err != nil:
		h.logger.Error().Err(err).Str("tool_call_id", call.ToolCallID).Msg("failed to prepare transfer")
		h.respond(w, http.StatusInternalServerError, toolResult{ToolCallID: ack.AcknowledgmentID, Error: "failed to prepare transfer"})
		return
	}

	h.respond(w, http.StatusOK, toolResult{ToolCallID: ack.AcknowledgmentID, Result: ack.Message})
}

func (h *VapiHandler) respond(w http.ResponseWriter, status int, result toolResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(toolResponse{Results: []toolResult{result}}); err != nil {
		h.logger.Error().Err(err).Msg("failed to write tool call response")
	}
}
