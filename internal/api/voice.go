package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/telephony"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/transfer"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/rs/zerolog"
)

// CallRouter drives transfer sessions from carrier events
type CallRouter interface {
	HandleInbound(ctx context.Context, call types.InboundCall) (transfer.InboundResult, error)
	HandleStatus(ctx context.Context, ev types.StatusEvent) error
	AnswerInstruction(sessionID string, attempt int, answeredBy types.AnsweredBy) transfer.AnswerDecision
}

// VoiceHandler answers the carrier's voice webhooks with call instructions
type VoiceHandler struct {
	router         CallRouter
	holdMusicURL   string
	apologyMessage string
	logger         zerolog.Logger
}

// NewVoiceHandler creates a new VoiceHandler
func NewVoiceHandler(router CallRouter, holdMusicURL, apologyMessage string, logger zerolog.Logger) *VoiceHandler {
	return &VoiceHandler{
		router:         router,
		holdMusicURL:   holdMusicURL,
		apologyMessage: apologyMessage,
		logger:         logger.With().Str("component", "voice_handler").Logger(),
	}
}

// Incoming handles POST /twilio/voice/incoming. The caller always gets an
// instruction: the waiting bridge when a transfer starts, the apology otherwise.
func (h *VoiceHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	call := telephony.ParseInbound(r.Form)

	result, err := h.router.HandleInbound(r.Context(), call)
	if err != nil {
		h.logger.Error().Err(err).Str("leg_id", call.LegID).Msg("failed to handle inbound call")
		h.apology(w)
		return
	}
	if result.Outcome != transfer.InboundBridged {
		h.apology(w)
		return
	}

	doc, err := telephony.BridgeTwiML(result.BridgeName, h.holdMusicURL)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to render bridge instruction")
		h.apology(w)
		return
	}
	writeTwiML(w, doc)
}

// CandidateAnswer handles POST /twilio/voice/candidate-answer?session=&attempt=
func (h *VoiceHandler) CandidateAnswer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	tag, err := telephony.ParseTag(r.Form)
	if err != nil {
		h.logger.Warn().Err(err).Msg("candidate answer without a valid tag")
		h.hangup(w)
		return
	}

	answeredBy := types.AnsweredBy(strings.ToLower(r.Form.Get("AnsweredBy")))
	decision := h.router.AnswerInstruction(tag.SessionID, tag.Attempt, answeredBy)
	if !decision.Join {
		h.logger.Info().
			Str("session_id", tag.SessionID).
			Int("attempt", tag.Attempt).
			Str("reason", decision.Reason).
			Msg("candidate leg not joined")
		h.hangup(w)
		return
	}

	doc, err := telephony.JoinTwiML(decision.BridgeName)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to render join instruction")
		h.hangup(w)
		return
	}
	writeTwiML(w, doc)
}

// Status handles POST /twilio/voice/status?session=&attempt=
func (h *VoiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	ev, err := telephony.ParseStatus(r.Form)
	if err != nil {
		h.logger.Warn().Err(err).Msg("invalid status callback")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.router.HandleStatus(r.Context(), ev); err != nil {
		if errors.Is(err, transfer.ErrSessionNotFound) {
			// late callback for a pruned session, nothing to retry
			h.logger.Debug().Str("session_id", ev.SessionID).Msg("status for unknown session")
		} else {
			h.logger.Error().Err(err).Str("session_id", ev.SessionID).Msg("failed to apply status event")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *VoiceHandler) apology(w http.ResponseWriter) {
	doc, err := telephony.ApologyTwiML(h.apologyMessage)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to render apology")
		h.hangup(w)
		return
	}
	writeTwiML(w, doc)
}

func (h *VoiceHandler) hangup(w http.ResponseWriter) {
	doc, err := telephony.HangupTwiML()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to render hangup")
		http.Error(w, "failed to render instruction", http.StatusInternalServerError)
		return
	}
	writeTwiML(w, doc)
}

func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}
