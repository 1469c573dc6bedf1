package telephony

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
)

var (
	ErrMissingSession = errors.New("callback missing session tag")
	ErrInvalidAttempt = errors.New("callback attempt tag is not a valid index")
)

// Tag is the (session, attempt) pair carried on candidate leg callbacks
type Tag struct {
	SessionID string
	Attempt   int
}

// ParseTag reads the session and attempt query parameters set by CallbackURL
func ParseTag(values url.Values) (Tag, error) {
	sessionID := strings.TrimSpace(values.Get("session"))
	if sessionID == "" {
		return Tag{}, ErrMissingSession
	}
	attempt, err := strconv.Atoi(values.Get("attempt"))
	if err != nil || attempt < 0 {
		return Tag{}, ErrInvalidAttempt
	}
	return Tag{SessionID: sessionID, Attempt: attempt}, nil
}

// ParseStatus maps a status callback form into a StatusEvent
func ParseStatus(values url.Values) (types.StatusEvent, error) {
	tag, err := ParseTag(values)
	if err != nil {
		return types.StatusEvent{}, err
	}

	ev := types.StatusEvent{
		SessionID:  tag.SessionID,
		Attempt:    tag.Attempt,
		LegID:      values.Get("CallSid"),
		Status:     types.CallStatus(strings.ToLower(values.Get("CallStatus"))),
		AnsweredBy: types.AnsweredBy(strings.ToLower(values.Get("AnsweredBy"))),
	}
	if ev.Status == "" {
		return types.StatusEvent{}, fmt.Errorf("status callback for %s has no CallStatus", tag.SessionID)
	}
	if raw := values.Get("CallDuration"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return types.StatusEvent{}, fmt.Errorf("invalid CallDuration %q: %w", raw, err)
		}
		ev.Duration = time.Duration(secs) * time.Second
	}
	return ev, nil
}

// ParseInbound maps the caller's incoming-call webhook into an InboundCall.
// A voice platform call id is only present when the forwarding trunk passes it
// through as the callId query parameter.
func ParseInbound(values url.Values) types.InboundCall {
	return types.InboundCall{
		LegID:             strings.TrimSpace(values.Get("CallSid")),
		CallerPhoneNumber: strings.TrimSpace(values.Get("From")),
		ExternalCallID:    strings.TrimSpace(values.Get("callId")),
	}
}
