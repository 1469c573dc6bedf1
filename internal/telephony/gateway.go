// Package telephony adapts the orchestrator to the carrier: it originates and
// cancels candidate legs, renders call instructions and parses carrier callbacks.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/transfer"
	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	AnswerPath = "/twilio/voice/candidate-answer"
	StatusPath = "/twilio/voice/status"
)

// ErrNotConfigured is returned by DisabledGateway for every dial
var ErrNotConfigured = errors.New("telephony gateway not configured")

// CallAPI is the part of the carrier REST API used for candidate legs.
// *openapi.ApiService satisfies it.
type CallAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// GatewayConfig holds what the gateway needs to place calls
type GatewayConfig struct {
	AccountSID  string
	AuthToken   string
	CallerID    string
	BaseURL     string // externally reachable base for callbacks, no trailing slash
	RingTimeout int    // seconds the carrier lets a candidate ring
	// RequestTimeout bounds each REST request. The carrier client takes no
	// context, so this is what enforces the dial deadline.
	RequestTimeout time.Duration
}

// TwilioGateway originates candidate legs through the Twilio REST API
type TwilioGateway struct {
	api    CallAPI
	cfg    GatewayConfig
	logger zerolog.Logger
}

// NewTwilioGateway creates a gateway backed by a Twilio REST client
func NewTwilioGateway(cfg GatewayConfig, logger zerolog.Logger) *TwilioGateway {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Client: newBaseClient(cfg),
	})
	return NewGatewayWithAPI(rest.Api, cfg, logger)
}

func newBaseClient(cfg GatewayConfig) *client.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := &client.Client{
		Credentials: client.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  &http.Client{Timeout: timeout},
	}
	base.SetAccountSid(cfg.AccountSID)
	return base
}

// NewGatewayWithAPI creates a gateway over any CallAPI implementation
func NewGatewayWithAPI(api CallAPI, cfg GatewayConfig, logger zerolog.Logger) *TwilioGateway {
	return &TwilioGateway{
		api:    api,
		cfg:    cfg,
		logger: logger.With().Str("component", "telephony").Logger(),
	}
}

// Originate dials a candidate. On answer the carrier fetches the answer gate,
// and every progress event is reported to the status callback tagged with
// the session and attempt.
func (g *TwilioGateway) Originate(ctx context.Context, req transfer.OriginateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(req.Candidate.Number)
	params.SetFrom(g.cfg.CallerID)
	params.SetUrl(CallbackURL(g.cfg.BaseURL, AnswerPath, req.SessionID, req.Attempt))
	params.SetMethod("POST")
	params.SetStatusCallback(CallbackURL(g.cfg.BaseURL, StatusPath, req.SessionID, req.Attempt))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetMachineDetection("Enable")
	if g.cfg.RingTimeout > 0 {
		params.SetTimeout(g.cfg.RingTimeout)
	}

	resp, err := g.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call to %s: %w", req.Candidate.Name, err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", fmt.Errorf("create call to %s returned no call sid", req.Candidate.Name)
	}

	g.logger.Debug().
		Str("session_id", req.SessionID).
		Int("attempt", req.Attempt).
		Str("leg_id", *resp.Sid).
		Msg("candidate leg created")
	return *resp.Sid, nil
}

// Hangup cancels a leg that is still ringing, or ends it if it was answered
func (g *TwilioGateway) Hangup(ctx context.Context, legID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.UpdateCallParams{}
	params.SetStatus("canceled")
	if _, err := g.api.UpdateCall(legID, params); err == nil {
		return nil
	}

	params = &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := g.api.UpdateCall(legID, params); err != nil {
		return fmt.Errorf("failed to hang up leg %s: %w", legID, err)
	}
	return nil
}

// DisabledGateway refuses every dial; sessions exhaust immediately. It keeps
// the service usable for preparation traffic when no carrier is configured.
type DisabledGateway struct{}

func (DisabledGateway) Originate(context.Context, transfer.OriginateRequest) (string, error) {
	return "", ErrNotConfigured
}

func (DisabledGateway) Hangup(context.Context, string) error {
	return ErrNotConfigured
}

// CallbackURL builds a carrier callback tagged with (session, attempt)
func CallbackURL(base, path, sessionID string, attempt int) string {
	q := url.Values{}
	q.Set("session", sessionID)
	q.Set("attempt", strconv.Itoa(attempt))
	return base + path + "?" + q.Encode()
}
