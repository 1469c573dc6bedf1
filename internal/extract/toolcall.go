// Package extract normalizes voice-AI tool invocation payloads into transfer
// requests. It never touches registry or session state.
package extract

import (
	"encoding/json"
	"errors"
	"strings"
)

// UnknownToolCallID is echoed back when no payload shape carries a tool call id
const UnknownToolCallID = "unknown_tool_call_id"

// ErrUnrecognizedPayload is returned for bodies matching none of the known shapes
var ErrUnrecognizedPayload = errors.New("unrecognized tool call payload")

// Result is the normalized content of a prepare-transfer tool invocation.
// Fields are copied verbatim; validation belongs to the caller.
type Result struct {
	ToolCallID        string
	DepartmentName    string
	ExternalCallID    string
	CallerPhoneNumber string
}

type toolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolCallItem struct {
	ID       string        `json:"id"`
	Function *toolFunction `json:"function"`
}

type customer struct {
	Number string `json:"number"`
}

type callInfo struct {
	ID       string    `json:"id"`
	Customer *customer `json:"customer"`
}

type envelope struct {
	Message *struct {
		ToolCallList []toolCallItem `json:"toolCallList"`
		ToolCalls    []toolCallItem `json:"toolCalls"`
		Call         *callInfo      `json:"call"`
		Customer     *customer      `json:"customer"`
	} `json:"message"`

	// legacy shape
	ToolCall *struct {
		ToolCallID string          `json:"toolCallId"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"toolCall"`
	Call *callInfo `json:"call"`
}

type arguments struct {
	DepartmentName    string `json:"departmentName"`
	Department        string `json:"department"`
	CallID            string `json:"callId"`
	ExternalCallID    string `json:"externalCallId"`
	CallerPhoneNumber string `json:"callerPhoneNumber"`
	CustomerNumber    string `json:"customerNumber"`
}

// ToolCall extracts a Result from a raw request body. On ErrUnrecognizedPayload
// the returned Result still carries whatever tool call id could be found so
// the caller can acknowledge the invocation.
func ToolCall(body []byte) (Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{ToolCallID: UnknownToolCallID}, ErrUnrecognizedPayload
	}

	var (
		toolCallID string
		rawArgs    json.RawMessage
		call       *callInfo
		fallback   *customer
	)

	switch {
	case env.Message != nil && (len(env.Message.ToolCallList) > 0 || len(env.Message.ToolCalls) > 0):
		items := env.Message.ToolCallList
		if len(items) == 0 {
			items = env.Message.ToolCalls
		}
		toolCallID = items[0].ID
		if items[0].Function != nil {
			rawArgs = items[0].Function.Arguments
		}
		call = env.Message.Call
		fallback = env.Message.Customer
	case env.ToolCall != nil:
		toolCallID = env.ToolCall.ToolCallID
		rawArgs = env.ToolCall.Parameters
		call = env.Call
	default:
		return Result{ToolCallID: UnknownToolCallID}, ErrUnrecognizedPayload
	}

	if strings.TrimSpace(toolCallID) == "" {
		toolCallID = UnknownToolCallID
	}

	args, err := decodeArguments(rawArgs)
	if err != nil {
		return Result{ToolCallID: toolCallID}, ErrUnrecognizedPayload
	}

	res := Result{
		ToolCallID:        toolCallID,
		DepartmentName:    firstNonEmpty(args.DepartmentName, args.Department),
		ExternalCallID:    firstNonEmpty(args.ExternalCallID, args.CallID),
		CallerPhoneNumber: firstNonEmpty(args.CallerPhoneNumber, args.CustomerNumber),
	}
	if call != nil {
		res.ExternalCallID = firstNonEmpty(res.ExternalCallID, call.ID)
		if call.Customer != nil {
			res.CallerPhoneNumber = firstNonEmpty(res.CallerPhoneNumber, call.Customer.Number)
		}
	}
	if fallback != nil {
		res.CallerPhoneNumber = firstNonEmpty(res.CallerPhoneNumber, fallback.Number)
	}
	return res, nil
}

// decodeArguments accepts either a JSON object or a JSON string holding one
func decodeArguments(raw json.RawMessage) (arguments, error) {
	var args arguments
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return args, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return args, err
		}
		if strings.TrimSpace(encoded) == "" {
			return args, nil
		}
		raw = json.RawMessage(encoded)
	}
	err := json.Unmarshal(raw, &args)
	return args, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
