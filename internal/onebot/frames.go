// Package onebot implements the OneBot-compatible wire protocol: frame types
// and the stateless adapter between wire segments and the internal message
// representation.
package onebot

import (
	"encoding/json"
	"fmt"

	"personabot/internal/domain"
)

// FlexID decodes a JSON string or number into a string. Platform gateways are
// inconsistent about whether ids arrive quoted.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// EventFrame is an incoming JSON frame from the platform gateway.
type EventFrame struct {
	Type       string           `json:"type"`
	DetailType string           `json:"detail_type,omitempty"`
	Time       int64            `json:"time,omitempty"`
	SelfID     FlexID           `json:"self_id,omitempty"`
	MessageID  FlexID           `json:"message_id,omitempty"`
	UserID     FlexID           `json:"user_id,omitempty"`
	GroupID    FlexID           `json:"group_id,omitempty"`
	Message    []domain.Segment `json:"message,omitempty"`
	Interval   int              `json:"interval,omitempty"`
}

// ActionFrame is an outbound action call or an inbound action request.
type ActionFrame struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Echo   string         `json:"echo,omitempty"`
}

// ResponseFrame answers an action call.
type ResponseFrame struct {
	Status  string `json:"status"` // ok | failed
	Retcode int    `json:"retcode"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
	Echo    string `json:"echo,omitempty"`
}

// Well-known retcodes for failure responses.
const (
	RetcodeBadRequest   = 1400
	RetcodeNotConnected = 1404
	RetcodeTimeout      = 1504
)

// OKResponse builds a successful response carrying data.
func OKResponse(echo string, data any) ResponseFrame {
	return ResponseFrame{Status: "ok", Retcode: 0, Data: data, Echo: echo}
}

// FailedResponse builds a structured failure response.
func FailedResponse(echo string, retcode int, message string) ResponseFrame {
	return ResponseFrame{Status: "failed", Retcode: retcode, Message: message, Echo: echo}
}
