package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const Version = "0.2"

// Message types.
const (
	TypeDiscover         = "discover"
	TypeWelcome          = "welcome"
	TypeDiscoverResponse = "discover_response"
	TypeHandoffRequest   = "handoff_request"
	TypeHandoffConfirm   = "handoff_confirm"

	TypeRegisterWorld   = "register_world"
	TypeRegisterConfirm = "register_confirm"
	TypeHandoffRejected = "handoff_rejected"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeError           = "error"
	TypeSync            = "sync"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Message is implemented by every wire message variant.
type Message interface {
	MsgType() string
}

var ErrMalformed = errors.New("malformed message")

type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string { return fmt.Sprintf("unknown message type %q", e.Type) }

// Decode is the single dispatch-by-tag step at the wire boundary.
func Decode(b []byte) (Message, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if base.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var m Message
	switch base.Type {
	case TypeDiscover:
		m = &DiscoverMsg{}
	case TypeWelcome:
		m = &WelcomeMsg{}
	case TypeDiscoverResponse:
		m = &DiscoverResponseMsg{}
	case TypeHandoffRequest:
		m = &HandoffRequestMsg{}
	case TypeHandoffConfirm:
		m = &HandoffConfirmMsg{}
	case TypeRegisterWorld:
		m = &RegisterWorldMsg{}
	case TypeRegisterConfirm:
		m = &RegisterConfirmMsg{}
	case TypeHandoffRejected:
		m = &HandoffRejectedMsg{}
	case TypePing:
		m = &PingMsg{}
	case TypePong:
		m = &PongMsg{}
	case TypeError:
		m = &ErrorMsg{}
	case TypeSync:
		m = &SyncMsg{}
	default:
		return nil, &UnknownTypeError{Type: base.Type}
	}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, base.Type, err)
	}
	return m, nil
}

// Now returns the wire timestamp (float seconds since epoch).
func Now() float64 { return Timestamp(time.Now()) }

func Timestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
