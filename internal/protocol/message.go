package protocol

import (
	"time"
)

// Type is the explicit discriminator of a message variant.
// Tags are part of the wire format and must never be renamed.
type Type string

const (
	TypeStateChange         Type = "state_change"
	TypeReceiveHoleCards    Type = "receive_hole_cards"
	TypeReceivePublicCards  Type = "receive_public_cards"
	TypeRequestClientAction Type = "request_client_action_future"
	TypeFuture              Type = "future"
	TypeClientAction        Type = "client_action"
	TypeRoundWinners        Type = "round_winners"
	TypeTableButtons        Type = "table_buttons"
	TypePool                Type = "pool"
	TypeSetID               Type = "set_id"
	TypeSetClientParameter  Type = "set_client_parameter"
	TypeSetNickname         Type = "set_nickname"
	TypeToast               Type = "toast"
	TypeCheat               Type = "cheat"
	TypeReset               Type = "reset"
)

const (
	// MaxNicknameLen is counted in runes.
	MaxNicknameLen = 32
	// MaxFrameSize bounds a single encoded frame.
	MaxFrameSize = 16 << 10
)

// Body is the payload of one message variant.
type Body interface {
	Type() Type
	validate() error
}

// Message is the closed tagged union exchanged between server and clients.
// Timestamp is milliseconds since epoch, set at construction; it is advisory
// and never used for ordering.
type Message struct {
	Timestamp int64
	Body      Body
}

// New stamps body with the current time.
func New(body Body) Message {
	return Message{
		Timestamp: time.Now().UnixMilli(),
		Body:      body,
	}
}

func (m Message) Type() Type {
	if m.Body == nil {
		return ""
	}
	return m.Body.Type()
}

// IsSideChannel reports advisory variants whose delivery failures are
// swallowed and which are never awaited.
func (m Message) IsSideChannel() bool {
	switch m.Type() {
	case TypeToast, TypeCheat:
		return true
	}
	return false
}

// IsIdentity reports variants owned by the session manager.
func (m Message) IsIdentity() bool {
	switch m.Type() {
	case TypeSetID, TypeSetClientParameter, TypeSetNickname:
		return true
	}
	return false
}

// IsUnicastOnly reports variants that must be bound to exactly one identity.
func (m Message) IsUnicastOnly() bool {
	return m.Type() == TypeReceiveHoleCards
}

func (m Message) String() string {
	return string(m.Type()) + "@" + time.UnixMilli(m.Timestamp).UTC().Format("15:04:05.000")
}
