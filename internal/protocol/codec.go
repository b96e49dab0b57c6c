package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownVariant   = errors.New("unknown message variant")
)

// envelope is the wire frame: {"type":"...","ts":...,"payload":{...}}
type envelope struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode is the exact inverse of Decode.
func Encode(m Message) ([]byte, error) {
	if m.Body == nil {
		return nil, fmt.Errorf("%w: nil body", ErrMalformedMessage)
	}
	if err := m.Body.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, m.Type(), err)
	}

	payload, err := json.Marshal(m.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, m.Type(), err)
	}

	data, err := json.Marshal(envelope{
		Type:      m.Type(),
		Timestamp: m.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame too large (%d bytes)", ErrMalformedMessage, len(data))
	}
	return data, nil
}

// Decode maps one frame to exactly one variant. It fails with
// ErrMalformedMessage or ErrUnknownVariant; both are recoverable.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: frame too large (%d bytes)", ErrMalformedMessage, len(data))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	body, err := decodeBody(env.Type, env.Payload)
	if err != nil {
		return Message{}, err
	}
	if err := body.validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Type, err)
	}

	return Message{Timestamp: env.Timestamp, Body: body}, nil
}

func decodeBody(t Type, raw json.RawMessage) (Body, error) {
	switch t {
	case TypeStateChange:
		return unmarshalBody[StateChange](t, raw)
	case TypeReceiveHoleCards:
		return unmarshalBody[ReceiveHoleCards](t, raw)
	case TypeReceivePublicCards:
		return unmarshalBody[ReceivePublicCards](t, raw)
	case TypeRequestClientAction:
		return unmarshalBody[RequestClientActionFuture](t, raw)
	case TypeFuture:
		return unmarshalBody[FutureMessage](t, raw)
	case TypeClientAction:
		return unmarshalBody[ClientActionMessage](t, raw)
	case TypeRoundWinners:
		return unmarshalBody[RoundWinnersDeclaration](t, raw)
	case TypeTableButtons:
		return unmarshalBody[TableButtons](t, raw)
	case TypePool:
		return unmarshalBody[Pool](t, raw)
	case TypeSetID:
		return unmarshalBody[SetID](t, raw)
	case TypeSetClientParameter:
		return unmarshalBody[SetClientParameter](t, raw)
	case TypeSetNickname:
		return unmarshalBody[SetNickname](t, raw)
	case TypeToast:
		return unmarshalBody[Toast](t, raw)
	case TypeCheat:
		return unmarshalBody[Cheat](t, raw)
	case TypeReset:
		return unmarshalBody[Reset](t, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, t)
	}
}

func unmarshalBody[B Body](t Type, raw json.RawMessage) (Body, error) {
	var b B
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, t, err)
		}
	}
	return b, nil
}
