package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Phase is the engine's game phase. The protocol treats it as opaque.
type Phase string

const (
	PhaseStopped           Phase = "stopped"
	PhaseWaitingForPlayers Phase = "waiting_for_players"
	PhasePreFlop           Phase = "preflop"
	PhaseFlop              Phase = "flop"
	PhaseTurn              Phase = "turn"
	PhaseRiver             Phase = "river"
	PhaseEndOfRound        Phase = "end_of_round"
)

type ActionType string

const (
	ActionBet     ActionType = "bet"
	ActionFold    ActionType = "fold"
	ActionCheck   ActionType = "check"
	ActionAllIn   ActionType = "all_in"
	ActionUnknown ActionType = "unknown" // server side: undecided
)

// UnmarshalText maps anything unrecognised to ActionUnknown so that newer
// clients cannot break older servers.
func (a *ActionType) UnmarshalText(b []byte) error {
	switch t := ActionType(b); t {
	case ActionBet, ActionFold, ActionCheck, ActionAllIn:
		*a = t
	default:
		*a = ActionUnknown
	}
	return nil
}

// ClientAction is the transmissible part of a player decision.
type ClientAction struct {
	Type       ActionType `json:"type"`
	RoundMoney int        `json:"roundMoney"`
	ExtraMoney int        `json:"extraMoney"`
}

func Fold() ClientAction  { return ClientAction{Type: ActionFold} }
func Check() ClientAction { return ClientAction{Type: ActionCheck} }

func Bet(roundMoney, extraMoney int) ClientAction {
	return ClientAction{Type: ActionBet, RoundMoney: roundMoney, ExtraMoney: extraMoney}
}

func AllIn(roundMoney, extraMoney int) ClientAction {
	return ClientAction{Type: ActionAllIn, RoundMoney: roundMoney, ExtraMoney: extraMoney}
}

func (a ClientAction) String() string {
	switch a.Type {
	case ActionFold, ActionCheck:
		return string(a.Type)
	}
	return fmt.Sprintf("%s(%d / %d)", a.Type, a.RoundMoney, a.ExtraMoney)
}

// Validate reports whether a can be sent as is. Only the known action types
// survive a round trip; anything else would come back as ActionUnknown.
func (a ClientAction) Validate() error { return a.validate() }

func (a ClientAction) validate() error {
	switch a.Type {
	case ActionBet, ActionFold, ActionCheck, ActionAllIn, ActionUnknown:
	default:
		return fmt.Errorf("unsupported action type %q", a.Type)
	}
	if a.RoundMoney < 0 || a.ExtraMoney < 0 {
		return errors.New("negative action amount")
	}
	return nil
}

// --- state sync ---

type StateChange struct {
	Phase Phase `json:"phase"`
}

func (StateChange) Type() Type { return TypeStateChange }

func (b StateChange) validate() error {
	if b.Phase == "" {
		return errors.New("empty phase")
	}
	return validateText("phase", string(b.Phase))
}

// --- card delivery ---

// ReceiveHoleCards must only ever be unicast.
type ReceiveHoleCards struct {
	Card1 Card `json:"card1"`
	Card2 Card `json:"card2"`
}

func (ReceiveHoleCards) Type() Type { return TypeReceiveHoleCards }

func (b ReceiveHoleCards) validate() error {
	if !b.Card1.Valid() || !b.Card2.Valid() {
		return errors.New("missing hole card")
	}
	return nil
}

// ReceivePublicCards lists board cards in reveal order.
type ReceivePublicCards struct {
	Cards []Card `json:"cards"`
}

func (ReceivePublicCards) Type() Type { return TypeReceivePublicCards }

func (b ReceivePublicCards) validate() error {
	return validateCards(b.Cards)
}

// --- request/response ---

type RequestClientActionFuture struct {
	FutureID uuid.UUID `json:"futureId"`
	Round    int       `json:"round"`
}

func (RequestClientActionFuture) Type() Type { return TypeRequestClientAction }

func (b RequestClientActionFuture) validate() error {
	if b.FutureID == uuid.Nil {
		return errors.New("nil future id")
	}
	if b.Round < 0 {
		return errors.New("negative round")
	}
	return nil
}

// FutureMessage resolves a pending future. Value is opaque to the catalog.
type FutureMessage struct {
	FutureID uuid.UUID       `json:"futureId"`
	Value    json.RawMessage `json:"value,omitempty"`
}

func (FutureMessage) Type() Type { return TypeFuture }

func (b FutureMessage) validate() error {
	if b.FutureID == uuid.Nil {
		return errors.New("nil future id")
	}
	return nil
}

// NewActionResponse builds the FutureMessage a client sends to answer an
// action request.
func NewActionResponse(id uuid.UUID, action ClientAction) (FutureMessage, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return FutureMessage{}, err
	}
	return FutureMessage{FutureID: id, Value: raw}, nil
}

// Action decodes Value as a ClientAction.
func (b FutureMessage) Action() (ClientAction, error) {
	var a ClientAction
	if len(b.Value) == 0 {
		return a, fmt.Errorf("%w: empty future value", ErrMalformedMessage)
	}
	if err := json.Unmarshal(b.Value, &a); err != nil {
		return a, fmt.Errorf("%w: future value: %v", ErrMalformedMessage, err)
	}
	if a.Type == "" {
		a.Type = ActionUnknown
	}
	if err := a.validate(); err != nil {
		return a, fmt.Errorf("%w: future value: %v", ErrMalformedMessage, err)
	}
	return a, nil
}

// --- player action ---

// ClientActionMessage echoes a resolved action to the table.
type ClientActionMessage struct {
	UserID int          `json:"userId"`
	Action ClientAction `json:"action"`
}

func (ClientActionMessage) Type() Type { return TypeClientAction }

func (b ClientActionMessage) validate() error {
	return b.Action.validate()
}

// --- round outcome ---

type Winner struct {
	ID       int    `json:"id"`
	Nickname string `json:"nickname"`
}

type Hand struct {
	Cards       []Card `json:"cards"`
	Description string `json:"description"`
}

type RoundWinnersDeclaration struct {
	Winners   []Winner `json:"winners"`
	ShowCards bool     `json:"showCards"`
	Hand      Hand     `json:"hand"`
	Chips     int      `json:"chips"`
}

func (RoundWinnersDeclaration) Type() Type { return TypeRoundWinners }

func (b RoundWinnersDeclaration) validate() error {
	if len(b.Winners) == 0 {
		return errors.New("no winners")
	}
	if b.Chips < 0 {
		return errors.New("negative chips")
	}
	for _, w := range b.Winners {
		if err := validateNickname(w.Nickname); err != nil {
			return err
		}
	}
	if err := validateText("hand description", b.Hand.Description); err != nil {
		return err
	}
	return validateCards(b.Hand.Cards)
}

// --- table admin ---

type TableButtons struct {
	DealerID     int `json:"dealerId"`
	SmallBlindID int `json:"smallBlindId"`
	SmallBlind   int `json:"smallBlind"`
	BigBlindID   int `json:"bigBlindId"`
	BigBlind     int `json:"bigBlind"`
}

func (TableButtons) Type() Type { return TypeTableButtons }

func (b TableButtons) validate() error {
	if b.SmallBlind < 0 || b.BigBlind < 0 {
		return errors.New("negative blind")
	}
	return nil
}

type Pool struct {
	Total int `json:"total"`
}

func (Pool) Type() Type { return TypePool }

func (b Pool) validate() error {
	if b.Total < 0 {
		return errors.New("negative pool")
	}
	return nil
}

// --- identity ---

type SetID struct {
	ID int `json:"id"`
}

func (SetID) Type() Type { return TypeSetID }

func (b SetID) validate() error {
	if b.ID < 0 {
		return errors.New("negative id")
	}
	return nil
}

// SetClientParameter registers a fresh client or restates parameters on
// reconnect. It flows in both directions.
type SetClientParameter struct {
	ClientID  int    `json:"clientId"`
	Reconnect bool   `json:"reconnect"`
	Nickname  string `json:"nickname"`
	Avatar    int    `json:"avatar"`
	Money     int    `json:"money"`
}

func (SetClientParameter) Type() Type { return TypeSetClientParameter }

func (b SetClientParameter) validate() error {
	if err := validateNickname(b.Nickname); err != nil {
		return err
	}
	if b.Money < 0 {
		return errors.New("negative money")
	}
	return nil
}

type SetNickname struct {
	Nickname string `json:"nickname"`
}

func (SetNickname) Type() Type { return TypeSetNickname }

func (b SetNickname) validate() error {
	if b.Nickname == "" {
		return errors.New("empty nickname")
	}
	return validateNickname(b.Nickname)
}

// --- side channel ---

type Toast struct {
	Text string `json:"text"`
}

func (Toast) Type() Type { return TypeToast }

func (b Toast) validate() error { return validateText("toast", b.Text) }

type Cheat struct {
	Nickname string `json:"nickname"`
	Amount   int    `json:"amount"`
}

func (Cheat) Type() Type { return TypeCheat }

func (b Cheat) validate() error { return validateNickname(b.Nickname) }

// --- control ---

// Reset tells clients to drop local game state and wait for a StateChange.
type Reset struct{}

func (Reset) Type() Type { return TypeReset }

func (Reset) validate() error { return nil }

// validateText rejects strings the JSON encoder would silently rewrite.
func validateText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s is not utf-8", field)
	}
	return nil
}

func validateNickname(s string) error {
	if err := validateText("nickname", s); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(s); n > MaxNicknameLen {
		return fmt.Errorf("nickname too long (%d > %d)", n, MaxNicknameLen)
	}
	return nil
}

func validateCards(cards []Card) error {
	for i, c := range cards {
		if !c.Valid() {
			return fmt.Errorf("card %d invalid", i)
		}
	}
	return nil
}
