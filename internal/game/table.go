package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/wepoker/internal/future"
	"example.com/wepoker/internal/protocol"
	"example.com/wepoker/internal/showdown"
	"example.com/wepoker/internal/store"
	"github.com/google/uuid"
)

var ErrUnknownIdentity = errors.New("unknown identity")

// ReceivedAction is the server-side record of an answered (or defaulted)
// action request.
type ReceivedAction struct {
	From     int
	FutureID uuid.UUID
	Action   protocol.ClientAction
	Status   future.Status

	handled bool
}

// MarkHandled flags the action as consumed by the engine. It reports false
// if it was already handled.
func (a *ReceivedAction) MarkHandled() bool {
	if a.handled {
		return false
	}
	a.handled = true
	return true
}

func (a *ReceivedAction) Handled() bool { return a.handled }

// Defaulted reports whether Action is the default given at issue time.
func (a *ReceivedAction) Defaulted() bool { return a.Status != future.StatusResolved }

// IssueActionRequest asks target for a decision in round. def is what the
// request settles with if the player never answers. A target that is
// momentarily disconnected still gets a future; the request is repeated
// when it comes back.
func (s *Server) IssueActionRequest(target, round int, def protocol.ClientAction) (uuid.UUID, error) {
	if _, ok := s.sessions.Get(target); !ok {
		return uuid.Nil, fmt.Errorf("issue action request to %d: %w", target, ErrUnknownIdentity)
	}
	if err := def.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("issue action request to %d: default: %w", target, err)
	}

	id := s.futures.Create(target, def)
	msg := protocol.New(protocol.RequestClientActionFuture{FutureID: id, Round: round})

	s.mu.Lock()
	s.requests[id] = msg
	s.mu.Unlock()

	if err := s.Unicast(target, msg); err != nil {
		if errors.Is(err, ErrNotConnected) {
			s.log.Info("action request held for reconnect", "future", id, "to", target)
			return id, nil
		}
		return id, err
	}
	s.log.Debug("action requested", "future", id, "to", target, "round", round)
	return id, nil
}

// AwaitAction blocks until the request is answered, times out, or its
// player expires. timeout <= 0 uses Config.ActionTimeout. The settled action
// is echoed to the rest of the table.
func (s *Server) AwaitAction(ctx context.Context, id uuid.UUID, timeout time.Duration) (*ReceivedAction, error) {
	if timeout <= 0 {
		timeout = s.cfg.ActionTimeout
	}

	res, err := s.futures.Await(ctx, id, timeout)

	s.mu.Lock()
	_, known := s.requests[id]
	delete(s.requests, id)
	s.mu.Unlock()

	if errors.Is(err, future.ErrUnknownFuture) {
		return nil, err
	}

	ra := &ReceivedAction{
		From:     res.Owner,
		FutureID: id,
		Action:   res.Value,
		Status:   res.Status,
	}
	if err != nil {
		return ra, err
	}
	if !known {
		return ra, nil
	}

	if res.Defaulted() {
		s.log.Info("action defaulted", "future", id, "from", ra.From, "status", res.Status, "action", ra.Action.String())
	}

	echo := protocol.New(protocol.ClientActionMessage{UserID: ra.From, Action: ra.Action})
	if err := s.broadcastExcept(echo, ra.From); err != nil {
		s.log.Warn("action echo incomplete", "future", id, "err", err)
	}
	return ra, nil
}

func (s *Server) BroadcastStateChange(phase protocol.Phase) error {
	return s.Broadcast(protocol.New(protocol.StateChange{Phase: phase}))
}

func (s *Server) BroadcastPublicCards(cards []protocol.Card) error {
	return s.Broadcast(protocol.New(protocol.ReceivePublicCards{Cards: cards}))
}

// SendHoleCards deals two private cards to one player.
func (s *Server) SendHoleCards(target int, c1, c2 protocol.Card) error {
	return s.Unicast(target, protocol.New(protocol.ReceiveHoleCards{Card1: c1, Card2: c2}))
}

// DeclareRoundWinners announces the outcome. When hand has 5 to 7 cards and
// no description, the description is filled in. The round is recorded in
// History when one is configured.
func (s *Server) DeclareRoundWinners(ctx context.Context, winners []protocol.Winner, hand protocol.Hand, chips int, showCards bool) error {
	if hand.Description == "" && len(hand.Cards) >= 5 {
		desc, err := showdown.Describe(hand.Cards)
		if err != nil {
			s.log.Warn("cannot describe winning hand", "err", err)
		} else {
			hand.Description = desc
		}
	}

	decl := protocol.RoundWinnersDeclaration{
		Winners:   winners,
		ShowCards: showCards,
		Hand:      hand,
		Chips:     chips,
	}
	if err := s.Broadcast(protocol.New(decl)); err != nil {
		return err
	}

	s.recordRound(ctx, decl)
	return nil
}

func (s *Server) recordRound(ctx context.Context, decl protocol.RoundWinnersDeclaration) {
	if s.history == nil {
		return
	}

	r := store.Round{
		TableID:   s.cfg.TableID,
		WinnerIDs: make([]int, 0, len(decl.Winners)),
		Winners:   make([]string, 0, len(decl.Winners)),
		Hand:      decl.Hand.Description,
		Cards:     make([]string, 0, len(decl.Hand.Cards)),
		Chips:     decl.Chips,
		ShowCards: decl.ShowCards,
	}
	for _, w := range decl.Winners {
		r.WinnerIDs = append(r.WinnerIDs, w.ID)
		r.Winners = append(r.Winners, w.Nickname)
	}
	for _, c := range decl.Hand.Cards {
		r.Cards = append(r.Cards, c.String())
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.history.RecordRound(ctx, r); err != nil {
		s.log.Error("round history write failed", "err", err)
	}
}

func (s *Server) UpdatePool(total int) error {
	return s.Broadcast(protocol.New(protocol.Pool{Total: total}))
}

func (s *Server) SetTableButtons(b protocol.TableButtons) error {
	return s.Broadcast(protocol.New(b))
}

// SetMoney records a player's stack as server truth and tells the player.
func (s *Server) SetMoney(id, money int) error {
	if !s.sessions.SetMoney(id, money) {
		return fmt.Errorf("set money of %d: %w", id, ErrUnknownIdentity)
	}
	ident, _ := s.sessions.Get(id)
	msg := protocol.New(protocol.SetClientParameter{
		ClientID: ident.ID,
		Nickname: ident.Nickname,
		Avatar:   ident.Avatar,
		Money:    ident.Money,
	})
	if err := s.Unicast(id, msg); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Toast shows text on every device. Delivery is best effort.
func (s *Server) Toast(text string) {
	_ = s.Broadcast(protocol.New(protocol.Toast{Text: text}))
}

func (s *Server) Reset() error {
	return s.Broadcast(protocol.New(protocol.Reset{}))
}
