package game

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"example.com/wepoker/internal/future"
	"example.com/wepoker/internal/protocol"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrUnicastOnly  = errors.New("message may only be unicast")
	ErrNotConnected = errors.New("identity not connected")
)

// peer is the per-connection state owned by the reader goroutine. id stays
// 0 until the connection is identified.
type peer struct {
	conn *ClientConn
	log  *slog.Logger

	mu     sync.Mutex
	id     int
	timer  *time.Timer
	closed bool
}

func (p *peer) identity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *peer) logger() *slog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log
}

func (p *peer) close() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	return p.id
}

// route hands a decoded frame to its owner.
func (s *Server) route(p *peer, msg protocol.Message) {
	if msg.IsIdentity() {
		s.handleIdentity(p, msg)
		return
	}

	from := p.identity()
	if from == 0 {
		p.logger().Warn("dropping message before identification", "type", msg.Type())
		return
	}

	switch body := msg.Body.(type) {
	case protocol.FutureMessage:
		s.resolve(p.logger(), from, body)
	default:
		s.engine.OnMessage(from, msg)
	}
}

func (s *Server) resolve(log *slog.Logger, from int, fm protocol.FutureMessage) {
	owner, ok := s.futures.Owner(fm.FutureID)
	if ok && owner != from {
		log.Warn("dropping future response from another player", "future", fm.FutureID, "from", from, "owner", owner)
		return
	}

	action, err := fm.Action()
	if err != nil {
		log.Warn("dropping future response", "future", fm.FutureID, "from", from, "err", err)
		return
	}

	switch outcome := s.futures.Resolve(fm.FutureID, action); outcome {
	case future.Accepted:
		log.Debug("future resolved", "future", fm.FutureID, "from", from, "action", action.String())
	default:
		log.Info("future response ignored", "future", fm.FutureID, "from", from, "outcome", outcome)
	}
}

func (s *Server) handleIdentity(p *peer, msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	if p.id == 0 {
		switch body := msg.Body.(type) {
		case protocol.SetClientParameter:
			p.timer.Stop()
			ident, restored := s.sessions.Identify(p.conn, body)
			p.id = ident.ID
			p.log = p.log.With("id", ident.ID)
			if restored {
				s.resumeLocked(p, ident.ID)
				return
			}
			s.welcomeLocked(p, ident.ID)
		case protocol.SetNickname:
			p.timer.Stop()
			ident := s.sessions.Allocate(p.conn, body.Nickname)
			p.id = ident.ID
			p.log = p.log.With("id", ident.ID)
			s.welcomeLocked(p, ident.ID)
		default:
			p.log.Warn("unexpected identity message from client", "type", msg.Type())
		}
		return
	}

	switch body := msg.Body.(type) {
	case protocol.SetClientParameter:
		s.sessions.Update(p.id, body)
	case protocol.SetNickname:
		s.sessions.SetNickname(p.id, body.Nickname)
	default:
		p.log.Warn("unexpected identity message from client", "type", msg.Type())
	}
}

func (s *Server) identifyTimeout(p *peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.id != 0 {
		return
	}
	ident := s.sessions.Allocate(p.conn, "")
	p.id = ident.ID
	p.log = p.log.With("id", ident.ID)
	p.log.Info("client did not identify in time, allocated fresh identity")
	s.welcomeLocked(p, ident.ID)
}

// welcomeLocked sends the one SetID a fresh identity ever gets, then makes
// it active.
func (s *Server) welcomeLocked(p *peer, id int) {
	if err := p.conn.Send(protocol.New(protocol.SetID{ID: id})); err != nil {
		p.log.Error("send set_id failed", "err", err)
	}
	s.sessions.Activate(id)
}

// resumeLocked restates server truth to a restored identity and repeats
// every request it still owes an answer to.
func (s *Server) resumeLocked(p *peer, id int) {
	ident, ok := s.sessions.Get(id)
	if !ok {
		return
	}
	restate := protocol.New(protocol.SetClientParameter{
		ClientID:  ident.ID,
		Reconnect: true,
		Nickname:  ident.Nickname,
		Avatar:    ident.Avatar,
		Money:     ident.Money,
	})
	if err := p.conn.Send(restate); err != nil {
		p.log.Error("send client parameters failed", "err", err)
	}

	n := 0
	for _, fid := range s.futures.Pending(id) {
		s.mu.Lock()
		req, ok := s.requests[fid]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := p.conn.Send(req); err != nil {
			p.log.Error("re-send action request failed", "future", fid, "err", err)
			continue
		}
		n++
	}
	p.log.Info("identity resumed", "requests_resent", n)
}

// Unicast sends msg to one active identity.
func (s *Server) Unicast(id int, msg protocol.Message) error {
	conn, ok := s.sessions.Conn(id)
	if !ok {
		if msg.IsSideChannel() {
			return nil
		}
		return fmt.Errorf("unicast %s to %d: %w", msg.Type(), id, ErrNotConnected)
	}
	if err := conn.Send(msg); err != nil {
		if msg.IsSideChannel() {
			s.log.Debug("side channel send failed", "to", id, "type", msg.Type(), "err", err)
			return nil
		}
		return fmt.Errorf("unicast %s to %d: %w", msg.Type(), id, err)
	}
	return nil
}

// Broadcast sends msg to every active identity. Per-identity failures are
// collected; delivery to the others still happens.
func (s *Server) Broadcast(msg protocol.Message) error {
	return s.broadcastExcept(msg, 0)
}

func (s *Server) broadcastExcept(msg protocol.Message, except int) error {
	if msg.IsUnicastOnly() {
		return fmt.Errorf("broadcast %s: %w", msg.Type(), ErrUnicastOnly)
	}

	var errs error
	for _, id := range s.sessions.Active() {
		if id == except {
			continue
		}
		conn, ok := s.sessions.Conn(id)
		if !ok {
			continue
		}
		if err := conn.Send(msg); err != nil {
			if msg.IsSideChannel() {
				continue
			}
			s.log.Error("broadcast send failed", "to", id, "type", msg.Type(), "err", err)
			errs = multierror.Append(errs, fmt.Errorf("identity %d: %w", id, err))
		}
	}
	return errs
}
