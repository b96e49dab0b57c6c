package game

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"example.com/wepoker/internal/auth"
	"example.com/wepoker/internal/future"
	"example.com/wepoker/internal/protocol"
	"example.com/wepoker/internal/session"
	"example.com/wepoker/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Config struct {
	TableID string

	// ActionTimeout bounds AwaitAction when the caller passes no timeout.
	ActionTimeout time.Duration
	// IdentifyTimeout is how long a new connection may stay silent before
	// it is given a fresh identity.
	IdentifyTimeout time.Duration
	PingPeriod      time.Duration
	WriteWait       time.Duration
	SendBuffer      int
}

func (c Config) withDefaults() Config {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 30 * time.Second
	}
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = 5 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 25 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// History records declared rounds.
type History interface {
	RecordRound(ctx context.Context, r store.Round) error
}

// Players records who sat at the table.
type Players interface {
	Upsert(ctx context.Context, p store.Player) error
}

type Deps struct {
	Sessions *session.Manager
	Futures  *future.Registry[protocol.ClientAction]
	Verifier Verifier
	Engine   Engine  // nil: LogEngine
	History  History // optional
	Players  Players // optional
}

// Server is the dispatch channel of one table and the API the engine uses
// to talk to the players.
type Server struct {
	cfg Config
	log *slog.Logger

	sessions *session.Manager
	futures  *future.Registry[protocol.ClientAction]
	verifier Verifier
	engine   Engine
	history  History
	players  Players

	mu       sync.Mutex
	requests map[uuid.UUID]protocol.Message // action requests not yet awaited, re-sent on restore
}

func NewServer(cfg Config, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if deps.Engine == nil {
		deps.Engine = LogEngine{Log: log}
	}
	s := &Server{
		cfg:      cfg.withDefaults(),
		log:      log,
		sessions: deps.Sessions,
		futures:  deps.Futures,
		verifier: deps.Verifier,
		engine:   deps.Engine,
		history:  deps.History,
		players:  deps.Players,
		requests: make(map[uuid.UUID]protocol.Message),
	}
	s.sessions.SetEvents(s)
	s.futures.OnEvict(s.forgetRequest)
	return s
}

func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
}

// handleWS accepts a device. The join token comes from the Authorization
// header or ?token=.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := s.verifier.Verify(token); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	cc := newClientConn(ws, s.cfg.SendBuffer)
	go cc.writeLoop(s.cfg.PingPeriod, s.cfg.WriteWait)

	p := &peer{
		conn: cc,
		log:  s.log.With("conn", cc.ID(), "remote", r.RemoteAddr),
	}
	p.log.Info("connection accepted")

	p.mu.Lock()
	p.timer = time.AfterFunc(s.cfg.IdentifyTimeout, func() { s.identifyTimeout(p) })
	p.mu.Unlock()

	pongWait := s.cfg.PingPeriod * 2
	ws.SetReadLimit(protocol.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	// reader loop
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			p.logger().Warn("dropping frame", "err", err)
			continue
		}
		s.route(p, msg)
	}

	// disconnect
	id := p.close()
	_ = cc.Close()
	if id != 0 {
		s.sessions.Disconnect(id, cc)
	}
	p.logger().Info("connection closed", "id", id)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// OnIdentityConnected implements session.Events.
func (s *Server) OnIdentityConnected(id session.Identity, reconnected bool) {
	s.recordPlayer(id)
	s.engine.OnIdentityConnected(id, reconnected)
}

// OnIdentityExpired implements session.Events. Requests the player still
// owed stay recorded until awaited so their defaults are echoed.
func (s *Server) OnIdentityExpired(id session.Identity) {
	s.engine.OnIdentityExpired(id)
}

// forgetRequest drops a request whose future has been swept.
func (s *Server) forgetRequest(id uuid.UUID) {
	s.mu.Lock()
	delete(s.requests, id)
	s.mu.Unlock()
}

func (s *Server) recordPlayer(id session.Identity) {
	if s.players == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := s.players.Upsert(ctx, store.Player{
		TableID:  s.cfg.TableID,
		ID:       id.ID,
		Nickname: id.Nickname,
		Avatar:   id.Avatar,
		Money:    id.Money,
	})
	if err != nil {
		s.log.Error("player upsert failed", "id", id.ID, "err", err)
	}
}

const storeTimeout = 2 * time.Second
