// Package session assigns stable identities to player connections and keeps
// them alive across short disconnects.
package session

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"example.com/wepoker/internal/protocol"
)

type State int

const (
	StateConnecting State = iota
	StateIdentified
	StateActive
	StateDisconnected
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateExpired:
		return "expired"
	}
	return "invalid"
}

// Identity is a snapshot of one player's session.
type Identity struct {
	ID             int       `json:"id"`
	Nickname       string    `json:"nickname"`
	Avatar         int       `json:"avatar"`
	Money          int       `json:"money"`
	State          State     `json:"state"`
	ConnectedAt    time.Time `json:"connectedAt"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitzero"`
}

// Conn is the outbound side of a transport connection.
type Conn interface {
	Send(msg protocol.Message) error
	Close() error
}

// Expirer settles whatever is still waiting on an identity that is gone.
type Expirer interface {
	ExpireOwner(owner int) int
}

// Events receives identity lifecycle notifications. Calls are made without
// holding the manager lock.
type Events interface {
	OnIdentityConnected(id Identity, reconnected bool)
	OnIdentityExpired(id Identity)
}

type Config struct {
	// Grace is how long a disconnected identity waits for its device.
	Grace time.Duration
}

type entry struct {
	Identity
	conn  Conn
	timer *time.Timer
	token int64 // invalidates stale grace timers
}

type Manager struct {
	cfg Config
	log *slog.Logger

	futures Expirer
	events  Events
	store   Store

	mu     sync.Mutex
	nextID int
	ids    map[int]*entry

	// storeMu orders store writes; a Save never lands after the Delete of
	// an expired identity.
	storeMu sync.Mutex
}

func NewManager(cfg Config, futures Expirer, events Events, store Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if store == nil {
		store = nopStore{}
	}
	return &Manager{
		cfg:     cfg,
		log:     log,
		futures: futures,
		events:  events,
		store:   store,
		nextID:  1,
		ids:     make(map[int]*entry),
	}
}

// SetEvents installs the lifecycle listener. It must be called before the
// first connection is accepted.
func (m *Manager) SetEvents(events Events) {
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()
}

// Identify handles the first SetClientParameter of a connection. A
// reconnect whose (nickname, clientId) matches an identity in its grace
// window restores that identity; anything else allocates a fresh one.
func (m *Manager) Identify(conn Conn, p protocol.SetClientParameter) (Identity, bool) {
	if p.Reconnect {
		if id, ok := m.restore(conn, p); ok {
			return id, true
		}
		m.log.Info("reconnect did not match, treating as new client",
			"claimed_id", p.ClientID, "nickname", p.Nickname)
	}

	id := m.allocate(conn, p.Nickname, p.Avatar, p.Money)
	return id, false
}

// Allocate assigns a fresh identity.
func (m *Manager) Allocate(conn Conn, nickname string) Identity {
	return m.allocate(conn, nickname, 0, 0)
}

func (m *Manager) allocate(conn Conn, nickname string, avatar, money int) Identity {
	m.mu.Lock()
	e := &entry{
		Identity: Identity{
			ID:          m.nextID,
			Nickname:    nickname,
			Avatar:      avatar,
			Money:       money,
			State:       StateIdentified,
			ConnectedAt: time.Now(),
		},
		conn: conn,
	}
	m.nextID++
	m.ids[e.ID] = e
	id := e.Identity
	m.mu.Unlock()

	m.log.Info("identity allocated", "id", id.ID, "nickname", id.Nickname)
	m.persist(id.ID)
	return id
}

func (m *Manager) restore(conn Conn, p protocol.SetClientParameter) (Identity, bool) {
	m.mu.Lock()
	e, ok := m.ids[p.ClientID]
	if !ok || e.State != StateDisconnected || e.Nickname != p.Nickname {
		m.mu.Unlock()
		return Identity{}, false
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.token++
	e.conn = conn
	e.State = StateActive
	e.ConnectedAt = time.Now()
	e.DisconnectedAt = time.Time{}
	// server keeps money as truth; cosmetic fields follow the device
	e.Avatar = p.Avatar
	id := e.Identity
	events := m.events
	m.mu.Unlock()

	m.log.Info("identity restored", "id", id.ID, "nickname", id.Nickname)
	m.persist(id.ID)
	if events != nil {
		events.OnIdentityConnected(id, true)
	}
	return id, true
}

// Activate moves a freshly allocated identity to Active once its SetID has
// been sent.
func (m *Manager) Activate(id int) bool {
	m.mu.Lock()
	e, ok := m.ids[id]
	if !ok || e.State != StateIdentified {
		m.mu.Unlock()
		return false
	}
	e.State = StateActive
	snap := e.Identity
	events := m.events
	m.mu.Unlock()

	m.persist(snap.ID)
	if events != nil {
		events.OnIdentityConnected(snap, false)
	}
	return true
}

// Update restates client parameters for an identity that already exists.
func (m *Manager) Update(id int, p protocol.SetClientParameter) (Identity, bool) {
	m.mu.Lock()
	e, ok := m.ids[id]
	if !ok {
		m.mu.Unlock()
		return Identity{}, false
	}
	if p.Nickname != "" {
		e.Nickname = p.Nickname
	}
	e.Avatar = p.Avatar
	e.Money = p.Money
	snap := e.Identity
	m.mu.Unlock()

	m.persist(snap.ID)
	return snap, true
}

func (m *Manager) SetNickname(id int, nickname string) (Identity, bool) {
	m.mu.Lock()
	e, ok := m.ids[id]
	if !ok {
		m.mu.Unlock()
		return Identity{}, false
	}
	e.Nickname = nickname
	snap := e.Identity
	m.mu.Unlock()

	m.persist(snap.ID)
	return snap, true
}

// SetMoney records the server-side stack of a player.
func (m *Manager) SetMoney(id int, money int) bool {
	m.mu.Lock()
	e, ok := m.ids[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	e.Money = money
	snap := e.Identity
	m.mu.Unlock()

	m.persist(snap.ID)
	return true
}

// Disconnect starts the grace window for id. Calls carrying a connection
// that has since been replaced are ignored.
func (m *Manager) Disconnect(id int, conn Conn) {
	m.mu.Lock()
	e, ok := m.ids[id]
	if !ok || e.conn != conn || e.State == StateDisconnected {
		m.mu.Unlock()
		return
	}
	e.conn = nil
	e.State = StateDisconnected
	e.DisconnectedAt = time.Now()
	e.token++
	token := e.token
	e.timer = time.AfterFunc(m.cfg.Grace, func() {
		m.expire(id, token)
	})
	snap := e.Identity
	m.mu.Unlock()

	m.log.Info("identity disconnected", "id", id, "grace", m.cfg.Grace)
	m.persist(snap.ID)
}

func (m *Manager) expire(id int, token int64) {
	m.mu.Lock()
	e, ok := m.ids[id]
	if !ok || e.token != token || e.State != StateDisconnected {
		m.mu.Unlock()
		return
	}
	delete(m.ids, id)
	e.State = StateExpired
	snap := e.Identity
	events := m.events
	m.mu.Unlock()

	n := 0
	if m.futures != nil {
		n = m.futures.ExpireOwner(id)
	}
	m.log.Info("identity expired", "id", id, "nickname", snap.Nickname, "futures_released", n)

	m.storeMu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	if err := m.store.Delete(ctx, id); err != nil {
		m.log.Error("identity store delete failed", "id", id, "err", err)
	}
	cancel()
	m.storeMu.Unlock()

	if events != nil {
		events.OnIdentityExpired(snap)
	}
}

// Conn returns the live connection of an active identity.
func (m *Manager) Conn(id int) (Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.ids[id]
	if !ok || e.conn == nil || e.State != StateActive {
		return nil, false
	}
	return e.conn, true
}

func (m *Manager) Get(id int) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.ids[id]
	if !ok {
		return Identity{}, false
	}
	return e.Identity, true
}

// Active lists the ids of active identities in ascending order.
func (m *Manager) Active() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.ids))
	for id, e := range m.ids {
		if e.State == StateActive && e.conn != nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Roster returns every known identity ordered by id.
func (m *Manager) Roster() []Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Identity, 0, len(m.ids))
	for _, e := range m.ids {
		out = append(out, e.Identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore reloads persisted identities after a restart. They come back as
// Disconnected with a fresh grace window.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	ids, err := m.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	n := 0
	for _, id := range ids {
		if _, exists := m.ids[id.ID]; exists {
			continue
		}
		e := &entry{Identity: id}
		e.State = StateDisconnected
		e.DisconnectedAt = time.Now()
		e.token++
		token, idv := e.token, id.ID
		e.timer = time.AfterFunc(m.cfg.Grace, func() {
			m.expire(idv, token)
		})
		m.ids[id.ID] = e
		if id.ID >= m.nextID {
			m.nextID = id.ID + 1
		}
		n++
	}
	m.mu.Unlock()

	if n > 0 {
		m.log.Info("identities restored from store", "count", n)
	}
	return n, nil
}

// Close stops every pending grace timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.ids {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

// persist saves the current state of id. Identities that have expired in
// the meantime are not written back.
func (m *Manager) persist(id int) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	e, ok := m.ids[id]
	var snap Identity
	if ok {
		snap = e.Identity
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Save(ctx, snap); err != nil {
		m.log.Error("identity store save failed", "id", id, "err", err)
	}
}
