package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/wepoker/internal/future"
	"example.com/wepoker/internal/protocol"
	"example.com/wepoker/internal/session"
	"example.com/wepoker/internal/store"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn() *ClientConn {
	return &ClientConn{
		id:   "test",
		ws:   nil,
		send: make(chan []byte, 256),
	}
}

func readMessagesNonBlocking(t *testing.T, c *ClientConn) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return msgs
			}
			msg, err := protocol.Decode(b)
			require.NoError(t, err)
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func types(msgs []protocol.Message) []protocol.Type {
	out := make([]protocol.Type, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type())
	}
	return out
}

type recordingEngine struct {
	mu          sync.Mutex
	connected   []int
	reconnected []int
	expired     []int
	messages    []protocol.Message
}

func (e *recordingEngine) OnIdentityConnected(id session.Identity, reconnected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reconnected {
		e.reconnected = append(e.reconnected, id.ID)
		return
	}
	e.connected = append(e.connected, id.ID)
}

func (e *recordingEngine) OnIdentityExpired(id session.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired = append(e.expired, id.ID)
}

func (e *recordingEngine) OnMessage(from int, msg protocol.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
}

func (e *recordingEngine) snapshot() (connected, reconnected, expired []int, msgs []protocol.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.connected...),
		append([]int(nil), e.reconnected...),
		append([]int(nil), e.expired...),
		append([]protocol.Message(nil), e.messages...)
}

type memHistory struct {
	mu     sync.Mutex
	rounds []store.Round
}

func (h *memHistory) RecordRound(_ context.Context, r store.Round) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rounds = append(h.rounds, r)
	return nil
}

type testTable struct {
	srv      *Server
	sessions *session.Manager
	futures  *future.Registry[protocol.ClientAction]
	engine   *recordingEngine
	history  *memHistory
}

func newTestTable(t *testing.T, cfg Config, grace time.Duration) *testTable {
	t.Helper()

	futures := future.NewRegistry[protocol.ClientAction](future.Config{}, nil)
	sessions := session.NewManager(session.Config{Grace: grace}, futures, nil, nil, nil)
	t.Cleanup(sessions.Close)

	tt := &testTable{
		sessions: sessions,
		futures:  futures,
		engine:   &recordingEngine{},
		history:  &memHistory{},
	}
	tt.srv = NewServer(cfg, Deps{
		Sessions: sessions,
		Futures:  futures,
		Verifier: testVerifier{},
		Engine:   tt.engine,
		History:  tt.history,
	}, nil)
	return tt
}

// seat allocates and activates n identities on in-memory connections.
func (tt *testTable) seat(n int) map[int]*ClientConn {
	conns := make(map[int]*ClientConn, n)
	for i := 0; i < n; i++ {
		cc := newTestConn()
		id := tt.sessions.Allocate(cc, "p")
		tt.sessions.Activate(id.ID)
		conns[id.ID] = cc
	}
	return conns
}

func card(t *testing.T, s string) protocol.Card {
	t.Helper()
	c, err := protocol.ParseCard(s)
	require.NoError(t, err)
	return c
}

func TestDispatch_Scenarios(t *testing.T) {
	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "hole cards for identity 5 never reach identity 6",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(6)

				require.NoError(t, tt.srv.SendHoleCards(5, card(t, "As"), card(t, "Kd")))
				require.NoError(t, tt.srv.BroadcastStateChange(protocol.PhasePreFlop))

				five := readMessagesNonBlocking(t, conns[5])
				assert.Equal(t, []protocol.Type{protocol.TypeReceiveHoleCards, protocol.TypeStateChange}, types(five))

				for id := 1; id <= 6; id++ {
					if id == 5 {
						continue
					}
					got := readMessagesNonBlocking(t, conns[id])
					assert.NotContains(t, types(got), protocol.TypeReceiveHoleCards, "identity %d", id)
				}
			},
		},
		{
			name: "broadcasting hole cards is refused",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(2)

				err := tt.srv.Broadcast(protocol.New(protocol.ReceiveHoleCards{Card1: card(t, "2c"), Card2: card(t, "3c")}))
				require.ErrorIs(t, err, ErrUnicastOnly)
				for _, cc := range conns {
					assert.Empty(t, readMessagesNonBlocking(t, cc))
				}
			},
		},
		{
			name: "broadcast collects failures and still reaches the others",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(3)
				require.NoError(t, conns[2].Close())

				err := tt.srv.UpdatePool(300)
				require.Error(t, err)
				var merr *multierror.Error
				require.ErrorAs(t, err, &merr)
				assert.Len(t, merr.Errors, 1)
				assert.ErrorIs(t, err, ErrConnClosed)

				assert.Len(t, readMessagesNonBlocking(t, conns[1]), 1)
				assert.Len(t, readMessagesNonBlocking(t, conns[3]), 1)
			},
		},
		{
			name: "side channel failures are swallowed",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(2)
				require.NoError(t, conns[1].Close())

				tt.srv.Toast("hello")
				assert.NoError(t, tt.srv.Unicast(1, protocol.New(protocol.Cheat{Nickname: "p", Amount: 5})))
				assert.NoError(t, tt.srv.Unicast(99, protocol.New(protocol.Toast{Text: "nobody"})))

				got := readMessagesNonBlocking(t, conns[2])
				require.Len(t, got, 1)
				assert.Equal(t, protocol.Toast{Text: "hello"}, got[0].Body)
			},
		},
		{
			name: "unicast to a disconnected identity fails",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(1)
				tt.sessions.Disconnect(1, conns[1])

				err := tt.srv.SendHoleCards(1, card(t, "As"), card(t, "Ah"))
				assert.ErrorIs(t, err, ErrNotConnected)
			},
		},
		{
			name: "send queue overflow is reported",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				cc := &ClientConn{id: "small", send: make(chan []byte, 1)}
				id := tt.sessions.Allocate(cc, "p")
				tt.sessions.Activate(id.ID)

				require.NoError(t, tt.srv.Unicast(id.ID, protocol.New(protocol.Pool{Total: 1})))
				err := tt.srv.Unicast(id.ID, protocol.New(protocol.Pool{Total: 2}))
				assert.ErrorIs(t, err, ErrSendQueueFull)
			},
		},
		{
			name: "round winners get a hand description and are recorded",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{TableID: "t1"}, time.Minute)
				conns := tt.seat(2)

				hand := protocol.Hand{Cards: []protocol.Card{
					card(t, "Ah"), card(t, "Ad"), card(t, "Kc"), card(t, "Ks"), card(t, "Kd"),
				}}
				err := tt.srv.DeclareRoundWinners(context.Background(), []protocol.Winner{{ID: 2, Nickname: "p"}}, hand, 400, true)
				require.NoError(t, err)

				got := readMessagesNonBlocking(t, conns[1])
				require.Len(t, got, 1)
				decl := got[0].Body.(protocol.RoundWinnersDeclaration)
				assert.Equal(t, "Full House", decl.Hand.Description)

				require.Len(t, tt.history.rounds, 1)
				r := tt.history.rounds[0]
				assert.Equal(t, "t1", r.TableID)
				assert.Equal(t, []int{2}, r.WinnerIDs)
				assert.Equal(t, []string{"Ah", "Ad", "Kc", "Ks", "Kd"}, r.Cards)
				assert.Equal(t, 400, r.Chips)
			},
		},
		{
			name: "table broadcasts arrive in order",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(2)

				buttons := protocol.TableButtons{DealerID: 1, SmallBlindID: 2, SmallBlind: 5, BigBlindID: 1, BigBlind: 10}
				require.NoError(t, tt.srv.SetTableButtons(buttons))
				require.NoError(t, tt.srv.BroadcastPublicCards([]protocol.Card{card(t, "2h"), card(t, "7d"), card(t, "Tc")}))
				require.NoError(t, tt.srv.BroadcastStateChange(protocol.PhaseFlop))
				require.NoError(t, tt.srv.Reset())

				for id, cc := range conns {
					got := readMessagesNonBlocking(t, cc)
					require.Equal(t, []protocol.Type{
						protocol.TypeTableButtons,
						protocol.TypeReceivePublicCards,
						protocol.TypeStateChange,
						protocol.TypeReset,
					}, types(got), "identity %d", id)
					assert.Equal(t, buttons, got[0].Body)
					assert.Len(t, got[1].Body.(protocol.ReceivePublicCards).Cards, 3)
				}
			},
		},
		{
			name: "set money is stored and restated to the player",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(1)

				require.NoError(t, tt.srv.SetMoney(1, 750))
				ident, _ := tt.sessions.Get(1)
				assert.Equal(t, 750, ident.Money)

				got := readMessagesNonBlocking(t, conns[1])
				require.Len(t, got, 1)
				assert.Equal(t, 750, got[0].Body.(protocol.SetClientParameter).Money)

				assert.ErrorIs(t, tt.srv.SetMoney(42, 1), ErrUnknownIdentity)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}

func TestTable_ActionRequests(t *testing.T) {
	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "first answer wins and is echoed to the others",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(7)

				f1, err := tt.srv.IssueActionRequest(7, 2, protocol.Fold())
				require.NoError(t, err)

				got := readMessagesNonBlocking(t, conns[7])
				require.Len(t, got, 1)
				assert.Equal(t, protocol.RequestClientActionFuture{FutureID: f1, Round: 2}, got[0].Body)

				assert.Equal(t, future.Accepted, tt.futures.Resolve(f1, protocol.Bet(100, 50)))

				ra, err := tt.srv.AwaitAction(context.Background(), f1, time.Second)
				require.NoError(t, err)
				assert.Equal(t, 7, ra.From)
				assert.Equal(t, protocol.Bet(100, 50), ra.Action)
				assert.False(t, ra.Defaulted())

				assert.Equal(t, future.AlreadyResolved, tt.futures.Resolve(f1, protocol.Fold()))

				echo := readMessagesNonBlocking(t, conns[1])
				require.Len(t, echo, 1)
				assert.Equal(t, protocol.ClientActionMessage{UserID: 7, Action: protocol.Bet(100, 50)}, echo[0].Body)
				assert.Empty(t, readMessagesNonBlocking(t, conns[7]))
			},
		},
		{
			name: "silence settles with the default",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				tt.seat(1)

				id, err := tt.srv.IssueActionRequest(1, 1, protocol.Check())
				require.NoError(t, err)

				ra, err := tt.srv.AwaitAction(context.Background(), id, 20*time.Millisecond)
				require.NoError(t, err)
				assert.Equal(t, protocol.Check(), ra.Action)
				assert.Equal(t, future.StatusTimedOut, ra.Status)
				assert.True(t, ra.Defaulted())
			},
		},
		{
			name: "handled flag flips once",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				tt.seat(1)

				id, err := tt.srv.IssueActionRequest(1, 1, protocol.Fold())
				require.NoError(t, err)
				tt.futures.Resolve(id, protocol.Check())

				ra, err := tt.srv.AwaitAction(context.Background(), id, time.Second)
				require.NoError(t, err)
				assert.False(t, ra.Handled())
				assert.True(t, ra.MarkHandled())
				assert.False(t, ra.MarkHandled())
				assert.True(t, ra.Handled())
			},
		},
		{
			name: "expiry releases a waiting engine at once",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, 20*time.Millisecond)
				conns := tt.seat(1)

				id, err := tt.srv.IssueActionRequest(1, 3, protocol.Fold())
				require.NoError(t, err)
				tt.sessions.Disconnect(1, conns[1])

				start := time.Now()
				ra, err := tt.srv.AwaitAction(context.Background(), id, time.Hour)
				require.NoError(t, err)
				assert.Less(t, time.Since(start), 5*time.Second)
				assert.Equal(t, future.StatusExpired, ra.Status)
				assert.Equal(t, protocol.Fold(), ra.Action)

				require.Eventually(t, func() bool {
					_, _, expired, _ := tt.engine.snapshot()
					return len(expired) == 1
				}, time.Second, 5*time.Millisecond)
			},
		},
		{
			name: "awaiting after expiry still names the player and echoes the default",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, 10*time.Millisecond)
				conns := tt.seat(2)

				id, err := tt.srv.IssueActionRequest(1, 1, protocol.Fold())
				require.NoError(t, err)
				tt.sessions.Disconnect(1, conns[1])

				require.Eventually(t, func() bool {
					_, _, expired, _ := tt.engine.snapshot()
					return len(expired) == 1
				}, time.Second, 5*time.Millisecond)

				ra, err := tt.srv.AwaitAction(context.Background(), id, time.Second)
				require.NoError(t, err)
				assert.Equal(t, 1, ra.From)
				assert.Equal(t, future.StatusExpired, ra.Status)

				echo := readMessagesNonBlocking(t, conns[2])
				require.Len(t, echo, 1)
				assert.Equal(t, protocol.ClientActionMessage{UserID: 1, Action: protocol.Fold()}, echo[0].Body)
			},
		},
		{
			name: "answers from another player are dropped",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(2)

				id, err := tt.srv.IssueActionRequest(1, 1, protocol.Fold())
				require.NoError(t, err)
				bet, err := protocol.NewActionResponse(id, protocol.Bet(10, 0))
				require.NoError(t, err)

				intruder := &peer{conn: conns[2], log: tt.srv.log, id: 2}
				tt.srv.route(intruder, protocol.New(bet))
				assert.True(t, tt.futures.IsPending(id))

				owner := &peer{conn: conns[1], log: tt.srv.log, id: 1}
				tt.srv.route(owner, protocol.New(bet))
				assert.False(t, tt.futures.IsPending(id))

				ra, err := tt.srv.AwaitAction(context.Background(), id, time.Second)
				require.NoError(t, err)
				assert.Equal(t, protocol.Bet(10, 0), ra.Action)
			},
		},
		{
			name: "swept requests are forgotten",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				tt.seat(1)

				id, err := tt.srv.IssueActionRequest(1, 1, protocol.Fold())
				require.NoError(t, err)
				require.Equal(t, future.Accepted, tt.futures.Resolve(id, protocol.Check()))

				require.Equal(t, 1, tt.futures.Sweep(time.Now().Add(time.Hour)))

				tt.srv.mu.Lock()
				defer tt.srv.mu.Unlock()
				assert.NotContains(t, tt.srv.requests, id)
			},
		},
		{
			name: "a default that cannot be sent is refused",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				tt.seat(1)

				_, err := tt.srv.IssueActionRequest(1, 1, protocol.ClientAction{})
				require.Error(t, err)
				assert.Empty(t, tt.futures.Pending(1))
			},
		},
		{
			name: "request to a disconnected player is held",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				conns := tt.seat(1)
				tt.sessions.Disconnect(1, conns[1])

				id, err := tt.srv.IssueActionRequest(1, 1, protocol.Fold())
				require.NoError(t, err)
				assert.True(t, tt.futures.IsPending(id))
			},
		},
		{
			name: "unknown target",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)

				_, err := tt.srv.IssueActionRequest(9, 1, protocol.Fold())
				assert.ErrorIs(t, err, ErrUnknownIdentity)
			},
		},
		{
			name: "cancelled wait returns the context error",
			run: func(t *testing.T) {
				tt := newTestTable(t, Config{}, time.Minute)
				tt.seat(1)
				id, err := tt.srv.IssueActionRequest(1, 1, protocol.Fold())
				require.NoError(t, err)

				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				ra, err := tt.srv.AwaitAction(ctx, id, time.Hour)
				require.ErrorIs(t, err, context.Canceled)
				assert.Equal(t, future.StatusCancelled, ra.Status)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}
