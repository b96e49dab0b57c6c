package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/wepoker/internal/auth"
	"example.com/wepoker/internal/session"
	"example.com/wepoker/internal/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoster []session.Identity

func (f fakeRoster) Roster() []session.Identity { return f }

type fakeRounds struct {
	gotTable string
	gotLimit int
	rounds   []store.Round
	err      error
}

func (f *fakeRounds) Recent(_ context.Context, tableID string, limit int) ([]store.Round, error) {
	f.gotTable, f.gotLimit = tableID, limit
	return f.rounds, f.err
}

func newTestRouter(t *testing.T, h *TableHandler) (*mux.Router, string) {
	t.Helper()
	svc := auth.NewService([]byte("secret"), "t1")
	tok, err := svc.Sign(time.Hour)
	require.NoError(t, err)

	r := mux.NewRouter()
	h.Register(r, svc)
	return r, tok
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTableHandler(t *testing.T) {
	gone := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	roster := fakeRoster{
		{ID: 1, Nickname: "Ann", Money: 900, State: session.StateActive},
		{ID: 2, Nickname: "Bob", Money: 100, State: session.StateDisconnected, DisconnectedAt: gone},
	}

	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "roster",
			run: func(t *testing.T) {
				r, tok := newTestRouter(t, &TableHandler{Sessions: roster})
				rec := do(r, "/api/table", tok)
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

				var resp TableResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "t1", resp.TableID)
				require.Len(t, resp.Players, 2)
				assert.Equal(t, "active", resp.Players[0].State)
				assert.Nil(t, resp.Players[0].DisconnectedAt)
				assert.Equal(t, "disconnected", resp.Players[1].State)
				require.NotNil(t, resp.Players[1].DisconnectedAt)
				assert.True(t, gone.Equal(*resp.Players[1].DisconnectedAt))
			},
		},
		{
			name: "missing token",
			run: func(t *testing.T) {
				r, _ := newTestRouter(t, &TableHandler{Sessions: roster})
				rec := do(r, "/api/table", "")
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			},
		},
		{
			name: "token for another table",
			run: func(t *testing.T) {
				r, _ := newTestRouter(t, &TableHandler{Sessions: roster})
				other, err := auth.NewService([]byte("secret"), "t2").Sign(time.Hour)
				require.NoError(t, err)
				rec := do(r, "/api/table", other)
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			},
		},
		{
			name: "rounds with limit",
			run: func(t *testing.T) {
				rounds := &fakeRounds{rounds: []store.Round{{ID: 7, TableID: "t1", Hand: "Flush", Chips: 120}}}
				r, tok := newTestRouter(t, &TableHandler{Sessions: roster, Rounds: rounds})
				rec := do(r, "/api/rounds?limit=5000", tok)
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, "t1", rounds.gotTable)
				assert.Equal(t, maxRoundsLimit, rounds.gotLimit)

				var resp struct {
					Rounds []store.Round `json:"rounds"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				require.Len(t, resp.Rounds, 1)
				assert.Equal(t, "Flush", resp.Rounds[0].Hand)
			},
		},
		{
			name: "rounds default limit and empty list",
			run: func(t *testing.T) {
				rounds := &fakeRounds{}
				r, tok := newTestRouter(t, &TableHandler{Sessions: roster, Rounds: rounds})
				rec := do(r, "/api/rounds", tok)
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, defaultRoundsLimit, rounds.gotLimit)
				assert.JSONEq(t, `{"rounds":[]}`, rec.Body.String())
			},
		},
		{
			name: "rounds bad limit",
			run: func(t *testing.T) {
				r, tok := newTestRouter(t, &TableHandler{Sessions: roster, Rounds: &fakeRounds{}})
				rec := do(r, "/api/rounds?limit=-1", tok)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			},
		},
		{
			name: "rounds store failure",
			run: func(t *testing.T) {
				r, tok := newTestRouter(t, &TableHandler{Sessions: roster, Rounds: &fakeRounds{err: errors.New("down")}})
				rec := do(r, "/api/rounds", tok)
				assert.Equal(t, http.StatusInternalServerError, rec.Code)

				var er ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
				assert.Equal(t, "internal", er.Code)
			},
		},
		{
			name: "rounds disabled",
			run: func(t *testing.T) {
				r, tok := newTestRouter(t, &TableHandler{Sessions: roster})
				rec := do(r, "/api/rounds", tok)
				assert.Equal(t, http.StatusNotFound, rec.Code)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}
