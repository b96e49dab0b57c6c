package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"example.com/wepoker/internal/session"
	"example.com/wepoker/internal/store"
	"github.com/gorilla/mux"
)

const (
	defaultRoundsLimit = 20
	maxRoundsLimit     = 200
)

type Roster interface {
	Roster() []session.Identity
}

type RoundLister interface {
	Recent(ctx context.Context, tableID string, limit int) ([]store.Round, error)
}

// TableHandler serves read-only views of the table for companion screens.
type TableHandler struct {
	Sessions Roster
	Rounds   RoundLister // optional
}

type PlayerView struct {
	ID             int        `json:"id"`
	Nickname       string     `json:"nickname"`
	Avatar         int        `json:"avatar"`
	Money          int        `json:"money"`
	State          string     `json:"state"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

type TableResponse struct {
	TableID string       `json:"tableId"`
	Players []PlayerView `json:"players"`
}

// Register mounts the handlers under r. Every route needs a join token.
func (h *TableHandler) Register(r *mux.Router, v Verifier) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(JoinTokenMiddleware(v))
	api.HandleFunc("/table", h.Table).Methods(http.MethodGet)
	api.HandleFunc("/rounds", h.RecentRounds).Methods(http.MethodGet)
}

func (h *TableHandler) Table(w http.ResponseWriter, r *http.Request) {
	tableID, _ := TableIDFromContext(r.Context())

	roster := h.Sessions.Roster()
	resp := TableResponse{TableID: tableID, Players: make([]PlayerView, 0, len(roster))}
	for _, id := range roster {
		pv := PlayerView{
			ID:       id.ID,
			Nickname: id.Nickname,
			Avatar:   id.Avatar,
			Money:    id.Money,
			State:    id.State.String(),
		}
		if !id.DisconnectedAt.IsZero() {
			at := id.DisconnectedAt
			pv.DisconnectedAt = &at
		}
		resp.Players = append(resp.Players, pv)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TableHandler) RecentRounds(w http.ResponseWriter, r *http.Request) {
	if h.Rounds == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "round history is disabled")
		return
	}

	limit := defaultRoundsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRoundsLimit)
	}

	tableID, _ := TableIDFromContext(r.Context())
	rounds, err := h.Rounds.Recent(r.Context(), tableID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load rounds")
		return
	}
	if rounds == nil {
		rounds = []store.Round{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}
