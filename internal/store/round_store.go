package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Round is one declared round outcome.
type Round struct {
	ID        int64     `json:"id"`
	TableID   string    `json:"tableId"`
	WinnerIDs []int     `json:"winnerIds"`
	Winners   []string  `json:"winners"`
	Hand      string    `json:"hand"`
	Cards     []string  `json:"cards"`
	Chips     int       `json:"chips"`
	ShowCards bool      `json:"showCards"`
	PlayedAt  time.Time `json:"playedAt"`
}

type RoundStore struct {
	db *pgxpool.Pool
}

func NewRoundStore(db *pgxpool.Pool) *RoundStore {
	return &RoundStore{db: db}
}

func (s *RoundStore) RecordRound(ctx context.Context, r Round) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rounds (table_id, winner_ids, winners, hand, cards, chips, show_cards)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.TableID, r.WinnerIDs, r.Winners, r.Hand, r.Cards, r.Chips, r.ShowCards)
	return err
}

// Recent returns the last limit rounds of a table, newest first.
func (s *RoundStore) Recent(ctx context.Context, tableID string, limit int) ([]Round, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, table_id, winner_ids, winners, hand, cards, chips, show_cards, played_at
		FROM rounds
		WHERE table_id = $1
		ORDER BY played_at DESC, id DESC
		LIMIT $2
	`, tableID, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Round, error) {
		var r Round
		err := row.Scan(&r.ID, &r.TableID, &r.WinnerIDs, &r.Winners, &r.Hand, &r.Cards, &r.Chips, &r.ShowCards, &r.PlayedAt)
		return r, err
	})
}
