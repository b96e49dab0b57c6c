package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPlayerNotFound = errors.New("player not found")

// Player is the durable record of someone who sat at a table.
type Player struct {
	TableID   string
	ID        int
	Nickname  string
	Avatar    int
	Money     int
	FirstSeen time.Time
	LastSeen  time.Time
}

type PlayerStore struct {
	db *pgxpool.Pool
}

func NewPlayerStore(db *pgxpool.Pool) *PlayerStore {
	return &PlayerStore{db: db}
}

func (s *PlayerStore) Upsert(ctx context.Context, p Player) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO players (table_id, id, nickname, avatar, money)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (table_id, id) DO UPDATE
		SET nickname = EXCLUDED.nickname,
		    avatar = EXCLUDED.avatar,
		    money = EXCLUDED.money,
		    last_seen = now()
	`, p.TableID, p.ID, p.Nickname, p.Avatar, p.Money)
	return err
}

func (s *PlayerStore) Get(ctx context.Context, tableID string, id int) (Player, error) {
	var p Player
	err := s.db.QueryRow(ctx, `
		SELECT table_id, id, nickname, avatar, money, first_seen, last_seen
		FROM players
		WHERE table_id = $1 AND id = $2
	`, tableID, id).Scan(&p.TableID, &p.ID, &p.Nickname, &p.Avatar, &p.Money, &p.FirstSeen, &p.LastSeen)

	if errors.Is(err, pgx.ErrNoRows) {
		return Player{}, ErrPlayerNotFound
	}
	if err != nil {
		return Player{}, err
	}
	return p, nil
}
