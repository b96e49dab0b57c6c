package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"example.com/wepoker/db"
	"example.com/wepoker/internal/auth"
	"example.com/wepoker/internal/bootstrap"
	"example.com/wepoker/internal/config"
	"example.com/wepoker/internal/future"
	"example.com/wepoker/internal/game"
	"example.com/wepoker/internal/httpapi"
	"example.com/wepoker/internal/migrate"
	"example.com/wepoker/internal/protocol"
	"example.com/wepoker/internal/session"
	"example.com/wepoker/internal/store"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	auth     *auth.Service
	futures  *future.Registry[protocol.ClientAction]
	sessions *session.Manager
	table    *game.Server

	srv *http.Server
}

type Options struct {
	Engine game.Engine // optional; if nil, game.LogEngine is used
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	secret, err := tableSecret(cfg, log)
	if err != nil {
		return nil, err
	}
	a.auth = auth.NewService(secret, cfg.Table.ID)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// --- Postgres (optional) ---
	var (
		history game.History
		players game.Players
		rounds  httpapi.RoundLister
	)
	if cfg.Postgres.URL != "" {
		if cfg.Postgres.RunMigrations {
			if err := migrate.Up(pingCtx, cfg.Postgres.URL, db.Migrations, db.MigrationsDir, log); err != nil {
				return nil, err
			}
		}

		dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		if err := dbpool.Ping(pingCtx); err != nil {
			dbpool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		a.db = dbpool

		roundStore := store.NewRoundStore(dbpool)
		history, rounds = roundStore, roundStore
		players = store.NewPlayerStore(dbpool)
	} else {
		log.Warn("DATABASE_URL not set, round history disabled")
	}

	// --- Redis (optional) ---
	var sessionStore session.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			_ = a.Close(context.Background())
			return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
		}
		a.rdb = rdb
		sessionStore = session.NewRedisStore(rdb, cfg.Table.ID, cfg.Redis.SessionTTL)
	} else {
		log.Warn("REDIS_ADDR not set, identities will not survive a restart")
	}

	// --- Core ---
	a.futures = future.NewRegistry[protocol.ClientAction](future.Config{
		Retention:     cfg.Futures.Retention,
		SweepInterval: cfg.Futures.SweepInterval,
	}, log.With("component", "futures"))

	a.sessions = session.NewManager(session.Config{Grace: cfg.Session.Grace},
		a.futures, nil, sessionStore, log.With("component", "sessions"))

	a.table = game.NewServer(game.Config{
		TableID:         cfg.Table.ID,
		ActionTimeout:   cfg.Game.ActionTimeout,
		IdentifyTimeout: cfg.Game.IdentifyTimeout,
		PingPeriod:      cfg.Game.PingPeriod,
		WriteWait:       cfg.Game.WriteWait,
		SendBuffer:      cfg.Game.SendBuffer,
	}, game.Deps{
		Sessions: a.sessions,
		Futures:  a.futures,
		Verifier: a.auth,
		Engine:   opts.Engine,
		History:  history,
		Players:  players,
	}, log.With("component", "table"))

	if n, err := a.sessions.Restore(pingCtx); err != nil {
		log.Error("restoring identities failed", "err", err)
	} else if n > 0 {
		log.Info("waiting for restored identities to reconnect", "count", n, "grace", cfg.Session.Grace)
	}

	// --- HTTP ---
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	a.table.RegisterRoutes(r)

	tableH := &httpapi.TableHandler{Sessions: a.sessions, Rounds: rounds}
	tableH.Register(r, a.auth)

	a.srv = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return a, nil
}

func tableSecret(cfg config.Config, log *slog.Logger) ([]byte, error) {
	if cfg.Table.Secret != "" {
		return bootstrap.DecodeSecret(cfg.Table.Secret)
	}
	log.Warn("TABLE_SECRET not set, join tokens will not survive a restart")
	return bootstrap.NewSecret(32)
}

// Table is the API the game engine drives.
func (a *App) Table() *game.Server { return a.table }

// JoinInfo builds what the table shows as a QR code or writes to NFC.
func (a *App) JoinInfo() (bootstrap.JoinInfo, error) {
	token, err := a.auth.Sign(a.cfg.Table.TokenTTL)
	if err != nil {
		return bootstrap.JoinInfo{}, fmt.Errorf("sign join token: %w", err)
	}
	return bootstrap.JoinInfo{
		WifiName:     a.cfg.Table.WifiName,
		WifiPassword: a.cfg.Table.WifiPassword,
		ServerIP:     a.cfg.Table.PublicIP,
		Port:         a.cfg.Table.PublicPort,
		Dedicated:    a.cfg.Table.Dedicated,
		Token:        token,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr, "table", a.cfg.Table.ID)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.futures.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}
