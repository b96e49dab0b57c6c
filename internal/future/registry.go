// Package future implements the server side of remote request/response:
// a table of one-shot futures keyed by random ids, each resolved at most once.
package future

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownFuture = errors.New("unknown future")

// Outcome is the result of a Resolve call.
type Outcome int

const (
	Accepted Outcome = iota
	AlreadyResolved
	UnknownFuture
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyResolved:
		return "already_resolved"
	case UnknownFuture:
		return "unknown_future"
	}
	return "invalid"
}

// Status tells how a future was settled.
type Status int

const (
	StatusResolved Status = iota
	StatusTimedOut
	StatusExpired   // owner's session expired
	StatusCancelled // waiter's context ended
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusTimedOut:
		return "timed_out"
	case StatusExpired:
		return "expired"
	case StatusCancelled:
		return "cancelled"
	}
	return "invalid"
}

type Result[T any] struct {
	Value  T
	Status Status
	Owner  int
}

// Defaulted reports whether Value is the caller-supplied default.
func (r Result[T]) Defaulted() bool {
	return r.Status != StatusResolved
}

type Config struct {
	// Retention is how long a settled future is remembered so that late
	// responses are reported as AlreadyResolved instead of UnknownFuture.
	Retention time.Duration
	// SweepInterval is how often Run evicts settled futures.
	SweepInterval time.Duration
}

type record[T any] struct {
	owner     int
	createdAt time.Time
	def       T

	done      chan struct{}
	settled   bool
	settledAt time.Time
	value     T
	status    Status
}

// Registry is safe for concurrent use. A single lock is enough given how
// rarely the table asks a player for a decision.
type Registry[T any] struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	futures map[uuid.UUID]*record[T]
	onEvict func(uuid.UUID)

	now func() time.Time
}

func NewRegistry[T any](cfg Config, log *slog.Logger) *Registry[T] {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Retention / 2
	}
	return &Registry[T]{
		cfg:     cfg,
		log:     log,
		futures: make(map[uuid.UUID]*record[T]),
		now:     time.Now,
	}
}

// Create registers a pending future addressed to owner. def is the value
// the future settles with on timeout, expiry or cancellation. The caller
// is responsible for sending the request message carrying the id.
func (r *Registry[T]) Create(owner int, def T) uuid.UUID {
	id := uuid.New()

	r.mu.Lock()
	r.futures[id] = &record[T]{
		owner:     owner,
		createdAt: r.now(),
		def:       def,
		done:      make(chan struct{}),
	}
	r.mu.Unlock()

	r.log.Debug("future created", "future", id, "owner", owner)
	return id
}

// OnEvict installs fn to be called, without the lock held, for every future
// Sweep removes.
func (r *Registry[T]) OnEvict(fn func(id uuid.UUID)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// Owner returns the identity a future is addressed to.
func (r *Registry[T]) Owner(id uuid.UUID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.futures[id]
	if !ok {
		return 0, false
	}
	return rec.owner, true
}

// Resolve settles the future with v. Only the first call for an id is
// accepted.
func (r *Registry[T]) Resolve(id uuid.UUID, v T) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.futures[id]
	if !ok {
		r.log.Warn("resolve for unknown future dropped", "future", id)
		return UnknownFuture
	}
	if rec.settled {
		r.log.Debug("resolve for settled future ignored", "future", id, "status", rec.status)
		return AlreadyResolved
	}
	r.settleLocked(rec, v, StatusResolved)
	return Accepted
}

// Await blocks until the future is settled. When timeout elapses first the
// future settles with its default, so a late Resolve can no longer change
// the outcome. A non-positive timeout waits without a deadline.
//
// The returned error is ErrUnknownFuture for ids never created (or already
// swept), or ctx.Err() when the context ended first.
func (r *Registry[T]) Await(ctx context.Context, id uuid.UUID, timeout time.Duration) (Result[T], error) {
	r.mu.Lock()
	rec, ok := r.futures[id]
	r.mu.Unlock()
	if !ok {
		return Result[T]{}, ErrUnknownFuture
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-rec.done:
	case <-timer:
		r.settleDefault(id, rec, StatusTimedOut)
	case <-ctx.Done():
		r.settleDefault(id, rec, StatusCancelled)
		res := r.result(rec)
		if res.Status == StatusCancelled {
			return res, ctx.Err()
		}
		return res, nil
	}

	return r.result(rec), nil
}

// ExpireOwner settles every pending future addressed to owner with its
// default. It returns how many futures it settled.
func (r *Registry[T]) ExpireOwner(owner int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.futures {
		if rec.owner != owner || rec.settled {
			continue
		}
		r.settleLocked(rec, rec.def, StatusExpired)
		r.log.Info("future expired with owner", "future", id, "owner", owner)
		n++
	}
	return n
}

// Pending lists unsettled futures addressed to owner.
func (r *Registry[T]) Pending(owner int) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []uuid.UUID
	for id, rec := range r.futures {
		if rec.owner == owner && !rec.settled {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry[T]) IsPending(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.futures[id]
	return ok && !rec.settled
}

// Sweep evicts futures settled longer than Retention ago.
func (r *Registry[T]) Sweep(now time.Time) int {
	r.mu.Lock()
	var evicted []uuid.UUID
	for id, rec := range r.futures {
		if rec.settled && now.Sub(rec.settledAt) > r.cfg.Retention {
			delete(r.futures, id)
			evicted = append(evicted, id)
		}
	}
	onEvict := r.onEvict
	r.mu.Unlock()

	if onEvict != nil {
		for _, id := range evicted {
			onEvict(id)
		}
	}
	return len(evicted)
}

// Run sweeps periodically until ctx is done.
func (r *Registry[T]) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.log.Debug("swept settled futures", "count", n)
			}
		}
	}
}

func (r *Registry[T]) settleDefault(id uuid.UUID, rec *record[T], status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.settled {
		return
	}
	r.settleLocked(rec, rec.def, status)
	r.log.Info("future settled with default", "future", id, "owner", rec.owner, "status", status)
}

func (r *Registry[T]) settleLocked(rec *record[T], v T, status Status) {
	rec.settled = true
	rec.settledAt = r.now()
	rec.value = v
	rec.status = status
	close(rec.done)
}

func (r *Registry[T]) result(rec *record[T]) Result[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result[T]{Value: rec.value, Status: rec.status, Owner: rec.owner}
}
