// Package memory is a process-local storage backend. Transactions are serialised by a
// single mutex and rolled back through an undo log, which gives the same
// all-or-nothing behaviour the Postgres repositories get from the database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

type Store struct {
	mu        sync.Mutex
	raffles   map[string]domain.Raffle
	purchases map[string]domain.Purchase
	// numbers holds one record per taken number; absence means available.
	numbers  map[string]map[int]domain.NumberRecord
	owned    map[string]map[int]struct{}
	balances map[balanceKey]domain.SpinBalance
	history  []domain.SpinHistory
}

type balanceKey struct {
	raffleID string
	buyerKey string
}

func New() *Store {
	return &Store{
		raffles:   make(map[string]domain.Raffle),
		purchases: make(map[string]domain.Purchase),
		numbers:   make(map[string]map[int]domain.NumberRecord),
		owned:     make(map[string]map[int]struct{}),
		balances:  make(map[balanceKey]domain.SpinBalance),
	}
}

type txKey struct{}

type tx struct {
	store *Store
	undo  []func()
}

func (t *tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (s *Store) txFrom(ctx context.Context) *tx {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok || t.store != s {
		return nil
	}
	return t
}

// WithTx runs fn holding the store lock. Calls made with the returned context join
// the transaction; any error undoes every change fn made.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// run executes one statement, inside the caller's transaction if there is one.
func (s *Store) run(ctx context.Context, fn func(t *tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t := s.txFrom(ctx); t != nil {
		return fn(t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) CreateRaffle(ctx context.Context, raffle domain.Raffle) error {
	return s.run(ctx, func(t *tx) error {
		s.raffles[raffle.ID] = raffle
		t.onRollback(func() { delete(s.raffles, raffle.ID) })
		return nil
	})
}

func (s *Store) ListRaffles(ctx context.Context) ([]domain.Raffle, error) {
	var out []domain.Raffle
	err := s.run(ctx, func(*tx) error {
		out = make([]domain.Raffle, 0, len(s.raffles))
		for _, r := range s.raffles {
			out = append(out, r)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (s *Store) GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error) {
	var out domain.Raffle
	err := s.run(ctx, func(*tx) error {
		r, ok := s.raffles[raffleID]
		if !ok {
			return domain.ErrRaffleNotFound
		}
		out = r
		return nil
	})
	return out, err
}

// GetRaffleForUpdate is GetRaffle; the store lock already serialises writers.
func (s *Store) GetRaffleForUpdate(ctx context.Context, raffleID string) (domain.Raffle, error) {
	return s.GetRaffle(ctx, raffleID)
}

func (s *Store) UpdateRaffleStatus(ctx context.Context, raffleID string, from, to domain.RaffleStatus, at time.Time) error {
	return s.run(ctx, func(t *tx) error {
		r, ok := s.raffles[raffleID]
		if !ok {
			return domain.ErrRaffleNotFound
		}
		if r.Status != from {
			return domain.ErrInvalidStateTransition
		}
		prev := r
		r.Status = to
		r.UpdatedAt = at
		s.raffles[raffleID] = r
		t.onRollback(func() { s.raffles[raffleID] = prev })
		return nil
	})
}

func (s *Store) SaveWinner(ctx context.Context, raffleID string, winner domain.Winner, status domain.RaffleStatus, at time.Time) error {
	return s.run(ctx, func(t *tx) error {
		r, ok := s.raffles[raffleID]
		if !ok {
			return domain.ErrRaffleNotFound
		}
		prev := r
		w := winner
		switch winner.Kind {
		case domain.WinnerMain:
			r.MainWinner = &w
		case domain.WinnerTopBuyer:
			r.TopBuyerWinner = &w
		case domain.WinnerSecondTopBuyer:
			r.SecondTopWinner = &w
		default:
			return domain.ErrInvalidDrawRank
		}
		if status != "" {
			r.Status = status
		}
		r.UpdatedAt = at
		s.raffles[raffleID] = r
		t.onRollback(func() { s.raffles[raffleID] = prev })
		return nil
	})
}

func (s *Store) PoolStats(ctx context.Context, raffleID string) (domain.PoolStats, error) {
	var out domain.PoolStats
	err := s.run(ctx, func(*tx) error {
		r, ok := s.raffles[raffleID]
		if !ok {
			return domain.ErrRaffleNotFound
		}
		out.Total = r.TotalNumbers
		for _, rec := range s.numbers[raffleID] {
			if rec.ConfirmedAt != nil {
				out.Confirmed++
			} else {
				out.Reserved++
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListTakenNumbers(ctx context.Context, raffleID string) ([]int, error) {
	var out []int
	err := s.run(ctx, func(*tx) error {
		out = make([]int, 0, len(s.numbers[raffleID]))
		for n := range s.numbers[raffleID] {
			out = append(out, n)
		}
		return nil
	})
	sort.Ints(out)
	return out, err
}
