package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

func (s *Store) GetSpinBalance(ctx context.Context, raffleID, buyerKey string) (domain.SpinBalance, error) {
	var out domain.SpinBalance
	err := s.run(ctx, func(*tx) error {
		b, ok := s.balances[balanceKey{raffleID, buyerKey}]
		if !ok {
			return domain.ErrSpinBalanceNotFound
		}
		out = b
		return nil
	})
	return out, err
}

func (s *Store) GrantSpins(ctx context.Context, raffleID, buyerKey string, spins int, at time.Time) (domain.SpinBalance, error) {
	return s.updateBalance(ctx, raffleID, buyerKey, true, func(b *domain.SpinBalance) error {
		b.TotalSpins += spins
		b.UpdatedAt = at
		return nil
	})
}

func (s *Store) ConsumeSpin(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error) {
	b, err := s.updateBalance(ctx, raffleID, buyerKey, false, func(b *domain.SpinBalance) error {
		if b.UsedSpins >= b.TotalSpins {
			return domain.ErrSpinQuotaExceeded
		}
		b.UsedSpins++
		b.UpdatedAt = at
		return nil
	})
	if errors.Is(err, domain.ErrSpinBalanceNotFound) {
		return domain.SpinBalance{}, domain.ErrSpinQuotaExceeded
	}
	return b, err
}

func (s *Store) ConsumeRetryCredit(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error) {
	b, err := s.updateBalance(ctx, raffleID, buyerKey, false, func(b *domain.SpinBalance) error {
		if b.RetryCredits <= 0 {
			return domain.ErrNoRetryCredit
		}
		b.RetryCredits--
		b.UpdatedAt = at
		return nil
	})
	if errors.Is(err, domain.ErrSpinBalanceNotFound) {
		return domain.SpinBalance{}, domain.ErrNoRetryCredit
	}
	return b, err
}

func (s *Store) RefundSpin(ctx context.Context, raffleID, buyerKey string, spinType domain.SpinType, at time.Time) error {
	_, err := s.updateBalance(ctx, raffleID, buyerKey, false, func(b *domain.SpinBalance) error {
		switch spinType {
		case domain.SpinMain:
			if b.UsedSpins > 0 {
				b.UsedSpins--
			}
		case domain.SpinRetry:
			b.RetryCredits++
		}
		b.UpdatedAt = at
		return nil
	})
	return err
}

func (s *Store) AddRetryCredit(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error) {
	return s.updateBalance(ctx, raffleID, buyerKey, true, func(b *domain.SpinBalance) error {
		b.RetryCredits++
		b.UpdatedAt = at
		return nil
	})
}

func (s *Store) updateBalance(ctx context.Context, raffleID, buyerKey string, create bool, mutate func(*domain.SpinBalance) error) (domain.SpinBalance, error) {
	var out domain.SpinBalance
	err := s.run(ctx, func(t *tx) error {
		if _, ok := s.raffles[raffleID]; !ok {
			return domain.ErrRaffleNotFound
		}
		key := balanceKey{raffleID, buyerKey}
		prev, existed := s.balances[key]
		if !existed && !create {
			return domain.ErrSpinBalanceNotFound
		}
		b := prev
		if !existed {
			b = domain.SpinBalance{RaffleID: raffleID, BuyerKey: buyerKey}
		}
		if err := mutate(&b); err != nil {
			return err
		}
		s.balances[key] = b
		t.onRollback(func() {
			if existed {
				s.balances[key] = prev
			} else {
				delete(s.balances, key)
			}
		})
		out = b
		return nil
	})
	return out, err
}

func (s *Store) AppendSpinHistory(ctx context.Context, h domain.SpinHistory) error {
	return s.run(ctx, func(t *tx) error {
		h.GrantedNumbers = append([]int(nil), h.GrantedNumbers...)
		s.history = append(s.history, h)
		n := len(s.history)
		t.onRollback(func() { s.history = s.history[:n-1] })
		return nil
	})
}

// ListSpinHistory returns a buyer's spins, newest first.
func (s *Store) ListSpinHistory(ctx context.Context, raffleID, buyerKey string) ([]domain.SpinHistory, error) {
	var out []domain.SpinHistory
	err := s.run(ctx, func(*tx) error {
		for _, h := range s.history {
			if h.RaffleID == raffleID && h.BuyerKey == buyerKey {
				out = append(out, h)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}
