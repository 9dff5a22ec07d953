package memory

import (
	"context"
	"sort"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) error {
	return s.run(ctx, func(t *tx) error {
		if _, ok := s.raffles[purchase.RaffleID]; !ok {
			return domain.ErrRaffleNotFound
		}
		s.purchases[purchase.ID] = purchase
		t.onRollback(func() { delete(s.purchases, purchase.ID) })
		return nil
	})
}

func (s *Store) GetPurchase(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	var out domain.Purchase
	err := s.run(ctx, func(*tx) error {
		p, ok := s.purchases[purchaseID]
		if !ok {
			return domain.ErrPurchaseNotFound
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Store) GetPurchaseForUpdate(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	return s.GetPurchase(ctx, purchaseID)
}

func (s *Store) ListPurchases(ctx context.Context, raffleID string, status domain.PaymentStatus) ([]domain.Purchase, error) {
	var out []domain.Purchase
	err := s.run(ctx, func(*tx) error {
		for _, p := range s.purchases {
			if p.RaffleID != raffleID || (status != "" && p.Status != status) {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, err
}

func (s *Store) ListPurchaseNumbers(ctx context.Context, purchaseID string) ([]int, error) {
	var out []int
	err := s.run(ctx, func(*tx) error {
		out = make([]int, 0, len(s.owned[purchaseID]))
		for n := range s.owned[purchaseID] {
			out = append(out, n)
		}
		return nil
	})
	sort.Ints(out)
	return out, err
}

// InsertNumbers claims all numbers or none. Numbers that already have a record are
// reported through *domain.NumbersTakenError.
func (s *Store) InsertNumbers(ctx context.Context, raffleID, purchaseID string, numbers []int, reservedAt time.Time, confirmedAt *time.Time) error {
	return s.run(ctx, func(t *tx) error {
		if _, ok := s.purchases[purchaseID]; !ok {
			return domain.ErrPurchaseNotFound
		}
		pool := s.numbers[raffleID]
		var taken []int
		for _, n := range numbers {
			if _, ok := pool[n]; ok {
				taken = append(taken, n)
			}
		}
		if len(taken) > 0 {
			return &domain.NumbersTakenError{Numbers: taken}
		}

		if pool == nil {
			pool = make(map[int]domain.NumberRecord)
			s.numbers[raffleID] = pool
		}
		set := s.owned[purchaseID]
		if set == nil {
			set = make(map[int]struct{})
			s.owned[purchaseID] = set
		}
		for _, n := range numbers {
			var confirmed *time.Time
			if confirmedAt != nil {
				at := *confirmedAt
				confirmed = &at
			}
			pool[n] = domain.NumberRecord{
				RaffleID:    raffleID,
				Number:      n,
				PurchaseID:  purchaseID,
				ReservedAt:  reservedAt,
				ConfirmedAt: confirmed,
			}
			set[n] = struct{}{}
		}
		inserted := append([]int(nil), numbers...)
		t.onRollback(func() {
			for _, n := range inserted {
				delete(pool, n)
				delete(set, n)
			}
		})
		return nil
	})
}

// UpdatePurchaseStatus moves a pending purchase to a terminal status.
func (s *Store) UpdatePurchaseStatus(ctx context.Context, purchaseID string, upd domain.StatusUpdate) error {
	return s.run(ctx, func(t *tx) error {
		p, ok := s.purchases[purchaseID]
		if !ok {
			return domain.ErrPurchaseNotFound
		}
		if p.Status != domain.PaymentPending {
			return domain.ErrInvalidStateTransition
		}
		prev := p
		p.Status = upd.Status
		p.UpdatedAt = upd.At
		if upd.Status == domain.PaymentApproved {
			at := upd.At
			p.ApprovedAt = &at
			p.ApprovedBy = upd.ApprovedBy
		}
		s.purchases[purchaseID] = p
		t.onRollback(func() { s.purchases[purchaseID] = prev })
		return nil
	})
}

func (s *Store) ConfirmNumbers(ctx context.Context, purchaseID string, at time.Time) (int, error) {
	var count int
	err := s.run(ctx, func(t *tx) error {
		p, ok := s.purchases[purchaseID]
		if !ok {
			return domain.ErrPurchaseNotFound
		}
		pool := s.numbers[p.RaffleID]
		for n := range s.owned[purchaseID] {
			rec := pool[n]
			if rec.ConfirmedAt != nil {
				continue
			}
			prev := rec
			confirmed := at
			rec.ConfirmedAt = &confirmed
			pool[n] = rec
			count++
			t.onRollback(func() { pool[prev.Number] = prev })
		}
		return nil
	})
	return count, err
}

func (s *Store) DeleteNumbers(ctx context.Context, purchaseID string) (int, error) {
	var count int
	err := s.run(ctx, func(t *tx) error {
		p, ok := s.purchases[purchaseID]
		if !ok {
			return domain.ErrPurchaseNotFound
		}
		pool := s.numbers[p.RaffleID]
		set := s.owned[purchaseID]
		for n := range set {
			rec := pool[n]
			delete(pool, n)
			delete(set, n)
			count++
			t.onRollback(func() {
				pool[rec.Number] = rec
				set[rec.Number] = struct{}{}
			})
		}
		return nil
	})
	return count, err
}

// ListDuePurchases returns pending purchases whose deadline passed, oldest deadline first.
func (s *Store) ListDuePurchases(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var due []domain.Purchase
	err := s.run(ctx, func(*tx) error {
		for _, p := range s.purchases {
			if p.Due(now) {
				due = append(due, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ExpiresAt.Before(*due[j].ExpiresAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// ListConfirmedEntries returns confirmed numbers of approved purchases ordered by number.
func (s *Store) ListConfirmedEntries(ctx context.Context, raffleID string) ([]domain.Entry, error) {
	var out []domain.Entry
	err := s.run(ctx, func(*tx) error {
		for n, rec := range s.numbers[raffleID] {
			if rec.ConfirmedAt == nil {
				continue
			}
			p := s.purchases[rec.PurchaseID]
			if p.Status != domain.PaymentApproved {
				continue
			}
			out = append(out, domain.Entry{Number: n, BuyerName: p.Buyer.Name, BuyerKey: p.BuyerKey})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, err
}

// ListBuyerTotals aggregates approved purchases per buyer, most tickets first.
func (s *Store) ListBuyerTotals(ctx context.Context, raffleID string) ([]domain.BuyerTotal, error) {
	type agg struct {
		total  domain.BuyerTotal
		latest time.Time
	}
	byBuyer := make(map[string]*agg)
	err := s.run(ctx, func(*tx) error {
		for _, p := range s.purchases {
			if p.RaffleID != raffleID || p.Status != domain.PaymentApproved {
				continue
			}
			a := byBuyer[p.BuyerKey]
			if a == nil {
				a = &agg{total: domain.BuyerTotal{BuyerKey: p.BuyerKey}}
				byBuyer[p.BuyerKey] = a
			}
			a.total.Tickets += len(s.owned[p.ID])
			a.total.SpentCents += p.TotalCents
			if a.total.BuyerName == "" || p.CreatedAt.After(a.latest) {
				a.total.BuyerName = p.Buyer.Name
				a.latest = p.CreatedAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.BuyerTotal, 0, len(byBuyer))
	for _, a := range byBuyer {
		out = append(out, a.total)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tickets != out[j].Tickets {
			return out[i].Tickets > out[j].Tickets
		}
		return out[i].BuyerKey < out[j].BuyerKey
	})
	return out, nil
}

func (s *Store) CountConfirmedNumbers(ctx context.Context, raffleID, buyerKey string) (int, error) {
	var count int
	err := s.run(ctx, func(*tx) error {
		for _, rec := range s.numbers[raffleID] {
			if rec.ConfirmedAt != nil && s.purchases[rec.PurchaseID].BuyerKey == buyerKey {
				count++
			}
		}
		return nil
	})
	return count, err
}
