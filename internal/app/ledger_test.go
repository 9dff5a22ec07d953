package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

type countingCreditor struct {
	mu     sync.Mutex
	grants map[string]int
}

func (c *countingCreditor) GrantSpins(_ context.Context, raffleID, buyerKey string, spins int) (domain.SpinBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grants == nil {
		c.grants = make(map[string]int)
	}
	c.grants[buyerKey] += spins
	return domain.SpinBalance{RaffleID: raffleID, BuyerKey: buyerKey, TotalSpins: c.grants[buyerKey]}, nil
}

type scriptedAllocator struct {
	proposals [][]int
	excludes  [][]int
}

func (s *scriptedAllocator) Allocate(_ context.Context, _ string, _ int, exclude []int) ([]int, error) {
	s.excludes = append(s.excludes, append([]int(nil), exclude...))
	if len(s.proposals) == 0 {
		return nil, domain.ErrInsufficientAvailability
	}
	next := s.proposals[0]
	if len(s.proposals) > 1 {
		s.proposals = s.proposals[1:]
	}
	return next, nil
}

func TestLedger_BuyNumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("allocates and prices a pending purchase", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100)

		res, err := env.ledger.BuyNumbers(ctx, BuyNumbersInput{
			RaffleID: env.raffle.ID,
			Buyer:    domain.Buyer{Name: " Ana ", Email: "ANA@Example.com "},
			Quantity: 5,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		p := res.Purchase
		if p.Status != domain.PaymentPending {
			t.Fatalf("expected pending, got %s", p.Status)
		}
		if p.TotalCents != 5*env.raffle.PriceCents {
			t.Fatalf("expected total %d, got %d", 5*env.raffle.PriceCents, p.TotalCents)
		}
		if p.BuyerKey != "ana@example.com" {
			t.Fatalf("expected normalised buyer key, got %q", p.BuyerKey)
		}
		if p.ExpiresAt == nil || !p.ExpiresAt.Equal(testNow.Add(defaultReservationTTL)) {
			t.Fatalf("expected expires_at %v, got %v", testNow.Add(defaultReservationTTL), p.ExpiresAt)
		}
		assertFreeAndUnique(t, res.Numbers, 5, 100)

		stats := env.stats(t)
		if stats.Reserved != 5 || stats.Confirmed != 0 {
			t.Fatalf("expected 5 reserved, got %+v", stats)
		}
	})

	t.Run("chosen numbers already taken fail as a whole", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100)
		env.buy(t, buyerNamed("first"), 7, 8)

		_, err := env.ledger.BuyNumbers(ctx, BuyNumbersInput{
			RaffleID: env.raffle.ID,
			Buyer:    buyerNamed("second"),
			Numbers:  []int{6, 7, 8},
		})
		var taken *domain.NumbersTakenError
		if !errors.As(err, &taken) {
			t.Fatalf("expected NumbersTakenError, got %v", err)
		}
		if len(taken.Numbers) != 2 {
			t.Fatalf("expected 2 lost numbers, got %v", taken.Numbers)
		}
		if !errors.Is(err, domain.ErrNumbersTaken) {
			t.Fatalf("expected error to match ErrNumbersTaken")
		}
		if got := env.stats(t).Taken(); got != 2 {
			t.Fatalf("expected only the first purchase's numbers, got %d taken", got)
		}

		pending, err := env.store.ListPurchases(ctx, env.raffle.ID, domain.PaymentPending)
		if err != nil {
			t.Fatalf("list purchases: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("expected the failed purchase to leave pending, got %d pending", len(pending))
		}
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 10)

		cases := []struct {
			name string
			in   BuyNumbersInput
			want error
		}{
			{"zero quantity", BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("a")}, domain.ErrInvalidQuantity},
			{"no contact", BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: domain.Buyer{Name: "a"}, Quantity: 1}, domain.ErrBuyerRequired},
			{"no name", BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: domain.Buyer{Phone: "119"}, Quantity: 1}, domain.ErrBuyerNameRequired},
			{"more than the pool", BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("a"), Quantity: 11}, domain.ErrInsufficientAvailability},
			{"number out of range", BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("a"), Numbers: []int{11}}, domain.ErrInvalidNumber},
			{"duplicate number", BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("a"), Numbers: []int{2, 2}}, domain.ErrInvalidNumber},
			{"quantity mismatch", BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("a"), Quantity: 3, Numbers: []int{1}}, domain.ErrInvalidQuantity},
			{"unknown raffle", BuyNumbersInput{RaffleID: "nope", Buyer: buyerNamed("a"), Quantity: 1}, domain.ErrRaffleNotFound},
		}
		for _, tc := range cases {
			if _, err := env.ledger.BuyNumbers(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
			}
		}
		if got := env.stats(t).Taken(); got != 0 {
			t.Fatalf("expected nothing reserved, got %d", got)
		}
	})

	t.Run("inactive raffle", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 10)
		if err := env.store.UpdateRaffleStatus(ctx, env.raffle.ID, domain.RaffleStatusActive, domain.RaffleStatusCancelled, testNow); err != nil {
			t.Fatalf("cancel raffle: %v", err)
		}
		_, err := env.ledger.BuyNumbers(ctx, BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("a"), Quantity: 1})
		if !errors.Is(err, domain.ErrRaffleNotActive) {
			t.Fatalf("expected ErrRaffleNotActive, got %v", err)
		}
	})
}

func TestLedger_ReserveNumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("all or nothing", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 50)
		env.buy(t, buyerNamed("other"), 2)

		p, err := env.ledger.CreatePurchase(ctx, CreatePurchaseInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("me"), Quantity: 3})
		if err != nil {
			t.Fatalf("create purchase: %v", err)
		}
		if err := env.ledger.ReserveNumbers(ctx, p.ID, []int{1, 2, 3}); !errors.Is(err, domain.ErrNumbersTaken) {
			t.Fatalf("expected ErrNumbersTaken, got %v", err)
		}
		if got, _ := env.store.ListPurchaseNumbers(ctx, p.ID); len(got) != 0 {
			t.Fatalf("expected no partial reservation, got %v", got)
		}
		if err := env.ledger.ReserveNumbers(ctx, p.ID, []int{1, 3}); err != nil {
			t.Fatalf("expected retry with free numbers to succeed, got %v", err)
		}
		if err := env.ledger.ReserveNumbers(ctx, p.ID, []int{4, 5}); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Fatalf("expected ErrInvalidQuantity over quantity, got %v", err)
		}
	})

	t.Run("rejects expired and terminal purchases", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 50)

		p, err := env.ledger.CreatePurchase(ctx, CreatePurchaseInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("me"), Quantity: 2})
		if err != nil {
			t.Fatalf("create purchase: %v", err)
		}
		env.clock.Advance(defaultReservationTTL + time.Second)
		if err := env.ledger.ReserveNumbers(ctx, p.ID, []int{1}); !errors.Is(err, domain.ErrPurchaseExpired) {
			t.Fatalf("expected ErrPurchaseExpired, got %v", err)
		}

		q, err := env.ledger.CreatePurchase(ctx, CreatePurchaseInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("me"), Quantity: 2})
		if err != nil {
			t.Fatalf("create purchase: %v", err)
		}
		if _, err := env.ledger.Reject(ctx, q.ID); err != nil {
			t.Fatalf("reject: %v", err)
		}
		if err := env.ledger.ReserveNumbers(ctx, q.ID, []int{1}); !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
	})
}

func TestLedger_AllocateRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("excludes lost numbers on the next round", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 50)
		env.buy(t, buyerNamed("other"), 1)

		alloc := &scriptedAllocator{proposals: [][]int{{1, 2}, {3, 4}}}
		ledger := NewLedger(env.store, alloc, env.clock)

		res, err := ledger.BuyNumbers(ctx, BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("me"), Quantity: 2})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if fmt.Sprint(res.Numbers) != "[3 4]" {
			t.Fatalf("expected [3 4], got %v", res.Numbers)
		}
		if len(alloc.excludes) != 2 || fmt.Sprint(alloc.excludes[1]) != "[1]" {
			t.Fatalf("expected second round to exclude [1], got %v", alloc.excludes)
		}
	})

	t.Run("gives up after bounded rounds", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 50)
		env.buy(t, buyerNamed("other"), 1)

		alloc := &scriptedAllocator{proposals: [][]int{{1}}}
		ledger := NewLedger(env.store, alloc, env.clock)

		_, err := ledger.BuyNumbers(ctx, BuyNumbersInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("me"), Quantity: 1})
		if !errors.Is(err, domain.ErrCapacityExhausted) {
			t.Fatalf("expected ErrCapacityExhausted, got %v", err)
		}
		if len(alloc.excludes) != defaultAllocateRounds {
			t.Fatalf("expected %d rounds, got %d", defaultAllocateRounds, len(alloc.excludes))
		}
	})
}

func TestLedger_Approve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("confirms numbers once and grants spins", func(t *testing.T) {
		t.Parallel()
		creditor := &countingCreditor{}
		env := newTestEnv(t, 100, WithApprovalSpins(creditor, 2))
		res := env.buy(t, buyerNamed("ana"), 10, 11, 12)

		p, err := env.ledger.Approve(ctx, res.Purchase.ID, "admin-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if p.Status != domain.PaymentApproved || p.ApprovedBy != "admin-1" || p.ApprovedAt == nil {
			t.Fatalf("unexpected purchase after approve: %+v", p)
		}
		if stats := env.stats(t); stats.Confirmed != 3 || stats.Reserved != 0 {
			t.Fatalf("expected 3 confirmed, got %+v", stats)
		}

		if _, err := env.ledger.Approve(ctx, res.Purchase.ID, "admin-1"); !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition on second approve, got %v", err)
		}
		if stats := env.stats(t); stats.Confirmed != 3 {
			t.Fatalf("expected confirmed count unchanged, got %+v", stats)
		}
		if creditor.grants["ana@example.com"] != 2 {
			t.Fatalf("expected 2 spins granted once, got %d", creditor.grants["ana@example.com"])
		}
	})

	t.Run("rejected purchase cannot be approved", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100)
		res := env.buy(t, buyerNamed("ana"), 1, 2)

		if _, err := env.ledger.Reject(ctx, res.Purchase.ID); err != nil {
			t.Fatalf("reject: %v", err)
		}
		if got := env.stats(t).Taken(); got != 0 {
			t.Fatalf("expected numbers released, got %d taken", got)
		}
		if _, err := env.ledger.Approve(ctx, res.Purchase.ID, "admin"); !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
		}
		if _, err := env.ledger.Reject(ctx, res.Purchase.ID); !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Fatalf("expected ErrInvalidStateTransition on second reject, got %v", err)
		}
	})

	t.Run("incomplete purchase", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100)
		p, err := env.ledger.CreatePurchase(ctx, CreatePurchaseInput{RaffleID: env.raffle.ID, Buyer: buyerNamed("ana"), Quantity: 2})
		if err != nil {
			t.Fatalf("create purchase: %v", err)
		}
		if err := env.ledger.ReserveNumbers(ctx, p.ID, []int{5}); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if _, err := env.ledger.Approve(ctx, p.ID, "admin"); !errors.Is(err, domain.ErrPurchaseIncomplete) {
			t.Fatalf("expected ErrPurchaseIncomplete, got %v", err)
		}
	})

	t.Run("approver required", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100)
		res := env.buy(t, buyerNamed("ana"), 1)
		if _, err := env.ledger.Approve(ctx, res.Purchase.ID, " "); !errors.Is(err, domain.ErrApproverRequired) {
			t.Fatalf("expected ErrApproverRequired, got %v", err)
		}
	})

	t.Run("unknown purchase", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100)
		if _, err := env.ledger.Approve(ctx, "missing", "admin"); !errors.Is(err, domain.ErrPurchaseNotFound) {
			t.Fatalf("expected ErrPurchaseNotFound, got %v", err)
		}
	})
}

func TestLedger_Release(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	res := env.buy(t, buyerNamed("ana"), 4, 5)

	p, err := env.ledger.Release(context.Background(), res.Purchase.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.Status != domain.PaymentExpired {
		t.Fatalf("expected expired, got %s", p.Status)
	}
	if got := env.stats(t).Taken(); got != 0 {
		t.Fatalf("expected numbers released, got %d taken", got)
	}
}

func TestLedger_ExpireSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("expires due purchases and releases their numbers", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100)
		due := env.buy(t, buyerNamed("late"), 1, 2, 3)
		approved := env.buy(t, buyerNamed("payer"), 4)
		if _, err := env.ledger.Approve(ctx, approved.Purchase.ID, "admin"); err != nil {
			t.Fatalf("approve: %v", err)
		}

		env.clock.Advance(defaultReservationTTL / 2)
		fresh := env.buy(t, buyerNamed("fresh"), 5)
		env.clock.Advance(defaultReservationTTL/2 + time.Second)

		res, err := env.ledger.ExpireSweep(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Expired != 1 || res.Released != 3 {
			t.Fatalf("expected 1 expired / 3 released, got %+v", res)
		}

		got, err := env.ledger.GetReservation(ctx, due.Purchase.ID)
		if err != nil {
			t.Fatalf("get reservation: %v", err)
		}
		if got.Purchase.Status != domain.PaymentExpired || len(got.Numbers) != 0 {
			t.Fatalf("expected expired with no numbers, got %s %v", got.Purchase.Status, got.Numbers)
		}
		if got, _ := env.ledger.GetReservation(ctx, fresh.Purchase.ID); got.Purchase.Status != domain.PaymentPending {
			t.Fatalf("expected fresh purchase still pending, got %s", got.Purchase.Status)
		}
		stats := env.stats(t)
		if stats.Confirmed != 1 || stats.Reserved != 1 || stats.Available() != 98 {
			t.Fatalf("unexpected stats after sweep: %+v", stats)
		}

		again, err := env.ledger.ExpireSweep(ctx)
		if err != nil || again.Expired != 0 {
			t.Fatalf("expected idle second sweep, got %+v %v", again, err)
		}
	})

	t.Run("drains in batches", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, 100, WithSweepBatch(2))
		for i := 1; i <= 5; i++ {
			env.buy(t, buyerNamed(fmt.Sprintf("b%d", i)), i)
		}
		env.clock.Advance(time.Hour)

		res, err := env.ledger.ExpireSweep(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Expired != 5 || res.Released != 5 {
			t.Fatalf("expected 5/5, got %+v", res)
		}
	})

	t.Run("races with approval", func(t *testing.T) {
		t.Parallel()
		for i := 0; i < 50; i++ {
			env := newTestEnv(t, 20)
			res := env.buy(t, buyerNamed("racer"), 1, 2)
			env.clock.Advance(defaultReservationTTL + time.Second)

			var wg sync.WaitGroup
			var approveErr, sweepErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, approveErr = env.ledger.Approve(ctx, res.Purchase.ID, "admin")
			}()
			go func() {
				defer wg.Done()
				_, sweepErr = env.ledger.ExpireSweep(ctx)
			}()
			wg.Wait()

			if sweepErr != nil {
				t.Fatalf("sweep must not fail, got %v", sweepErr)
			}
			got, err := env.ledger.GetReservation(ctx, res.Purchase.ID)
			if err != nil {
				t.Fatalf("get reservation: %v", err)
			}
			stats := env.stats(t)
			switch got.Purchase.Status {
			case domain.PaymentApproved:
				if approveErr != nil || stats.Confirmed != 2 {
					t.Fatalf("approved purchase must own confirmed numbers: %v %+v", approveErr, stats)
				}
			case domain.PaymentExpired:
				if !errors.Is(approveErr, domain.ErrInvalidStateTransition) || stats.Taken() != 0 {
					t.Fatalf("expired purchase must release numbers: %v %+v", approveErr, stats)
				}
			default:
				t.Fatalf("unexpected status %s", got.Purchase.Status)
			}
		}
	})
}

func TestLedger_NoDoubleAllocation(t *testing.T) {
	t.Parallel()

	const (
		total   = 500
		buyers  = 100
		perUser = 8
	)
	env := newTestEnv(t, total)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		won  = make(map[string][]int)
		errs []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.ledger.BuyNumbers(ctx, BuyNumbersInput{
				RaffleID: env.raffle.ID,
				Buyer:    buyerNamed(fmt.Sprintf("buyer%d", i)),
				Quantity: perUser,
			})
			if err == nil && i%2 == 0 {
				_, err = env.ledger.Approve(ctx, res.Purchase.ID, "admin")
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			won[res.Purchase.ID] = res.Numbers
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if !errors.Is(err, domain.ErrInsufficientAvailability) && !errors.Is(err, domain.ErrCapacityExhausted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	seen := make(map[int]string)
	for id, nums := range won {
		for _, n := range nums {
			if other, ok := seen[n]; ok {
				t.Fatalf("number %d owned by %s and %s", n, other, id)
			}
			seen[n] = id
		}
	}

	stats := env.stats(t)
	if stats.Taken() != len(seen) {
		t.Fatalf("expected %d taken numbers, got %d", len(seen), stats.Taken())
	}
	if stats.Available()+stats.Reserved+stats.Confirmed != total {
		t.Fatalf("conservation violated: %+v", stats)
	}
}

func TestLedger_GrantBonus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 100)
	ctx := context.Background()

	res, err := env.ledger.GrantBonus(ctx, env.raffle.ID, domain.Buyer{Phone: "(11) 98888-7777"}, 4)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p := res.Purchase
	if p.Status != domain.PaymentApproved || p.Source != domain.SourceSpin || p.TotalCents != 0 {
		t.Fatalf("unexpected bonus purchase: %+v", p)
	}
	if p.BuyerKey != "11988887777" || p.Buyer.Name != bonusBuyerName {
		t.Fatalf("unexpected bonus buyer: %q %q", p.BuyerKey, p.Buyer.Name)
	}
	assertFreeAndUnique(t, res.Numbers, 4, 100)
	if stats := env.stats(t); stats.Confirmed != 4 || stats.Reserved != 0 {
		t.Fatalf("expected 4 confirmed, got %+v", stats)
	}

	if _, err := env.ledger.GrantBonus(ctx, env.raffle.ID, domain.Buyer{}, 1); !errors.Is(err, domain.ErrBuyerRequired) {
		t.Fatalf("expected ErrBuyerRequired, got %v", err)
	}
}
