package app

import (
	"context"
	"testing"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/clock"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/storage/memory"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *memory.Store
	clock  *clock.Manual
	alloc  *Allocator
	ledger *Ledger
	raffle domain.Raffle
}

func newTestEnv(t *testing.T, totalNumbers int, opts ...LedgerOption) *testEnv {
	t.Helper()

	store := memory.New()
	clk := clock.NewManual(testNow)
	raffle := domain.Raffle{
		ID:           "raffle-1",
		Title:        "Moto 0km",
		TotalNumbers: totalNumbers,
		PriceCents:   250,
		Status:       domain.RaffleStatusActive,
		Pix:          domain.PixSettings{Key: "11999999999", BeneficiaryName: "Joao Silva"},
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	if err := store.CreateRaffle(context.Background(), raffle); err != nil {
		t.Fatalf("create raffle: %v", err)
	}

	alloc := NewAllocator(store, WithAllocatorRandom(NewRandom(7)))
	ledger := NewLedger(store, alloc, clk, opts...)
	return &testEnv{store: store, clock: clk, alloc: alloc, ledger: ledger, raffle: raffle}
}

func (e *testEnv) buy(t *testing.T, buyer domain.Buyer, numbers ...int) domain.Reservation {
	t.Helper()
	res, err := e.ledger.BuyNumbers(context.Background(), BuyNumbersInput{
		RaffleID: e.raffle.ID,
		Buyer:    buyer,
		Numbers:  numbers,
	})
	if err != nil {
		t.Fatalf("buy %v: %v", numbers, err)
	}
	return res
}

func (e *testEnv) stats(t *testing.T) domain.PoolStats {
	t.Helper()
	stats, err := e.store.PoolStats(context.Background(), e.raffle.ID)
	if err != nil {
		t.Fatalf("pool stats: %v", err)
	}
	return stats
}

func buyerNamed(name string) domain.Buyer {
	return domain.Buyer{Name: name, Email: name + "@example.com"}
}
