package app

import (
	"context"
	"fmt"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/clock"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

type DrawRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetRaffleForUpdate(ctx context.Context, raffleID string) (domain.Raffle, error)
	// ListConfirmedEntries returns confirmed numbers of approved purchases ordered by number.
	ListConfirmedEntries(ctx context.Context, raffleID string) ([]domain.Entry, error)
	// ListBuyerTotals returns confirmed tickets per buyer ordered by tickets descending.
	ListBuyerTotals(ctx context.Context, raffleID string) ([]domain.BuyerTotal, error)
	// SaveWinner stores the winner; a non-empty status also moves the raffle to it.
	SaveWinner(ctx context.Context, raffleID string, winner domain.Winner, status domain.RaffleStatus, at time.Time) error
}

// DrawService picks winners among already confirmed numbers.
type DrawService struct {
	repo   DrawRepository
	clock  clock.Clock
	random Random
}

func NewDrawService(repo DrawRepository, clk clock.Clock, random Random) *DrawService {
	if random == nil {
		random = NewCryptoSeededRandom()
	}
	return &DrawService{
		repo:   repo,
		clock:  clk,
		random: random,
	}
}

// DrawMainWinner picks one confirmed number uniformly and completes the raffle.
func (s *DrawService) DrawMainWinner(ctx context.Context, raffleID string) (domain.Winner, error) {
	var winner domain.Winner
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		raffle, err := s.repo.GetRaffleForUpdate(txCtx, raffleID)
		if err != nil {
			return err
		}
		if raffle.Status != domain.RaffleStatusActive {
			return fmt.Errorf("%w: raffle is %s", domain.ErrInvalidStateTransition, raffle.Status)
		}

		entries, err := s.repo.ListConfirmedEntries(txCtx, raffleID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return domain.ErrNoConfirmedNumbers
		}

		picked := entries[s.random.Intn(len(entries))]
		winner = domain.Winner{Kind: domain.WinnerMain, Number: picked.Number, Name: picked.BuyerName}
		return s.repo.SaveWinner(txCtx, raffleID, winner, domain.RaffleStatusCompleted, s.clock.Now())
	})
	if err != nil {
		return domain.Winner{}, err
	}
	return winner, nil
}

// DrawTopBuyerWinner draws among the buyers at dense rank 1 or 2 by confirmed tickets,
// then draws one of the chosen buyer's numbers.
func (s *DrawService) DrawTopBuyerWinner(ctx context.Context, raffleID string, rank int) (domain.Winner, error) {
	kind := domain.WinnerTopBuyer
	switch rank {
	case 1:
	case 2:
		kind = domain.WinnerSecondTopBuyer
	default:
		return domain.Winner{}, domain.ErrInvalidDrawRank
	}

	var winner domain.Winner
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		raffle, err := s.repo.GetRaffleForUpdate(txCtx, raffleID)
		if err != nil {
			return err
		}
		if raffle.Status != domain.RaffleStatusActive && raffle.Status != domain.RaffleStatusCompleted {
			return fmt.Errorf("%w: raffle is %s", domain.ErrInvalidStateTransition, raffle.Status)
		}

		totals, err := s.repo.ListBuyerTotals(txCtx, raffleID)
		if err != nil {
			return err
		}
		tied := buyersAtRank(totals, rank)
		if len(tied) == 0 {
			return domain.ErrNoConfirmedNumbers
		}
		buyer := tied[s.random.Intn(len(tied))]

		entries, err := s.repo.ListConfirmedEntries(txCtx, raffleID)
		if err != nil {
			return err
		}
		var owned []domain.Entry
		for _, e := range entries {
			if e.BuyerKey == buyer.BuyerKey {
				owned = append(owned, e)
			}
		}
		if len(owned) == 0 {
			return domain.ErrNoConfirmedNumbers
		}

		picked := owned[s.random.Intn(len(owned))]
		winner = domain.Winner{Kind: kind, Number: picked.Number, Name: buyer.BuyerName}
		return s.repo.SaveWinner(txCtx, raffleID, winner, "", s.clock.Now())
	})
	if err != nil {
		return domain.Winner{}, err
	}
	return winner, nil
}

// buyersAtRank returns the buyers at the given dense rank. totals must be sorted by Tickets descending.
func buyersAtRank(totals []domain.BuyerTotal, rank int) []domain.BuyerTotal {
	current := 0
	prev := -1
	var out []domain.BuyerTotal
	for _, t := range totals {
		if t.Tickets <= 0 {
			break
		}
		if t.Tickets != prev {
			current++
			prev = t.Tickets
		}
		if current == rank {
			out = append(out, t)
		}
		if current > rank {
			break
		}
	}
	return out
}
