package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/clock"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

type AdminRepository interface {
	CreateRaffle(ctx context.Context, raffle domain.Raffle) error
	ListRaffles(ctx context.Context) ([]domain.Raffle, error)
	GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error)
	// UpdateRaffleStatus moves a raffle only if it is still in from; otherwise domain.ErrInvalidStateTransition.
	UpdateRaffleStatus(ctx context.Context, raffleID string, from, to domain.RaffleStatus, at time.Time) error
	PoolStats(ctx context.Context, raffleID string) (domain.PoolStats, error)
	ListPurchases(ctx context.Context, raffleID string, status domain.PaymentStatus) ([]domain.Purchase, error)
}

const maxTotalNumbers = 10_000_000

type AdminService struct {
	repo  AdminRepository
	clock clock.Clock
}

func NewAdminService(repo AdminRepository, clk clock.Clock) *AdminService {
	return &AdminService{
		repo:  repo,
		clock: clk,
	}
}

type CreateRaffleInput struct {
	Title            string
	Description      string
	PrizeDescription string
	TotalNumbers     int
	PriceCents       int64
	Pix              domain.PixSettings
	DrawDate         *time.Time
	// Status defaults to draft; only draft and active are accepted.
	Status domain.RaffleStatus
}

func (s *AdminService) CreateRaffle(ctx context.Context, in CreateRaffleInput) (domain.Raffle, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Raffle{}, domain.ErrRaffleTitleRequired
	}
	if in.TotalNumbers <= 0 || in.TotalNumbers > maxTotalNumbers {
		return domain.Raffle{}, domain.ErrInvalidTotalNumbers
	}
	if in.PriceCents <= 0 {
		return domain.Raffle{}, domain.ErrInvalidPrice
	}
	status := in.Status
	if status == "" {
		status = domain.RaffleStatusDraft
	}
	if status != domain.RaffleStatusDraft && status != domain.RaffleStatusActive {
		return domain.Raffle{}, domain.ErrInvalidRaffleStatus
	}

	now := s.clock.Now()
	raffle := domain.Raffle{
		ID:               newID(),
		Title:            title,
		Description:      strings.TrimSpace(in.Description),
		PrizeDescription: strings.TrimSpace(in.PrizeDescription),
		TotalNumbers:     in.TotalNumbers,
		PriceCents:       in.PriceCents,
		Status:           status,
		Pix: domain.PixSettings{
			Key:             strings.TrimSpace(in.Pix.Key),
			BeneficiaryName: strings.TrimSpace(in.Pix.BeneficiaryName),
			City:            strings.TrimSpace(in.Pix.City),
		},
		DrawDate:  in.DrawDate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateRaffle(ctx, raffle); err != nil {
		return domain.Raffle{}, err
	}
	return raffle, nil
}

func (s *AdminService) ListRaffles(ctx context.Context) ([]domain.Raffle, error) {
	return s.repo.ListRaffles(ctx)
}

func (s *AdminService) GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error) {
	if raffleID == "" {
		return domain.Raffle{}, domain.ErrInvalidID
	}
	return s.repo.GetRaffle(ctx, raffleID)
}

func (s *AdminService) UpdateRaffleStatus(ctx context.Context, raffleID string, to domain.RaffleStatus) (domain.Raffle, error) {
	if !to.Valid() {
		return domain.Raffle{}, domain.ErrInvalidRaffleStatus
	}
	raffle, err := s.GetRaffle(ctx, raffleID)
	if err != nil {
		return domain.Raffle{}, err
	}
	if !raffle.Status.CanTransitionTo(to) {
		return domain.Raffle{}, fmt.Errorf("%w: raffle is %s", domain.ErrInvalidStateTransition, raffle.Status)
	}

	now := s.clock.Now()
	if err := s.repo.UpdateRaffleStatus(ctx, raffleID, raffle.Status, to, now); err != nil {
		return domain.Raffle{}, err
	}
	raffle.Status = to
	raffle.UpdatedAt = now
	return raffle, nil
}

// Stats returns the raffle's pool occupancy.
func (s *AdminService) Stats(ctx context.Context, raffleID string) (domain.PoolStats, error) {
	if raffleID == "" {
		return domain.PoolStats{}, domain.ErrInvalidID
	}
	return s.repo.PoolStats(ctx, raffleID)
}

// ListPurchases lists a raffle's purchases, newest first. An empty status lists all of them.
func (s *AdminService) ListPurchases(ctx context.Context, raffleID string, status domain.PaymentStatus) ([]domain.Purchase, error) {
	if raffleID == "" {
		return nil, domain.ErrInvalidID
	}
	if status != "" && !status.Valid() {
		return nil, domain.ErrInvalidPaymentStatus
	}
	if _, err := s.repo.GetRaffle(ctx, raffleID); err != nil {
		return nil, err
	}
	return s.repo.ListPurchases(ctx, raffleID, status)
}
