package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/clock"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

type RewardRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error)
	GetSpinBalance(ctx context.Context, raffleID, buyerKey string) (domain.SpinBalance, error)
	// GrantSpins adds spins, creating the balance on first use.
	GrantSpins(ctx context.Context, raffleID, buyerKey string, spins int, at time.Time) (domain.SpinBalance, error)
	// ConsumeSpin increments used_spins only while used_spins < total_spins; otherwise domain.ErrSpinQuotaExceeded.
	ConsumeSpin(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error)
	// ConsumeRetryCredit decrements retry_credits only while positive; otherwise domain.ErrNoRetryCredit.
	ConsumeRetryCredit(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error)
	RefundSpin(ctx context.Context, raffleID, buyerKey string, spinType domain.SpinType, at time.Time) error
	AddRetryCredit(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error)
	CountConfirmedNumbers(ctx context.Context, raffleID, buyerKey string) (int, error)
	AppendSpinHistory(ctx context.Context, h domain.SpinHistory) error
	ListSpinHistory(ctx context.Context, raffleID, buyerKey string) ([]domain.SpinHistory, error)
}

// BonusGranter mints confirmed numbers outside the payment flow; see Ledger.GrantBonus.
type BonusGranter interface {
	GrantBonus(ctx context.Context, raffleID string, buyer domain.Buyer, count int) (domain.Reservation, error)
}

const defaultMaxMultiplierGrant = 100

// RewardEngine runs the spin wheel.
type RewardEngine struct {
	repo     RewardRepository
	bonus    BonusGranter
	clock    clock.Clock
	random   Random
	log      *slog.Logger
	main     []domain.WeightedPrize
	retry    []domain.WeightedPrize
	maxGrant int
}

type RewardOption func(*RewardEngine)

func WithRewardRandom(r Random) RewardOption {
	return func(e *RewardEngine) {
		if r != nil {
			e.random = r
		}
	}
}

func WithMaxMultiplierGrant(n int) RewardOption {
	return func(e *RewardEngine) {
		if n > 0 {
			e.maxGrant = n
		}
	}
}

func WithRewardLogger(log *slog.Logger) RewardOption {
	return func(e *RewardEngine) {
		if log != nil {
			e.log = log
		}
	}
}

func NewRewardEngine(repo RewardRepository, bonus BonusGranter, clk clock.Clock, mainTable, retryTable []domain.WeightedPrize, opts ...RewardOption) *RewardEngine {
	e := &RewardEngine{
		repo:     repo,
		bonus:    bonus,
		clock:    clk,
		random:   NewCryptoSeededRandom(),
		log:      sl.Discard(),
		main:     mainTable,
		retry:    retryTable,
		maxGrant: defaultMaxMultiplierGrant,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type SpinResult struct {
	Prize          domain.Prize
	GrantedNumbers []int
	PurchaseID     string
	Balance        domain.SpinBalance
	// RetryOffered is set when the draw landed on retry and a retry spin is now available.
	RetryOffered bool
}

// GrantSpins credits main spins to a buyer. Runs inside the caller's transaction when there is one.
func (e *RewardEngine) GrantSpins(ctx context.Context, raffleID, buyerKey string, spins int) (domain.SpinBalance, error) {
	if spins <= 0 {
		return domain.SpinBalance{}, domain.ErrInvalidSpinGrant
	}
	if buyerKey == "" {
		return domain.SpinBalance{}, domain.ErrBuyerRequired
	}
	return e.repo.GrantSpins(ctx, raffleID, buyerKey, spins, e.clock.Now())
}

// Balance returns the buyer's balance, or an empty one if nothing was ever granted.
func (e *RewardEngine) Balance(ctx context.Context, raffleID string, buyer domain.Buyer) (domain.SpinBalance, error) {
	key := normalizeBuyer(buyer).Key()
	if key == "" {
		return domain.SpinBalance{}, domain.ErrBuyerRequired
	}
	if _, err := e.repo.GetRaffle(ctx, raffleID); err != nil {
		return domain.SpinBalance{}, err
	}
	balance, err := e.repo.GetSpinBalance(ctx, raffleID, key)
	if errors.Is(err, domain.ErrSpinBalanceNotFound) {
		return domain.SpinBalance{RaffleID: raffleID, BuyerKey: key}, nil
	}
	return balance, err
}

// History lists the buyer's spins, newest first.
func (e *RewardEngine) History(ctx context.Context, raffleID string, buyer domain.Buyer) ([]domain.SpinHistory, error) {
	key := normalizeBuyer(buyer).Key()
	if key == "" {
		return nil, domain.ErrBuyerRequired
	}
	return e.repo.ListSpinHistory(ctx, raffleID, key)
}

// Spin consumes one credit of the given type, draws a prize and applies it.
// Every completed draw is recorded in the spin history.
func (e *RewardEngine) Spin(ctx context.Context, raffleID string, buyer domain.Buyer, spinType domain.SpinType) (SpinResult, error) {
	const op = "app.RewardEngine.Spin"

	if !spinType.Valid() {
		return SpinResult{}, domain.ErrInvalidSpinType
	}
	buyer = normalizeBuyer(buyer)
	key := buyer.Key()
	if key == "" {
		return SpinResult{}, domain.ErrBuyerRequired
	}

	raffle, err := e.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return SpinResult{}, err
	}
	if raffle.Status != domain.RaffleStatusActive {
		return SpinResult{}, domain.ErrRaffleNotActive
	}

	now := e.clock.Now()
	var balance domain.SpinBalance
	table := e.main
	switch spinType {
	case domain.SpinMain:
		balance, err = e.repo.ConsumeSpin(ctx, raffleID, key, now)
	case domain.SpinRetry:
		table = e.retry
		balance, err = e.repo.ConsumeRetryCredit(ctx, raffleID, key, now)
	}
	if err != nil {
		return SpinResult{}, err
	}

	prize := pickPrize(table, e.random.Float64())
	result := SpinResult{Prize: prize, Balance: balance}

	grantErr := e.apply(ctx, raffleID, buyer, key, prize, &result)
	if grantErr != nil {
		e.log.Error("spin prize could not be granted, refunding",
			sl.Op(op),
			slog.String("raffle_id", raffleID),
			slog.String("prize", string(prize.Kind)),
			sl.Err(grantErr))
		if err := e.repo.RefundSpin(ctx, raffleID, key, spinType, e.clock.Now()); err != nil {
			e.log.Error("spin refund failed", sl.Op(op), slog.String("raffle_id", raffleID), sl.Err(err))
		}
	}

	if err := e.repo.AppendSpinHistory(ctx, domain.SpinHistory{
		ID:             newID(),
		RaffleID:       raffleID,
		BuyerKey:       key,
		SpinType:       spinType,
		Prize:          prize,
		GrantedNumbers: result.GrantedNumbers,
		PurchaseID:     result.PurchaseID,
		CreatedAt:      now,
	}); err != nil {
		e.log.Error("failed to record spin", sl.Op(op), slog.String("raffle_id", raffleID), sl.Err(err))
	}

	if grantErr != nil {
		return SpinResult{}, fmt.Errorf("%s: %w", op, grantErr)
	}
	return result, nil
}

func (e *RewardEngine) apply(ctx context.Context, raffleID string, buyer domain.Buyer, key string, prize domain.Prize, result *SpinResult) error {
	var count int
	switch prize.Kind {
	case domain.PrizeFixed:
		count = prize.Amount
	case domain.PrizeMultiplier:
		confirmed, err := e.repo.CountConfirmedNumbers(ctx, raffleID, key)
		if err != nil {
			return err
		}
		count = MultiplierGrant(confirmed, prize.Amount, e.maxGrant)
	case domain.PrizeRetry:
		balance, err := e.repo.AddRetryCredit(ctx, raffleID, key, e.clock.Now())
		if err != nil {
			return err
		}
		result.Balance = balance
		result.RetryOffered = true
		return nil
	default:
		return nil
	}

	reservation, err := e.bonus.GrantBonus(ctx, raffleID, buyer, count)
	if err != nil {
		return err
	}
	result.GrantedNumbers = reservation.Numbers
	result.PurchaseID = reservation.Purchase.ID
	return nil
}

// MultiplierGrant is confirmed*(factor-1) clamped to [1, max].
func MultiplierGrant(confirmed, factor, max int) int {
	grant := confirmed * (factor - 1)
	if grant > max {
		grant = max
	}
	if grant < 1 {
		grant = 1
	}
	return grant
}

// pickPrize maps u in [0,1) onto the cumulative weights of table. Weights are
// normalised by their sum so tables that do not add up to exactly 100 still work.
func pickPrize(table []domain.WeightedPrize, u float64) domain.Prize {
	if len(table) == 0 {
		return domain.Prize{Kind: domain.PrizeNothing}
	}
	var total float64
	for _, entry := range table {
		total += entry.Weight
	}
	r := u * total
	var cumulative float64
	for _, entry := range table {
		cumulative += entry.Weight
		if r < cumulative {
			return entry.Prize
		}
	}
	return table[len(table)-1].Prize
}
