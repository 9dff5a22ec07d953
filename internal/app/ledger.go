package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/clock"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

type LedgerRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error)
	CreatePurchase(ctx context.Context, purchase domain.Purchase) error
	GetPurchase(ctx context.Context, purchaseID string) (domain.Purchase, error)
	GetPurchaseForUpdate(ctx context.Context, purchaseID string) (domain.Purchase, error)
	ListPurchaseNumbers(ctx context.Context, purchaseID string) ([]int, error)
	// InsertNumbers claims every number or none; a collision yields *domain.NumbersTakenError.
	InsertNumbers(ctx context.Context, raffleID, purchaseID string, numbers []int, reservedAt time.Time, confirmedAt *time.Time) error
	// UpdatePurchaseStatus only moves pending purchases; otherwise domain.ErrInvalidStateTransition.
	UpdatePurchaseStatus(ctx context.Context, purchaseID string, upd domain.StatusUpdate) error
	ConfirmNumbers(ctx context.Context, purchaseID string, at time.Time) (int, error)
	DeleteNumbers(ctx context.Context, purchaseID string) (int, error)
	// ListDuePurchases returns pending purchases whose deadline passed, skipping rows locked elsewhere.
	ListDuePurchases(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// NumberAllocator proposes free numbers; see Allocator.
type NumberAllocator interface {
	Allocate(ctx context.Context, raffleID string, count int, exclude []int) ([]int, error)
}

// SpinCreditor credits main spins inside the approval transaction.
type SpinCreditor interface {
	GrantSpins(ctx context.Context, raffleID, buyerKey string, spins int) (domain.SpinBalance, error)
}

const (
	defaultReservationTTL = 15 * time.Minute
	defaultAllocateRounds = 3
	defaultSweepBatch     = 200
	bonusApprover         = "spin-wheel"
	bonusBuyerName        = "Spin Wheel Winner"
)

// Ledger is the purchase state machine: pending -> approved | rejected | expired.
type Ledger struct {
	repo             LedgerRepository
	allocator        NumberAllocator
	clock            clock.Clock
	log              *slog.Logger
	ttl              time.Duration
	rounds           int
	sweepBatch       int
	spins            SpinCreditor
	spinsPerApproval int
}

type LedgerOption func(*Ledger)

// WithReservationTTL overrides how long a pending purchase holds its numbers.
func WithReservationTTL(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.ttl = d
		}
	}
}

func WithAllocateRounds(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.rounds = n
		}
	}
}

func WithSweepBatch(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.sweepBatch = n
		}
	}
}

func WithLedgerLogger(log *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithApprovalSpins credits perApproval main spins to the buyer of every approved purchase.
func WithApprovalSpins(creditor SpinCreditor, perApproval int) LedgerOption {
	return func(l *Ledger) {
		l.spins = creditor
		l.spinsPerApproval = perApproval
	}
}

func NewLedger(repo LedgerRepository, allocator NumberAllocator, clk clock.Clock, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		repo:       repo,
		allocator:  allocator,
		clock:      clk,
		log:        sl.Discard(),
		ttl:        defaultReservationTTL,
		rounds:     defaultAllocateRounds,
		sweepBatch: defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type CreatePurchaseInput struct {
	RaffleID string
	Buyer    domain.Buyer
	Quantity int
}

// CreatePurchase opens a pending purchase priced at the raffle's price per number.
// No numbers are reserved yet.
func (l *Ledger) CreatePurchase(ctx context.Context, in CreatePurchaseInput) (domain.Purchase, error) {
	if in.Quantity <= 0 {
		return domain.Purchase{}, domain.ErrInvalidQuantity
	}
	buyer := normalizeBuyer(in.Buyer)
	if strings.TrimSpace(buyer.Name) == "" {
		return domain.Purchase{}, domain.ErrBuyerNameRequired
	}
	key := buyer.Key()
	if key == "" {
		return domain.Purchase{}, domain.ErrBuyerRequired
	}

	raffle, err := l.repo.GetRaffle(ctx, in.RaffleID)
	if err != nil {
		return domain.Purchase{}, err
	}
	if raffle.Status != domain.RaffleStatusActive {
		return domain.Purchase{}, domain.ErrRaffleNotActive
	}
	if in.Quantity > raffle.TotalNumbers {
		return domain.Purchase{}, domain.ErrInsufficientAvailability
	}

	now := l.clock.Now()
	expiresAt := now.Add(l.ttl)
	purchase := domain.Purchase{
		ID:         newID(),
		RaffleID:   raffle.ID,
		Buyer:      buyer,
		BuyerKey:   key,
		Quantity:   in.Quantity,
		TotalCents: int64(in.Quantity) * raffle.PriceCents,
		Status:     domain.PaymentPending,
		Source:     domain.SourceCheckout,
		ExpiresAt:  &expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.repo.CreatePurchase(ctx, purchase); err != nil {
		return domain.Purchase{}, err
	}
	return purchase, nil
}

// ReserveNumbers attaches numbers to a pending purchase in one transaction. If any number
// already has an owner nothing is reserved and *domain.NumbersTakenError is returned.
func (l *Ledger) ReserveNumbers(ctx context.Context, purchaseID string, numbers []int) error {
	if len(numbers) == 0 {
		return domain.ErrInvalidQuantity
	}
	now := l.clock.Now()

	return l.repo.WithTx(ctx, func(txCtx context.Context) error {
		purchase, err := l.repo.GetPurchaseForUpdate(txCtx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != domain.PaymentPending {
			return fmt.Errorf("%w: purchase is %s", domain.ErrInvalidStateTransition, purchase.Status)
		}
		if purchase.Due(now) {
			return domain.ErrPurchaseExpired
		}

		raffle, err := l.repo.GetRaffle(txCtx, purchase.RaffleID)
		if err != nil {
			return err
		}
		if err := validateNumbers(numbers, raffle.TotalNumbers); err != nil {
			return err
		}

		attached, err := l.repo.ListPurchaseNumbers(txCtx, purchaseID)
		if err != nil {
			return err
		}
		if len(attached)+len(numbers) > purchase.Quantity {
			return fmt.Errorf("%w: purchase holds %d of %d numbers", domain.ErrInvalidQuantity, len(attached), purchase.Quantity)
		}

		return l.repo.InsertNumbers(txCtx, purchase.RaffleID, purchase.ID, numbers, now, nil)
	})
}

type BuyNumbersInput struct {
	RaffleID string
	Buyer    domain.Buyer
	Quantity int
	// Numbers are the buyer's own picks; empty means allocate at random.
	Numbers []int
}

// BuyNumbers creates a pending purchase and fills it, either with the chosen numbers or
// through the allocator. A purchase left without numbers is expired immediately.
func (l *Ledger) BuyNumbers(ctx context.Context, in BuyNumbersInput) (domain.Reservation, error) {
	const op = "app.Ledger.BuyNumbers"

	if len(in.Numbers) > 0 {
		if in.Quantity == 0 {
			in.Quantity = len(in.Numbers)
		}
		if in.Quantity != len(in.Numbers) {
			return domain.Reservation{}, domain.ErrInvalidQuantity
		}
		if err := validateNumbers(in.Numbers, 0); err != nil {
			return domain.Reservation{}, err
		}
	}

	purchase, err := l.CreatePurchase(ctx, CreatePurchaseInput{
		RaffleID: in.RaffleID,
		Buyer:    in.Buyer,
		Quantity: in.Quantity,
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	var numbers []int
	if len(in.Numbers) > 0 {
		numbers = append([]int(nil), in.Numbers...)
		err = l.ReserveNumbers(ctx, purchase.ID, numbers)
	} else {
		numbers, err = l.allocateAndCommit(ctx, purchase.RaffleID, purchase.Quantity, func(ctx context.Context, proposed []int) error {
			return l.ReserveNumbers(ctx, purchase.ID, proposed)
		})
	}
	if err != nil {
		if _, abandonErr := l.transition(ctx, purchase.ID, domain.PaymentExpired, ""); abandonErr != nil {
			l.log.Error("failed to expire unfilled purchase",
				sl.Op(op), slog.String("purchase_id", purchase.ID), sl.Err(abandonErr))
		}
		return domain.Reservation{}, err
	}

	sort.Ints(numbers)
	return domain.Reservation{Purchase: purchase, Numbers: numbers}, nil
}

// Approve confirms a pending purchase and every number it owns in one transaction.
func (l *Ledger) Approve(ctx context.Context, purchaseID, approverID string) (domain.Purchase, error) {
	if strings.TrimSpace(approverID) == "" {
		return domain.Purchase{}, domain.ErrApproverRequired
	}
	return l.transition(ctx, purchaseID, domain.PaymentApproved, approverID)
}

// Reject marks a pending purchase rejected and returns its numbers to the pool.
func (l *Ledger) Reject(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	return l.transition(ctx, purchaseID, domain.PaymentRejected, "")
}

// Release lets a buyer give up a pending purchase early, with the same effect as expiry.
func (l *Ledger) Release(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	return l.transition(ctx, purchaseID, domain.PaymentExpired, "")
}

func (l *Ledger) transition(ctx context.Context, purchaseID string, to domain.PaymentStatus, approverID string) (domain.Purchase, error) {
	now := l.clock.Now()
	var result domain.Purchase

	err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
		purchase, err := l.repo.GetPurchaseForUpdate(txCtx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != domain.PaymentPending {
			return fmt.Errorf("%w: purchase is %s", domain.ErrInvalidStateTransition, purchase.Status)
		}

		if to == domain.PaymentApproved {
			attached, err := l.repo.ListPurchaseNumbers(txCtx, purchaseID)
			if err != nil {
				return err
			}
			if len(attached) != purchase.Quantity {
				return domain.ErrPurchaseIncomplete
			}
		}

		if err := l.repo.UpdatePurchaseStatus(txCtx, purchaseID, domain.StatusUpdate{
			Status:     to,
			At:         now,
			ApprovedBy: approverID,
		}); err != nil {
			return err
		}

		if to == domain.PaymentApproved {
			if _, err := l.repo.ConfirmNumbers(txCtx, purchaseID, now); err != nil {
				return err
			}
			if l.spins != nil && l.spinsPerApproval > 0 {
				if _, err := l.spins.GrantSpins(txCtx, purchase.RaffleID, purchase.BuyerKey, l.spinsPerApproval); err != nil {
					return err
				}
			}
			purchase.ApprovedAt = &now
			purchase.ApprovedBy = approverID
		} else {
			if _, err := l.repo.DeleteNumbers(txCtx, purchaseID); err != nil {
				return err
			}
		}

		purchase.Status = to
		purchase.UpdatedAt = now
		result = purchase
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return result, nil
}

// ExpireSweep expires every pending purchase past its deadline and releases its numbers.
// Purchases approved or rejected concurrently are left alone.
func (l *Ledger) ExpireSweep(ctx context.Context) (domain.SweepResult, error) {
	const op = "app.Ledger.ExpireSweep"

	now := l.clock.Now()
	var total domain.SweepResult

	for {
		var batch int
		var res domain.SweepResult
		err := l.repo.WithTx(ctx, func(txCtx context.Context) error {
			res = domain.SweepResult{}
			ids, err := l.repo.ListDuePurchases(txCtx, now, l.sweepBatch)
			if err != nil {
				return err
			}
			batch = len(ids)
			for _, id := range ids {
				err := l.repo.UpdatePurchaseStatus(txCtx, id, domain.StatusUpdate{Status: domain.PaymentExpired, At: now})
				if errors.Is(err, domain.ErrInvalidStateTransition) {
					continue
				}
				if err != nil {
					return err
				}
				released, err := l.repo.DeleteNumbers(txCtx, id)
				if err != nil {
					return err
				}
				res.Expired++
				res.Released += released
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}
		total.Expired += res.Expired
		total.Released += res.Released

		if batch < l.sweepBatch || res.Expired == 0 {
			break
		}
	}

	if total.Expired > 0 {
		l.log.Info("expired pending purchases",
			sl.Op(op), slog.Int("expired", total.Expired), slog.Int("released", total.Released))
	}
	return total, nil
}

// GrantBonus creates a zero-amount purchase that is approved from the start and owns count
// freshly allocated, already confirmed numbers.
func (l *Ledger) GrantBonus(ctx context.Context, raffleID string, buyer domain.Buyer, count int) (domain.Reservation, error) {
	if count <= 0 {
		return domain.Reservation{}, domain.ErrInvalidQuantity
	}
	buyer = normalizeBuyer(buyer)
	key := buyer.Key()
	if key == "" {
		return domain.Reservation{}, domain.ErrBuyerRequired
	}
	if strings.TrimSpace(buyer.Name) == "" {
		buyer.Name = bonusBuyerName
	}

	raffle, err := l.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if raffle.Status != domain.RaffleStatusActive {
		return domain.Reservation{}, domain.ErrRaffleNotActive
	}

	var purchase domain.Purchase
	numbers, err := l.allocateAndCommit(ctx, raffleID, count, func(ctx context.Context, proposed []int) error {
		now := l.clock.Now()
		p := domain.Purchase{
			ID:         newID(),
			RaffleID:   raffleID,
			Buyer:      buyer,
			BuyerKey:   key,
			Quantity:   count,
			Status:     domain.PaymentApproved,
			Source:     domain.SourceSpin,
			ApprovedAt: &now,
			ApprovedBy: bonusApprover,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return l.repo.WithTx(ctx, func(txCtx context.Context) error {
			if err := l.repo.CreatePurchase(txCtx, p); err != nil {
				return err
			}
			if err := l.repo.InsertNumbers(txCtx, raffleID, p.ID, proposed, now, &now); err != nil {
				return err
			}
			purchase = p
			return nil
		})
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	sort.Ints(numbers)
	return domain.Reservation{Purchase: purchase, Numbers: numbers}, nil
}

// GetReservation returns a purchase with the numbers it currently owns.
func (l *Ledger) GetReservation(ctx context.Context, purchaseID string) (domain.Reservation, error) {
	purchase, err := l.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return domain.Reservation{}, err
	}
	numbers, err := l.repo.ListPurchaseNumbers(ctx, purchaseID)
	if err != nil {
		return domain.Reservation{}, err
	}
	sort.Ints(numbers)
	return domain.Reservation{Purchase: purchase, Numbers: numbers}, nil
}

// allocateAndCommit asks the allocator for count numbers and hands them to commit. Numbers
// lost to a concurrent claim are excluded from the next proposal; after l.rounds failed
// commits the request gives up with domain.ErrCapacityExhausted.
func (l *Ledger) allocateAndCommit(ctx context.Context, raffleID string, count int, commit func(ctx context.Context, numbers []int) error) ([]int, error) {
	const op = "app.Ledger.allocateAndCommit"

	var exclude []int
	for round := 1; round <= l.rounds; round++ {
		proposed, err := l.allocator.Allocate(ctx, raffleID, count, exclude)
		if err != nil {
			return nil, err
		}

		err = commit(ctx, proposed)
		var taken *domain.NumbersTakenError
		if errors.As(err, &taken) {
			l.log.Debug("allocation lost a race, retrying",
				sl.Op(op),
				slog.String("raffle_id", raffleID),
				slog.Int("round", round),
				slog.Int("lost", len(taken.Numbers)))
			exclude = append(exclude, taken.Numbers...)
			continue
		}
		if err != nil {
			return nil, err
		}
		return proposed, nil
	}

	l.log.Warn("allocation retries exhausted",
		sl.Op(op), slog.String("raffle_id", raffleID), slog.Int("count", count))
	return nil, domain.ErrCapacityExhausted
}

// validateNumbers rejects duplicates and numbers outside [1, total]. total <= 0 skips the upper bound.
func validateNumbers(numbers []int, total int) error {
	seen := make(map[int]struct{}, len(numbers))
	for _, n := range numbers {
		if n < 1 || (total > 0 && n > total) {
			return fmt.Errorf("%w: %d", domain.ErrInvalidNumber, n)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: %d repeated", domain.ErrInvalidNumber, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

func normalizeBuyer(b domain.Buyer) domain.Buyer {
	return domain.Buyer{
		Name:  strings.TrimSpace(b.Name),
		Email: strings.ToLower(strings.TrimSpace(b.Email)),
		Phone: domain.NormalizePhone(b.Phone),
	}
}
