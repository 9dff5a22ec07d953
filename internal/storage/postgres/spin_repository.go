package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SpinRepository stores spin balances and history.
type SpinRepository struct {
	executor
}

func NewSpinRepository(pool *pgxpool.Pool) *SpinRepository {
	return &SpinRepository{executor{pool: pool}}
}

const balanceColumns = `raffle_id, buyer_key, total_spins, used_spins, retry_credits, updated_at`

func scanBalance(row pgx.Row) (domain.SpinBalance, error) {
	var b domain.SpinBalance
	err := row.Scan(&b.RaffleID, &b.BuyerKey, &b.TotalSpins, &b.UsedSpins, &b.RetryCredits, &b.UpdatedAt)
	return b, err
}

func (r *SpinRepository) GetSpinBalance(ctx context.Context, raffleID, buyerKey string) (domain.SpinBalance, error) {
	const query = `SELECT ` + balanceColumns + ` FROM spin_balances WHERE raffle_id = $1 AND buyer_key = $2`
	return r.balance(ctx, "get spin balance", domain.ErrSpinBalanceNotFound, query, raffleID, buyerKey)
}

func (r *SpinRepository) GrantSpins(ctx context.Context, raffleID, buyerKey string, spins int, at time.Time) (domain.SpinBalance, error) {
	const stmt = `
INSERT INTO spin_balances (raffle_id, buyer_key, total_spins, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (raffle_id, buyer_key) DO UPDATE
SET total_spins = spin_balances.total_spins + EXCLUDED.total_spins, updated_at = EXCLUDED.updated_at
RETURNING ` + balanceColumns
	return r.balance(ctx, "grant spins", nil, stmt, raffleID, buyerKey, spins, at)
}

// ConsumeSpin checks and increments in one statement so concurrent spins cannot overdraw.
func (r *SpinRepository) ConsumeSpin(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error) {
	const stmt = `
UPDATE spin_balances
SET used_spins = used_spins + 1, updated_at = $3
WHERE raffle_id = $1 AND buyer_key = $2 AND used_spins < total_spins
RETURNING ` + balanceColumns
	return r.balance(ctx, "consume spin", domain.ErrSpinQuotaExceeded, stmt, raffleID, buyerKey, at)
}

func (r *SpinRepository) ConsumeRetryCredit(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error) {
	const stmt = `
UPDATE spin_balances
SET retry_credits = retry_credits - 1, updated_at = $3
WHERE raffle_id = $1 AND buyer_key = $2 AND retry_credits > 0
RETURNING ` + balanceColumns
	return r.balance(ctx, "consume retry credit", domain.ErrNoRetryCredit, stmt, raffleID, buyerKey, at)
}

func (r *SpinRepository) RefundSpin(ctx context.Context, raffleID, buyerKey string, spinType domain.SpinType, at time.Time) error {
	stmt := `UPDATE spin_balances SET used_spins = GREATEST(used_spins - 1, 0), updated_at = $3 WHERE raffle_id = $1 AND buyer_key = $2`
	if spinType == domain.SpinRetry {
		stmt = `UPDATE spin_balances SET retry_credits = retry_credits + 1, updated_at = $3 WHERE raffle_id = $1 AND buyer_key = $2`
	}
	tag, err := r.exec(ctx, stmt, raffleID, buyerKey, at)
	if err != nil {
		return fmt.Errorf("refund spin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSpinBalanceNotFound
	}
	return nil
}

func (r *SpinRepository) AddRetryCredit(ctx context.Context, raffleID, buyerKey string, at time.Time) (domain.SpinBalance, error) {
	const stmt = `
INSERT INTO spin_balances (raffle_id, buyer_key, retry_credits, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (raffle_id, buyer_key) DO UPDATE
SET retry_credits = spin_balances.retry_credits + 1, updated_at = EXCLUDED.updated_at
RETURNING ` + balanceColumns
	return r.balance(ctx, "add retry credit", nil, stmt, raffleID, buyerKey, at)
}

func (r *SpinRepository) balance(ctx context.Context, op string, notFound error, sql string, args ...any) (domain.SpinBalance, error) {
	b, err := scanBalance(r.queryRow(ctx, sql, args...))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.SpinBalance{}, domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.SpinBalance{}, domain.ErrRaffleNotFound
		}
		if notFound != nil && errors.Is(err, pgx.ErrNoRows) {
			return domain.SpinBalance{}, notFound
		}
		return domain.SpinBalance{}, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func (r *SpinRepository) CountConfirmedNumbers(ctx context.Context, raffleID, buyerKey string) (int, error) {
	const query = `
SELECT COUNT(*)
FROM raffle_numbers n
JOIN purchases p ON p.id = n.purchase_id
WHERE n.raffle_id = $1 AND p.buyer_key = $2 AND n.confirmed_at IS NOT NULL`

	var count int
	if err := r.queryRow(ctx, query, raffleID, buyerKey).Scan(&count); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("count confirmed numbers: %w", err)
	}
	return count, nil
}

func (r *SpinRepository) AppendSpinHistory(ctx context.Context, h domain.SpinHistory) error {
	const stmt = `
INSERT INTO spin_history (id, raffle_id, buyer_key, spin_type, prize_kind, prize_amount, granted_numbers, purchase_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	granted := h.GrantedNumbers
	if granted == nil {
		granted = []int{}
	}
	_, err := r.exec(ctx, stmt,
		h.ID,
		h.RaffleID,
		h.BuyerKey,
		string(h.SpinType),
		string(h.Prize.Kind),
		h.Prize.Amount,
		granted,
		nullIfEmpty(h.PurchaseID),
		h.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("append spin history: %w", err)
	}
	return nil
}

func (r *SpinRepository) ListSpinHistory(ctx context.Context, raffleID, buyerKey string) ([]domain.SpinHistory, error) {
	const query = `
SELECT id, raffle_id, buyer_key, spin_type, prize_kind, prize_amount, granted_numbers, COALESCE(purchase_id::text, ''), created_at
FROM spin_history
WHERE raffle_id = $1 AND buyer_key = $2
ORDER BY created_at DESC`

	rows, err := r.query(ctx, query, raffleID, buyerKey)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list spin history: %w", err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SpinHistory, error) {
		var (
			h              domain.SpinHistory
			spinType, kind string
		)
		err := row.Scan(&h.ID, &h.RaffleID, &h.BuyerKey, &spinType, &kind, &h.Prize.Amount, &h.GrantedNumbers, &h.PurchaseID, &h.CreatedAt)
		h.SpinType = domain.SpinType(spinType)
		h.Prize.Kind = domain.PrizeKind(kind)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan spin history: %w", err)
	}
	return history, nil
}
