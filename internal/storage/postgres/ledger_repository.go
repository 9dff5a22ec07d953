package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository stores purchases and the numbers they own.
type LedgerRepository struct {
	executor
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{executor{pool: pool}}
}

const purchaseColumns = `
id, raffle_id, buyer_name, buyer_email, buyer_phone, buyer_key, quantity, total_amount_cents,
payment_status, source, expires_at, approved_at, approved_by, created_at, updated_at`

func scanPurchase(row pgx.Row) (domain.Purchase, error) {
	var (
		p              domain.Purchase
		status, source string
	)
	err := row.Scan(
		&p.ID, &p.RaffleID, &p.Buyer.Name, &p.Buyer.Email, &p.Buyer.Phone, &p.BuyerKey, &p.Quantity, &p.TotalCents,
		&status, &source, &p.ExpiresAt, &p.ApprovedAt, &p.ApprovedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Purchase{}, err
	}
	p.Status = domain.PaymentStatus(status)
	p.Source = domain.PurchaseSource(source)
	return p, nil
}

func (r *LedgerRepository) CreatePurchase(ctx context.Context, p domain.Purchase) error {
	const stmt = `
INSERT INTO purchases (id, raffle_id, buyer_name, buyer_email, buyer_phone, buyer_key, quantity, total_amount_cents,
	payment_status, source, expires_at, approved_at, approved_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.exec(ctx, stmt,
		p.ID,
		p.RaffleID,
		p.Buyer.Name,
		p.Buyer.Email,
		p.Buyer.Phone,
		p.BuyerKey,
		p.Quantity,
		p.TotalCents,
		string(p.Status),
		string(p.Source),
		p.ExpiresAt,
		p.ApprovedAt,
		p.ApprovedBy,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrRaffleNotFound
		}
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetPurchase(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	return r.getPurchase(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, purchaseID)
}

func (r *LedgerRepository) GetPurchaseForUpdate(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	return r.getPurchase(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, purchaseID)
}

func (r *LedgerRepository) getPurchase(ctx context.Context, query, purchaseID string) (domain.Purchase, error) {
	p, err := scanPurchase(r.queryRow(ctx, query, purchaseID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Purchase{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Purchase{}, domain.ErrPurchaseNotFound
		}
		return domain.Purchase{}, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

func (r *LedgerRepository) ListPurchaseNumbers(ctx context.Context, purchaseID string) ([]int, error) {
	rows, err := r.query(ctx, `SELECT number FROM raffle_numbers WHERE purchase_id = $1 ORDER BY number`, purchaseID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list purchase numbers: %w", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("scan purchase numbers: %w", err)
	}
	return numbers, nil
}

// InsertNumbers claims every number or none. The primary key on (raffle_id, number)
// arbitrates concurrent claims; a shortfall rolls the statement's transaction back and
// reports the lost numbers.
func (r *LedgerRepository) InsertNumbers(ctx context.Context, raffleID, purchaseID string, numbers []int, reservedAt time.Time, confirmedAt *time.Time) error {
	const stmt = `
INSERT INTO raffle_numbers (raffle_id, number, purchase_id, reserved_at, confirmed_at)
SELECT $1, n, $2, $3, $4
FROM unnest($5::integer[]) AS n
ORDER BY n
ON CONFLICT (raffle_id, number) DO NOTHING
RETURNING number`

	// Ascending insert order keeps overlapping claims from deadlocking.
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	return r.WithTx(ctx, func(txCtx context.Context) error {
		rows, err := r.query(txCtx, stmt, raffleID, purchaseID, reservedAt, confirmedAt, sorted)
		if err != nil {
			return mapInsertNumbersErr(err)
		}
		inserted, err := pgx.CollectRows(rows, pgx.RowTo[int])
		if err != nil {
			return mapInsertNumbersErr(err)
		}
		if len(inserted) == len(numbers) {
			return nil
		}

		got := make(map[int]struct{}, len(inserted))
		for _, n := range inserted {
			got[n] = struct{}{}
		}
		lost := make([]int, 0, len(numbers)-len(inserted))
		for _, n := range numbers {
			if _, ok := got[n]; !ok {
				lost = append(lost, n)
			}
		}
		return &domain.NumbersTakenError{Numbers: lost}
	})
}

func mapInsertNumbersErr(err error) error {
	if isInvalidUUID(err) {
		return domain.ErrInvalidID
	}
	if isForeignKeyViolation(err) {
		return domain.ErrPurchaseNotFound
	}
	return fmt.Errorf("insert numbers: %w", err)
}

func (r *LedgerRepository) UpdatePurchaseStatus(ctx context.Context, purchaseID string, upd domain.StatusUpdate) error {
	const stmt = `
UPDATE purchases
SET payment_status = $2::text,
	updated_at = $3,
	approved_at = CASE WHEN $2::text = 'approved' THEN $3 ELSE approved_at END,
	approved_by = CASE WHEN $2::text = 'approved' THEN $4 ELSE approved_by END
WHERE id = $1 AND payment_status = 'pending'`

	tag, err := r.exec(ctx, stmt, purchaseID, string(upd.Status), upd.At, upd.ApprovedBy)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update purchase status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetPurchase(ctx, purchaseID); err != nil {
			return err
		}
		return domain.ErrInvalidStateTransition
	}
	return nil
}

func (r *LedgerRepository) ConfirmNumbers(ctx context.Context, purchaseID string, at time.Time) (int, error) {
	tag, err := r.exec(ctx, `UPDATE raffle_numbers SET confirmed_at = $2 WHERE purchase_id = $1 AND confirmed_at IS NULL`, purchaseID, at)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("confirm numbers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *LedgerRepository) DeleteNumbers(ctx context.Context, purchaseID string) (int, error) {
	tag, err := r.exec(ctx, `DELETE FROM raffle_numbers WHERE purchase_id = $1`, purchaseID)
	if err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("delete numbers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListDuePurchases locks the due purchases it returns; rows another transaction holds are skipped.
func (r *LedgerRepository) ListDuePurchases(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const query = `
SELECT id
FROM purchases
WHERE payment_status = 'pending' AND expires_at <= $1
ORDER BY expires_at
LIMIT $2
FOR UPDATE SKIP LOCKED`

	rows, err := r.query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due purchases: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan due purchases: %w", err)
	}
	return ids, nil
}
