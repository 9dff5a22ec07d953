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

// RaffleRepository covers raffles, pool occupancy and the draw queries.
type RaffleRepository struct {
	executor
}

func NewRaffleRepository(pool *pgxpool.Pool) *RaffleRepository {
	return &RaffleRepository{executor{pool: pool}}
}

func (r *RaffleRepository) CreateRaffle(ctx context.Context, raffle domain.Raffle) error {
	const stmt = `
INSERT INTO raffles (id, title, description, prize_description, total_numbers, price_per_number_cents, status,
	pix_key, pix_beneficiary_name, pix_city, draw_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.exec(ctx, stmt,
		raffle.ID,
		raffle.Title,
		raffle.Description,
		raffle.PrizeDescription,
		raffle.TotalNumbers,
		raffle.PriceCents,
		string(raffle.Status),
		raffle.Pix.Key,
		raffle.Pix.BeneficiaryName,
		raffle.Pix.City,
		raffle.DrawDate,
		raffle.CreatedAt,
		raffle.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create raffle: %w", err)
	}
	return nil
}

func (r *RaffleRepository) ListRaffles(ctx context.Context) ([]domain.Raffle, error) {
	rows, err := r.query(ctx, `SELECT `+raffleColumns+` FROM raffles ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list raffles: %w", err)
	}
	defer rows.Close()

	var raffles []domain.Raffle
	for rows.Next() {
		raffle, err := scanRaffle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raffle: %w", err)
		}
		raffles = append(raffles, raffle)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate raffles: %w", rows.Err())
	}
	return raffles, nil
}

func (r *RaffleRepository) GetRaffleForUpdate(ctx context.Context, raffleID string) (domain.Raffle, error) {
	return r.getRaffle(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE id = $1 FOR UPDATE`, raffleID)
}

func (r *RaffleRepository) UpdateRaffleStatus(ctx context.Context, raffleID string, from, to domain.RaffleStatus, at time.Time) error {
	const stmt = `UPDATE raffles SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	tag, err := r.exec(ctx, stmt, raffleID, string(from), string(to), at)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update raffle status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetRaffle(ctx, raffleID); err != nil {
			return err
		}
		return domain.ErrInvalidStateTransition
	}
	return nil
}

func (r *RaffleRepository) SaveWinner(ctx context.Context, raffleID string, winner domain.Winner, status domain.RaffleStatus, at time.Time) error {
	var stmt string
	switch winner.Kind {
	case domain.WinnerMain:
		stmt = `UPDATE raffles SET winner_number = $2, winner_name = $3, status = COALESCE($4, status), updated_at = $5 WHERE id = $1`
	case domain.WinnerTopBuyer:
		stmt = `UPDATE raffles SET winner_top_buyer_number = $2, winner_top_buyer_name = $3, status = COALESCE($4, status), updated_at = $5 WHERE id = $1`
	case domain.WinnerSecondTopBuyer:
		stmt = `UPDATE raffles SET winner_second_top_buyer_number = $2, winner_second_top_buyer_name = $3, status = COALESCE($4, status), updated_at = $5 WHERE id = $1`
	default:
		return domain.ErrInvalidDrawRank
	}

	tag, err := r.exec(ctx, stmt, raffleID, winner.Number, winner.Name, nullIfEmpty(string(status)), at)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("save winner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRaffleNotFound
	}
	return nil
}

func (r *RaffleRepository) PoolStats(ctx context.Context, raffleID string) (domain.PoolStats, error) {
	const query = `
SELECT r.total_numbers,
	COUNT(n.number) FILTER (WHERE n.confirmed_at IS NULL),
	COUNT(n.number) FILTER (WHERE n.confirmed_at IS NOT NULL)
FROM raffles r
LEFT JOIN raffle_numbers n ON n.raffle_id = r.id
WHERE r.id = $1
GROUP BY r.total_numbers`

	var stats domain.PoolStats
	err := r.queryRow(ctx, query, raffleID).Scan(&stats.Total, &stats.Reserved, &stats.Confirmed)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.PoolStats{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PoolStats{}, domain.ErrRaffleNotFound
		}
		return domain.PoolStats{}, fmt.Errorf("pool stats: %w", err)
	}
	return stats, nil
}

func (r *RaffleRepository) ListTakenNumbers(ctx context.Context, raffleID string) ([]int, error) {
	rows, err := r.query(ctx, `SELECT number FROM raffle_numbers WHERE raffle_id = $1`, raffleID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list taken numbers: %w", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("scan taken numbers: %w", err)
	}
	return numbers, nil
}

func (r *RaffleRepository) ListPurchases(ctx context.Context, raffleID string, status domain.PaymentStatus) ([]domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE raffle_id = $1 AND ($2 = '' OR payment_status = $2) ORDER BY created_at DESC, id`

	rows, err := r.query(ctx, query, raffleID, string(status))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate purchases: %w", rows.Err())
	}
	return purchases, nil
}

func (r *RaffleRepository) ListConfirmedEntries(ctx context.Context, raffleID string) ([]domain.Entry, error) {
	const query = `
SELECT n.number, p.buyer_name, p.buyer_key
FROM raffle_numbers n
JOIN purchases p ON p.id = n.purchase_id
WHERE n.raffle_id = $1 AND n.confirmed_at IS NOT NULL AND p.payment_status = 'approved'
ORDER BY n.number`

	rows, err := r.query(ctx, query, raffleID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list confirmed entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Entry, error) {
		var e domain.Entry
		err := row.Scan(&e.Number, &e.BuyerName, &e.BuyerKey)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan confirmed entries: %w", err)
	}
	return entries, nil
}

func (r *RaffleRepository) ListBuyerTotals(ctx context.Context, raffleID string) ([]domain.BuyerTotal, error) {
	const query = `
SELECT buyer_key, buyer_name, tickets, spent_cents
FROM buyer_totals
WHERE raffle_id = $1
ORDER BY tickets DESC, buyer_key`

	rows, err := r.query(ctx, query, raffleID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list buyer totals: %w", err)
	}
	totals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BuyerTotal, error) {
		var t domain.BuyerTotal
		err := row.Scan(&t.BuyerKey, &t.BuyerName, &t.Tickets, &t.SpentCents)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan buyer totals: %w", err)
	}
	return totals, nil
}
