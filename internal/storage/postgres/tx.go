package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// executor routes statements through the transaction carried by ctx, if any.
// Every repository embeds it, so a transaction opened by one joins the others.
type executor struct {
	pool *pgxpool.Pool
}

func (e executor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, e.pool, fn)
}

func (e executor) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return e.pool.Exec(ctx, sql, args...)
}

func (e executor) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return e.pool.QueryRow(ctx, sql, args...)
}

func (e executor) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return e.pool.Query(ctx, sql, args...)
}

const raffleColumns = `
id, title, description, prize_description, total_numbers, price_per_number_cents, status,
pix_key, pix_beneficiary_name, pix_city, draw_date,
winner_number, winner_name, winner_top_buyer_number, winner_top_buyer_name,
winner_second_top_buyer_number, winner_second_top_buyer_name,
created_at, updated_at`

// GetRaffle is shared by every repository.
func (e executor) GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error) {
	return e.getRaffle(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE id = $1`, raffleID)
}

func (e executor) getRaffle(ctx context.Context, query, raffleID string) (domain.Raffle, error) {
	raffle, err := scanRaffle(e.queryRow(ctx, query, raffleID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Raffle{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Raffle{}, domain.ErrRaffleNotFound
		}
		return domain.Raffle{}, fmt.Errorf("get raffle: %w", err)
	}
	return raffle, nil
}

func scanRaffle(row pgx.Row) (domain.Raffle, error) {
	var (
		r                 domain.Raffle
		status            string
		mainNum, topNum   *int
		secondNum         *int
		mainName, topName *string
		secondName        *string
	)
	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.PrizeDescription, &r.TotalNumbers, &r.PriceCents, &status,
		&r.Pix.Key, &r.Pix.BeneficiaryName, &r.Pix.City, &r.DrawDate,
		&mainNum, &mainName, &topNum, &topName,
		&secondNum, &secondName,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.Raffle{}, err
	}
	r.Status = domain.RaffleStatus(status)
	r.MainWinner = winnerFrom(domain.WinnerMain, mainNum, mainName)
	r.TopBuyerWinner = winnerFrom(domain.WinnerTopBuyer, topNum, topName)
	r.SecondTopWinner = winnerFrom(domain.WinnerSecondTopBuyer, secondNum, secondName)
	return r, nil
}

func winnerFrom(kind domain.WinnerKind, number *int, name *string) *domain.Winner {
	if number == nil {
		return nil
	}
	w := &domain.Winner{Kind: kind, Number: *number}
	if name != nil {
		w.Name = *name
	}
	return w
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
