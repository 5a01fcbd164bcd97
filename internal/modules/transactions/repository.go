// Package transactions owns the user transaction log: the only write path for
// BUY/SELL events and the reads the valuation engine folds over.
package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles transaction database operations.
// Rows are inserted and deleted, never updated.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

const transactionColumns = `id, user_id, security_id, side, quantity, price_per_unit, fees, trade_date, notes, created_at`

// NewRepository creates a new transaction repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "transaction").Logger(),
	}
}

// Create inserts tx and fills in its ID and CreatedAt
func (r *Repository) Create(ctx context.Context, tx *domain.Transaction) error {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, security_id, side, quantity, price_per_unit, fees, trade_date, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.UserID,
		tx.SecurityID,
		string(tx.Side),
		tx.Quantity.String(),
		tx.PricePerUnit.String(),
		tx.Fees.String(),
		domain.FormatDate(tx.TradeDate),
		tx.Notes,
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	tx.ID = id
	tx.CreatedAt = time.Unix(now.Unix(), 0).UTC()
	return nil
}

// Get returns a user's transaction by id, or nil if it does not exist or belongs
// to another user
func (r *Repository) Get(ctx context.Context, userID, id int64) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ? AND user_id = ?", id, userID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	return &tx, nil
}

// Delete removes a user's transaction. It reports whether a row was removed.
func (r *Repository) Delete(ctx context.Context, userID, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListForUser returns all of a user's transactions in accounting order (trade_date, id)
func (r *Repository) ListForUser(ctx context.Context, userID int64) ([]domain.Transaction, error) {
	return r.query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ?
		ORDER BY trade_date, id
	`, userID)
}

// ListForSecurity returns a user's transactions in one security in accounting order
func (r *Repository) ListForSecurity(ctx context.Context, userID, securityID int64) ([]domain.Transaction, error) {
	return r.query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ? AND security_id = ?
		ORDER BY trade_date, id
	`, userID, securityID)
}

// Page returns one page of a user's transactions, newest first, with the total count
func (r *Repository) Page(ctx context.Context, userID int64, limit, offset int) ([]domain.Transaction, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE user_id = ?", userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	txs, err := r.query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ?
		ORDER BY trade_date DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// FirstTradeDate returns the earliest trade date of a user. ok is false when the
// user has no transactions.
func (r *Repository) FirstTradeDate(ctx context.Context, userID int64) (date time.Time, ok bool, err error) {
	var s sql.NullString
	if err := r.db.QueryRowContext(ctx,
		"SELECT MIN(trade_date) FROM transactions WHERE user_id = ?", userID).Scan(&s); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query first trade date: %w", err)
	}
	if !s.Valid {
		return time.Time{}, false, nil
	}
	date, err = domain.ParseDate(s.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return date, true, nil
}

// UserIDs returns every user that has at least one transaction
func (r *Repository) UserIDs(ctx context.Context) ([]int64, error) {
	return r.queryIDs(ctx, "SELECT DISTINCT user_id FROM transactions ORDER BY user_id")
}

// UsersTrading returns the users that ever traded any of the given securities
func (r *Repository) UsersTrading(ctx context.Context, securityIDs []int64) ([]int64, error) {
	if len(securityIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(securityIDs))
	placeholders := ""
	for i, id := range securityIDs {
		args[i] = id
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}
	return r.queryIDs(ctx,
		"SELECT DISTINCT user_id FROM transactions WHERE security_id IN ("+placeholders+") ORDER BY user_id",
		args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}

func (r *Repository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (domain.Transaction, error) {
	var (
		tx        domain.Transaction
		side      string
		tradeDate string
		createdAt int64
	)
	err := s.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.SecurityID,
		&side,
		&tx.Quantity,
		&tx.PricePerUnit,
		&tx.Fees,
		&tradeDate,
		&tx.Notes,
		&createdAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}

	tx.Side = domain.Side(side)
	tx.CreatedAt = time.Unix(createdAt, 0).UTC()
	if tx.TradeDate, err = domain.ParseDate(tradeDate); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}
