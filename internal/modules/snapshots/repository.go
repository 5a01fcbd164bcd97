// Package snapshots builds, persists and serves the daily portfolio value series.
package snapshots

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles portfolio_snapshots. A row is identified by (user, date).
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshot").Logger(),
	}
}

// Upsert writes all snapshots in one transaction. Either every row lands or none.
func (r *Repository) Upsert(ctx context.Context, snapshots []domain.PortfolioSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	now := time.Now().Unix()
	return database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO portfolio_snapshots (user_id, date, total_value, total_invested, total_pnl, total_pnl_pct, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, date) DO UPDATE SET
				total_value = excluded.total_value,
				total_invested = excluded.total_invested,
				total_pnl = excluded.total_pnl,
				total_pnl_pct = excluded.total_pnl_pct,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot upsert: %w", err)
		}
		defer stmt.Close()

		for _, s := range snapshots {
			_, err := stmt.ExecContext(ctx,
				s.UserID,
				domain.FormatDate(s.Date),
				s.TotalValue.String(),
				s.TotalInvested.String(),
				s.TotalPnL.String(),
				s.TotalPnLPct.String(),
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert snapshot %s: %w", domain.FormatDate(s.Date), err)
			}
		}
		return nil
	})
}

// ExistingDates returns the set of YYYY-MM-DD dates in [from, to] that have a row
func (r *Repository) ExistingDates(ctx context.Context, userID int64, from, to time.Time) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date FROM portfolio_snapshots
		WHERE user_id = ? AND date >= ? AND date <= ?
	`, userID, domain.FormatDate(from), domain.FormatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot dates: %w", err)
	}
	defer rows.Close()

	dates := make(map[string]struct{})
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot date: %w", err)
		}
		dates[date] = struct{}{}
	}
	return dates, rows.Err()
}

// Range returns the user's snapshots in [from, to] ordered by date. A zero from
// means from the beginning.
func (r *Repository) Range(ctx context.Context, userID int64, from, to time.Time) ([]domain.PortfolioSnapshot, error) {
	fromStr := ""
	if !from.IsZero() {
		fromStr = domain.FormatDate(from)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, date, total_value, total_invested, total_pnl, total_pnl_pct
		FROM portfolio_snapshots
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, userID, fromStr, domain.FormatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.PortfolioSnapshot
	for rows.Next() {
		var (
			s       domain.PortfolioSnapshot
			dateStr string
		)
		if err := rows.Scan(&s.UserID, &dateStr, &s.TotalValue, &s.TotalInvested, &s.TotalPnL, &s.TotalPnLPct); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if s.Date, err = domain.ParseDate(dateStr); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// DeleteBefore removes the user's snapshots dated strictly before date. A zero
// date removes all of them. Used when the first transaction moves forward.
func (r *Repository) DeleteBefore(ctx context.Context, userID int64, date time.Time) (int64, error) {
	query := "DELETE FROM portfolio_snapshots WHERE user_id = ?"
	args := []interface{}{userID}
	if !date.IsZero() {
		query += " AND date < ?"
		args = append(args, domain.FormatDate(date))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
