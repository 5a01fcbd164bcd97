package market

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// DividendRepository reads and writes per-share dividend events
type DividendRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDividendRepository creates a new dividend repository
func NewDividendRepository(db *sql.DB, log zerolog.Logger) *DividendRepository {
	return &DividendRepository{
		db:  db,
		log: log.With().Str("repo", "dividend").Logger(),
	}
}

// ForSecurities returns the dividend events of the given securities ordered by
// date then security id
func (r *DividendRepository) ForSecurities(ctx context.Context, securityIDs []int64) ([]domain.DividendEvent, error) {
	if len(securityIDs) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(securityIDs)
	rows, err := r.db.QueryContext(ctx, `
		SELECT security_id, date, amount_per_share FROM dividends
		WHERE security_id IN (`+placeholders+`)
		ORDER BY date, security_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividends: %w", err)
	}
	defer rows.Close()

	var out []domain.DividendEvent
	for rows.Next() {
		var (
			ev      domain.DividendEvent
			dateStr string
		)
		if err := rows.Scan(&ev.SecurityID, &dateStr, &ev.AmountPerShare); err != nil {
			return nil, fmt.Errorf("failed to scan dividend: %w", err)
		}
		if ev.Date, err = domain.ParseDate(dateStr); err != nil {
			return nil, fmt.Errorf("bad dividend date for security %d: %w", ev.SecurityID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dividends: %w", err)
	}
	return out, nil
}

// Upsert writes dividend events in one transaction
func (r *DividendRepository) Upsert(ctx context.Context, events []domain.DividendEvent) error {
	if len(events) == 0 {
		return nil
	}

	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		for _, ev := range events {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO dividends (security_id, date, amount_per_share)
				VALUES (?, ?, ?)
				ON CONFLICT(security_id, date) DO UPDATE SET
					amount_per_share = excluded.amount_per_share
			`, ev.SecurityID, domain.FormatDate(ev.Date), ev.AmountPerShare.String())
			if err != nil {
				return fmt.Errorf("failed to upsert dividend %d@%s: %w", ev.SecurityID, domain.FormatDate(ev.Date), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("rows", len(events)).Msg("Dividends upserted")
	return nil
}
