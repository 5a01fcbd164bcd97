package market

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LatestPrice is the most recent close of a security and the close before it
type LatestPrice struct {
	Date      time.Time
	Close     decimal.Decimal
	PrevClose decimal.Decimal
	HasPrev   bool
}

// PriceRepository reads and writes daily closes
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const dailyPriceColumns = `security_id, date, open, high, low, close, volume`

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repo", "price").Logger(),
	}
}

// LatestTwo returns, per security, the latest close with its date and the close
// immediately before it. Securities without any price row are absent.
func (r *PriceRepository) LatestTwo(ctx context.Context, securityIDs []int64) (map[int64]LatestPrice, error) {
	out := make(map[int64]LatestPrice, len(securityIDs))
	if len(securityIDs) == 0 {
		return out, nil
	}

	placeholders, args := inClause(securityIDs)
	query := `
		SELECT security_id, date, close, rn FROM (
			SELECT security_id, date, close,
				ROW_NUMBER() OVER (PARTITION BY security_id ORDER BY date DESC) AS rn
			FROM daily_prices
			WHERE security_id IN (` + placeholders + `)
		)
		WHERE rn <= 2
		ORDER BY security_id, rn
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			securityID int64
			dateStr    string
			closePrice decimal.Decimal
			rn         int
		)
		if err := rows.Scan(&securityID, &dateStr, &closePrice, &rn); err != nil {
			return nil, fmt.Errorf("failed to scan latest price: %w", err)
		}

		lp := out[securityID]
		if rn == 1 {
			date, err := domain.ParseDate(dateStr)
			if err != nil {
				return nil, fmt.Errorf("bad price date for security %d: %w", securityID, err)
			}
			lp.Date = date
			lp.Close = closePrice
		} else {
			lp.PrevClose = closePrice
			lp.HasPrev = true
		}
		out[securityID] = lp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest prices: %w", err)
	}

	return out, nil
}

// Range returns the closes of the given securities with from <= date <= to,
// ordered by date then security id
func (r *PriceRepository) Range(ctx context.Context, securityIDs []int64, from, to time.Time) ([]domain.DailyPrice, error) {
	if len(securityIDs) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(securityIDs)
	args = append(args, domain.FormatDate(from), domain.FormatDate(to))

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+dailyPriceColumns+` FROM daily_prices
		WHERE security_id IN (`+placeholders+`) AND date >= ? AND date <= ?
		ORDER BY date, security_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price range: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

// LatestBefore returns, per security, the most recent close strictly before date.
// It seeds forward-fill for ranges that start after a gap.
func (r *PriceRepository) LatestBefore(ctx context.Context, securityIDs []int64, date time.Time) (map[int64]domain.DailyPrice, error) {
	out := make(map[int64]domain.DailyPrice, len(securityIDs))
	if len(securityIDs) == 0 {
		return out, nil
	}

	placeholders, args := inClause(securityIDs)
	args = append(args, domain.FormatDate(date))

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+dailyPriceColumns+` FROM (
			SELECT `+dailyPriceColumns+`,
				ROW_NUMBER() OVER (PARTITION BY security_id ORDER BY date DESC) AS rn
			FROM daily_prices
			WHERE security_id IN (`+placeholders+`) AND date < ?
		)
		WHERE rn = 1
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query seed prices: %w", err)
	}
	defer rows.Close()

	prices, err := scanPrices(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range prices {
		out[p.SecurityID] = p
	}
	return out, nil
}

// History returns the closes of one security from the given date onwards, oldest
// first. A zero from returns the full history.
func (r *PriceRepository) History(ctx context.Context, securityID int64, from time.Time) ([]domain.DailyPrice, error) {
	fromStr := ""
	if !from.IsZero() {
		fromStr = domain.FormatDate(from)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+dailyPriceColumns+` FROM daily_prices
		WHERE security_id = ? AND date >= ?
		ORDER BY date
	`, securityID, fromStr)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	return scanPrices(rows)
}

// Upsert writes price rows in one transaction, replacing existing rows for the
// same (security, date)
func (r *PriceRepository) Upsert(ctx context.Context, prices []domain.DailyPrice) error {
	if len(prices) == 0 {
		return nil
	}

	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_prices (`+dailyPriceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(security_id, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			_, err := stmt.ExecContext(ctx,
				p.SecurityID,
				domain.FormatDate(p.Date),
				p.Open.String(),
				p.High.String(),
				p.Low.String(),
				p.Close.String(),
				p.Volume,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert price %d@%s: %w", p.SecurityID, domain.FormatDate(p.Date), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("rows", len(prices)).Msg("Prices upserted")
	return nil
}

func scanPrices(rows *sql.Rows) ([]domain.DailyPrice, error) {
	var out []domain.DailyPrice
	for rows.Next() {
		var (
			p       domain.DailyPrice
			dateStr string
		)
		if err := rows.Scan(&p.SecurityID, &dateStr, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		date, err := domain.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("bad price date for security %d: %w", p.SecurityID, err)
		}
		p.Date = date
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}
	return out, nil
}
