// Package market provides the shared market data store: securities, daily closes
// and dividend events. The engine only reads prices and dividends; they are written
// by the ingestion endpoints on behalf of the external market data fetcher.
package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// SecurityRepository handles security database operations
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

const securitiesColumns = `id, symbol, name, currency, sector`

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "security").Logger(),
	}
}

// GetBySymbol returns a security by symbol, or nil if it does not exist
func (r *SecurityRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Security, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+securitiesColumns+" FROM securities WHERE symbol = ?",
		domain.NormalizeSymbol(symbol))

	sec, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query security by symbol: %w", err)
	}
	return &sec, nil
}

// GetOrCreate returns the security for symbol, creating it on first use.
// name and currency are only used when the row is created.
func (r *SecurityRepository) GetOrCreate(ctx context.Context, symbol, name string, currency domain.Currency) (*domain.Security, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if name == "" {
		name = symbol
	}
	if currency == "" {
		currency = domain.CurrencyEUR
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO securities (symbol, name, currency, sector)
		VALUES (?, ?, ?, '')
		ON CONFLICT(symbol) DO NOTHING
	`, symbol, name, string(currency))
	if err != nil {
		return nil, fmt.Errorf("failed to create security %s: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.log.Info().Str("symbol", symbol).Msg("Security created")
	}

	sec, err := r.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, fmt.Errorf("security %s missing after insert", symbol)
	}
	return sec, nil
}

// GetByIDs returns the securities with the given ids keyed by id.
// Unknown ids are absent from the map.
func (r *SecurityRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Security, error) {
	out := make(map[int64]domain.Security, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders, args := inClause(ids)
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+securitiesColumns+" FROM securities WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		out[sec.ID] = sec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}
	return out, nil
}

// List returns all securities ordered by symbol
func (r *SecurityRepository) List(ctx context.Context) ([]domain.Security, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+securitiesColumns+" FROM securities ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var out []domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSecurity(s scanner) (domain.Security, error) {
	var sec domain.Security
	var currency string
	if err := s.Scan(&sec.ID, &sec.Symbol, &sec.Name, &currency, &sec.Sector); err != nil {
		return domain.Security{}, err
	}
	sec.Currency = domain.Currency(currency)
	return sec, nil
}

// inClause returns "?, ?, ?" and the matching args for an IN (...) filter
func inClause(ids []int64) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
