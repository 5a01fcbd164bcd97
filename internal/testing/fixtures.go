package testing

import (
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
)

// InsertSecurity adds a security and returns its id
func InsertSecurity(t *testing.T, db *sql.DB, symbol string) int64 {
	t.Helper()

	res, err := db.Exec(`INSERT INTO securities (symbol, name, currency, sector) VALUES (?, ?, 'EUR', '')`,
		symbol, symbol+" Inc.")
	if err != nil {
		t.Fatalf("Failed to insert security %s: %v", symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read security id: %v", err)
	}
	return id
}

// InsertPrice adds a daily close. Open/high/low are set to the close.
func InsertPrice(t *testing.T, db *sql.DB, securityID int64, date string, closePrice string) {
	t.Helper()

	c := decimal.RequireFromString(closePrice)
	_, err := db.Exec(`
		INSERT INTO daily_prices (security_id, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, securityID, date, c.String(), c.String(), c.String(), c.String())
	if err != nil {
		t.Fatalf("Failed to insert price %d@%s: %v", securityID, date, err)
	}
}

// InsertDividend adds a dividend event
func InsertDividend(t *testing.T, db *sql.DB, securityID int64, date string, amount string) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO dividends (security_id, date, amount_per_share) VALUES (?, ?, ?)`,
		securityID, date, decimal.RequireFromString(amount).String())
	if err != nil {
		t.Fatalf("Failed to insert dividend %d@%s: %v", securityID, date, err)
	}
}

// InsertTransaction adds a transaction row bypassing validation and returns its id
func InsertTransaction(t *testing.T, db *sql.DB, userID, securityID int64, side domain.Side, date, qty, price, fees string) int64 {
	t.Helper()

	res, err := db.Exec(`
		INSERT INTO transactions (user_id, security_id, side, quantity, price_per_unit, fees, trade_date, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)
	`, userID, securityID, string(side),
		decimal.RequireFromString(qty).String(),
		decimal.RequireFromString(price).String(),
		decimal.RequireFromString(fees).String(),
		date, time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to insert transaction: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read transaction id: %v", err)
	}
	return id
}

// FixedClock returns a clock pinned to the given YYYY-MM-DD date
func FixedClock(date string) domain.Clock {
	d := domain.MustParseDate(date)
	return func() time.Time { return d.Add(12 * time.Hour) }
}
