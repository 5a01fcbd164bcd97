// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// Side is the direction of a transaction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes and validates a transaction side
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side %q: must be BUY or SELL", s)
	}
}

// Transaction is an immutable buy/sell event owned by a user.
// Accounting order is (TradeDate, ID); ID doubles as insertion order.
type Transaction struct {
	TradeDate    time.Time       `json:"trade_date"`
	CreatedAt    time.Time       `json:"created_at"`
	Side         Side            `json:"side"`
	Notes        string          `json:"notes,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Fees         decimal.Decimal `json:"fees"`
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	SecurityID   int64           `json:"security_id"`
}

// SignedQuantity returns the quantity with the sign of the side (SELL negative)
func (t Transaction) SignedQuantity() decimal.Decimal {
	if t.Side == SideSell {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// Security is the shared reference entity, created lazily by symbol.
type Security struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Currency Currency `json:"currency"`
	Sector   string   `json:"sector,omitempty"`
	ID       int64    `json:"id"`
}

// NormalizeSymbol upper-cases and trims a ticker symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// DailyPrice is one OHLCV row per (security, calendar date).
type DailyPrice struct {
	Date       time.Time       `json:"date"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     int64           `json:"volume"`
	SecurityID int64           `json:"security_id"`
}

// DividendEvent is a per-share dividend with its ex/record date.
type DividendEvent struct {
	Date           time.Time       `json:"date"`
	AmountPerShare decimal.Decimal `json:"amount_per_share"`
	SecurityID     int64           `json:"security_id"`
}

// PortfolioSnapshot is the persisted daily valuation of one user's portfolio.
type PortfolioSnapshot struct {
	Date          time.Time       `json:"date"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalPnLPct   decimal.Decimal `json:"total_pnl_pct"`
	UserID        int64           `json:"user_id"`
}
