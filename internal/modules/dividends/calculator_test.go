package dividends

import (
	"testing"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func tx(id, security int64, side domain.Side, date, qty string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		SecurityID:   security,
		Side:         side,
		TradeDate:    domain.MustParseDate(date),
		Quantity:     decimal.RequireFromString(qty),
		PricePerUnit: decimal.NewFromInt(10),
	}
}

func div(security int64, date, amount string) domain.DividendEvent {
	return domain.DividendEvent{
		SecurityID:     security,
		Date:           domain.MustParseDate(date),
		AmountPerShare: decimal.RequireFromString(amount),
	}
}

func TestCalculate_DividendTiming(t *testing.T) {
	txs := []domain.Transaction{tx(1, 1, domain.SideBuy, "2024-01-10", "100")}

	before := Calculate(txs, []domain.DividendEvent{div(1, "2024-01-05", "1")})
	assert.True(t, before.Total.IsZero(), "ex-date before the purchase pays nothing")

	after := Calculate(txs, []domain.DividendEvent{div(1, "2024-01-15", "1")})
	assert.Equal(t, "100", after.Total.String())
}

func TestCalculate_SameDayPurchaseIsEntitled(t *testing.T) {
	txs := []domain.Transaction{tx(1, 1, domain.SideBuy, "2024-01-10", "10")}
	got := Calculate(txs, []domain.DividendEvent{div(1, "2024-01-10", "0.5")})
	assert.Equal(t, "5", got.Total.String())
}

func TestCalculate_FollowsQuantityOverTime(t *testing.T) {
	txs := []domain.Transaction{
		tx(1, 1, domain.SideBuy, "2024-01-01", "10"),
		tx(2, 1, domain.SideBuy, "2024-03-01", "10"),
		tx(3, 1, domain.SideSell, "2024-06-01", "15"),
		tx(4, 1, domain.SideSell, "2024-09-01", "5"),
	}
	events := []domain.DividendEvent{
		div(1, "2024-02-01", "1"),   // 10
		div(1, "2024-04-01", "1"),   // 20
		div(1, "2024-07-01", "1"),   // 5
		div(1, "2024-10-01", "1"),   // closed
		div(99, "2024-04-01", "50"), // never traded
	}

	got := Calculate(txs, events)
	assert.Equal(t, "35", got.Total.String())
	assert.Equal(t, "35", got.BySecurity[1].String())
	assert.NotContains(t, got.BySecurity, int64(99))
}

func TestCalculate_SameDayCheckpointsUseLast(t *testing.T) {
	txs := []domain.Transaction{
		tx(2, 1, domain.SideSell, "2024-01-10", "4"),
		tx(1, 1, domain.SideBuy, "2024-01-10", "10"),
	}
	got := Calculate(txs, []domain.DividendEvent{div(1, "2024-01-10", "1")})
	assert.Equal(t, "6", got.Total.String())
}

func TestCalculate_MultipleSecurities(t *testing.T) {
	txs := []domain.Transaction{
		tx(1, 1, domain.SideBuy, "2024-01-01", "10"),
		tx(2, 2, domain.SideBuy, "2024-01-01", "3"),
	}
	events := []domain.DividendEvent{
		div(1, "2024-02-01", "0.25"),
		div(2, "2024-02-01", "2"),
	}

	got := Calculate(txs, events)
	assert.Equal(t, "8.5", got.Total.String())
	assert.Equal(t, "2.5", got.BySecurity[1].String())
	assert.Equal(t, "6", got.BySecurity[2].String())
}

func TestCalculate_Empty(t *testing.T) {
	got := Calculate(nil, nil)
	assert.True(t, got.Total.IsZero())
	assert.Empty(t, got.BySecurity)
}
