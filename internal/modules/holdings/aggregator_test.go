package holdings

import (
	"testing"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buy(id, security int64, date, qty, price, fees string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		SecurityID:   security,
		Side:         domain.SideBuy,
		TradeDate:    domain.MustParseDate(date),
		Quantity:     d(qty),
		PricePerUnit: d(price),
		Fees:         d(fees),
	}
}

func sell(id, security int64, date, qty, price, fees string) domain.Transaction {
	tx := buy(id, security, date, qty, price, fees)
	tx.Side = domain.SideSell
	return tx
}

func TestAggregate_Empty(t *testing.T) {
	book := Aggregate(nil)
	assert.Empty(t, book.All())
	assert.Empty(t, book.Open())
	assert.True(t, book.TotalRealizedPnL().IsZero())
}

func TestAggregate_AverageCostInvariant(t *testing.T) {
	txs := []domain.Transaction{
		buy(1, 1, "2024-01-01", "10", "100", "5"),
		buy(2, 1, "2024-01-05", "5", "130", "2.5"),
	}

	book := Aggregate(txs)
	h := book.Get(1)
	require.NotNil(t, h)

	// total_cost/quantity equals the fee-inclusive weighted average of purchase prices
	expectedCost := d("10").Mul(d("100")).Add(d("5")).Add(d("5").Mul(d("130"))).Add(d("2.5"))
	assert.True(t, h.TotalCost.Equal(expectedCost), "total cost %s", h.TotalCost)
	assert.True(t, h.Quantity.Equal(d("15")))
	assert.True(t, h.AvgCost().Equal(expectedCost.Div(d("15"))))
}

func TestAggregate_ClosedPositionRealizedPnL(t *testing.T) {
	txs := []domain.Transaction{
		buy(1, 1, "2024-01-01", "10", "100", "0"),
		sell(2, 1, "2024-02-01", "10", "120", "0"),
	}

	book := Aggregate(txs)
	h := book.Get(1)
	require.NotNil(t, h)

	assert.True(t, h.RealizedPnL.Equal(d("200")), "realized %s", h.RealizedPnL)
	assert.True(t, h.Quantity.IsZero())
	assert.True(t, h.TotalCost.IsZero())
	assert.False(t, h.IsOpen())
	assert.Empty(t, book.Open())
	assert.Len(t, book.All(), 1, "closed positions stay in the book")
	assert.True(t, book.TotalRealizedPnL().Equal(d("200")))
}

func TestAggregate_PartialSell(t *testing.T) {
	txs := []domain.Transaction{
		buy(1, 1, "2024-01-01", "10", "100", "0"),
		buy(2, 1, "2024-01-02", "10", "200", "0"),
		sell(3, 1, "2024-01-03", "5", "180", "0"),
	}

	book := Aggregate(txs)
	h := book.Get(1)
	require.NotNil(t, h)

	assert.True(t, h.RealizedPnL.Equal(d("150")), "realized %s", h.RealizedPnL)
	assert.True(t, h.Quantity.Equal(d("15")))
	assert.True(t, h.TotalCost.Equal(d("2250")), "total cost %s", h.TotalCost)
	assert.True(t, h.AvgCost().Equal(d("150")))
}

func TestAggregate_SellFeesReduceRealized(t *testing.T) {
	txs := []domain.Transaction{
		buy(1, 1, "2024-01-01", "10", "100", "0"),
		sell(2, 1, "2024-01-02", "4", "110", "3"),
	}

	h := Aggregate(txs).Get(1)
	require.NotNil(t, h)
	assert.True(t, h.RealizedPnL.Equal(d("37")))
	assert.True(t, h.TotalCost.Equal(d("600")))
}

func TestAggregate_OrdersByTradeDateThenID(t *testing.T) {
	// Out of input order: the sell on 01-03 must be applied after both buys.
	txs := []domain.Transaction{
		sell(3, 1, "2024-01-03", "5", "180", "0"),
		buy(2, 1, "2024-01-02", "10", "200", "0"),
		buy(1, 1, "2024-01-01", "10", "100", "0"),
	}

	h := Aggregate(txs).Get(1)
	require.NotNil(t, h)
	assert.True(t, h.RealizedPnL.Equal(d("150")))
	assert.False(t, h.Oversold)
}

func TestAggregate_SameDayUsesIDOrder(t *testing.T) {
	txs := []domain.Transaction{
		sell(2, 1, "2024-01-01", "5", "120", "0"),
		buy(1, 1, "2024-01-01", "5", "100", "0"),
	}

	h := Aggregate(txs).Get(1)
	require.NotNil(t, h)
	assert.False(t, h.Oversold)
	assert.True(t, h.RealizedPnL.Equal(d("100")))
}

func TestAggregate_SellWithoutHoldingIsIgnored(t *testing.T) {
	txs := []domain.Transaction{
		sell(1, 1, "2024-01-01", "5", "120", "0"),
	}

	book := Aggregate(txs)
	h := book.Get(1)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.IsZero())
	assert.True(t, h.RealizedPnL.IsZero())
	assert.True(t, h.Oversold)
	assert.Equal(t, []int64{1}, book.Oversold())
}

func TestAggregate_OversellIsNotClamped(t *testing.T) {
	txs := []domain.Transaction{
		buy(1, 1, "2024-01-01", "5", "100", "0"),
		sell(2, 1, "2024-01-02", "8", "100", "0"),
	}

	h := Aggregate(txs).Get(1)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("-3")))
	assert.True(t, h.Oversold)
	assert.True(t, h.AvgCost().IsZero())
}

func TestAggregate_FirstTradedOrder(t *testing.T) {
	txs := []domain.Transaction{
		buy(1, 7, "2024-01-01", "1", "10", "0"),
		buy(2, 3, "2024-01-02", "1", "10", "0"),
		buy(3, 7, "2024-01-03", "1", "10", "0"),
		buy(4, 5, "2024-01-04", "1", "10", "0"),
	}

	assert.Equal(t, []int64{7, 3, 5}, Aggregate(txs).SecurityIDs())
}

func TestBook_DustIsClosed(t *testing.T) {
	txs := []domain.Transaction{
		buy(1, 1, "2024-01-01", "1", "10", "0"),
		sell(2, 1, "2024-01-02", "0.99995", "10", "0"),
	}

	book := Aggregate(txs)
	assert.Empty(t, book.Open())
}
