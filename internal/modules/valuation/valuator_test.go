package valuation

import (
	"context"
	"testing"

	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/market"
	"github.com/aristath/folio/internal/modules/transactions"
	testutil "github.com/aristath/folio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func buy(id, security int64, date, qty, price string) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		SecurityID:   security,
		Side:         domain.SideBuy,
		TradeDate:    domain.MustParseDate(date),
		Quantity:     d(qty),
		PricePerUnit: d(price),
	}
}

func securities(ids ...int64) map[int64]domain.Security {
	out := make(map[int64]domain.Security)
	for _, id := range ids {
		out[id] = domain.Security{ID: id, Symbol: string(rune('A' + id))}
	}
	return out
}

func TestValuate_WeightNormalisation(t *testing.T) {
	book := holdings.Aggregate([]domain.Transaction{
		buy(1, 1, "2024-01-01", "3", "10"),
		buy(2, 2, "2024-01-01", "7", "10"),
		buy(3, 3, "2024-01-01", "1", "10"),
	})
	prices := map[int64]market.LatestPrice{
		1: {Close: d("13.37"), Date: domain.NewDate(2024, 2, 1)},
		2: {Close: d("9.99"), Date: domain.NewDate(2024, 2, 1)},
		3: {Close: d("101.01"), Date: domain.NewDate(2024, 2, 1)},
	}

	positions := Valuate(book, securities(1, 2, 3), prices)
	require.Len(t, positions, 3)
	assert.InDelta(t, 100.0, WeightSum(positions), 1e-9)

	for i := 1; i < len(positions); i++ {
		assert.True(t, positions[i-1].WeightPct.GreaterThanOrEqual(positions[i].WeightPct), "sorted by weight descending")
	}
	assert.Equal(t, int64(3), positions[0].Security.ID)
}

func TestValuate_ZeroTotalGivesZeroWeights(t *testing.T) {
	book := holdings.Aggregate([]domain.Transaction{
		buy(1, 1, "2024-01-01", "3", "10"),
		buy(2, 2, "2024-01-01", "7", "10"),
	})

	positions := Valuate(book, securities(1, 2), nil)
	require.Len(t, positions, 2)
	for _, p := range positions {
		assert.True(t, p.WeightPct.IsZero())
		assert.False(t, p.HasPrice)
		assert.True(t, p.MarketValue.IsZero())
		assert.True(t, p.UnrealizedPnL.IsZero())
		assert.Nil(t, p.PriceDate)
	}
	assert.Equal(t, 0.0, WeightSum(positions))
	// ties keep first-traded order
	assert.Equal(t, int64(1), positions[0].Security.ID)
}

func TestValuate_PositionFields(t *testing.T) {
	book := holdings.Aggregate([]domain.Transaction{
		buy(1, 1, "2024-01-01", "10", "100"),
		buy(2, 1, "2024-01-02", "10", "200"),
		{ID: 3, SecurityID: 1, Side: domain.SideSell, TradeDate: domain.NewDate(2024, 1, 3), Quantity: d("5"), PricePerUnit: d("180")},
	})
	prices := map[int64]market.LatestPrice{
		1: {Close: d("165"), PrevClose: d("150"), HasPrev: true, Date: domain.NewDate(2024, 1, 4)},
	}

	positions := Valuate(book, securities(1), prices)
	require.Len(t, positions, 1)
	p := positions[0]

	assert.Equal(t, "15", p.Quantity.String())
	assert.Equal(t, "150", p.AvgCost.String())
	assert.Equal(t, "2250", p.Invested.String())
	assert.Equal(t, "2475", p.MarketValue.String())
	assert.Equal(t, "225", p.UnrealizedPnL.String())
	assert.Equal(t, "10", p.UnrealizedPnLPct.String())
	assert.Equal(t, "10", p.DailyChangePct.String())
	assert.Equal(t, "150", p.RealizedPnL.String())
	assert.Equal(t, "100", p.WeightPct.String())
	require.NotNil(t, p.PriceDate)
	assert.Equal(t, domain.NewDate(2024, 1, 4), *p.PriceDate)
}

func TestValuate_SinglePriceHasNoDailyChange(t *testing.T) {
	book := holdings.Aggregate([]domain.Transaction{buy(1, 1, "2024-01-01", "1", "10")})
	prices := map[int64]market.LatestPrice{1: {Close: d("12"), Date: domain.NewDate(2024, 1, 2)}}

	positions := Valuate(book, securities(1), prices)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].DailyChangePct.IsZero())
}

func TestValuate_SkipsClosedAndUnknown(t *testing.T) {
	book := holdings.Aggregate([]domain.Transaction{
		buy(1, 1, "2024-01-01", "1", "10"),
		{ID: 2, SecurityID: 1, Side: domain.SideSell, TradeDate: domain.NewDate(2024, 1, 2), Quantity: d("1"), PricePerUnit: d("12")},
		buy(3, 2, "2024-01-01", "1", "10"),
		buy(4, 3, "2024-01-01", "1", "10"),
	})

	positions := Valuate(book, securities(1, 2), nil)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(2), positions[0].Security.ID)
}

func TestService_GetPortfolioSummary(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	db := testutil.NewMemoryDB(t, database.NameFolio)
	ctx := context.Background()

	aapl := testutil.InsertSecurity(t, db, "AAPL")
	closed := testutil.InsertSecurity(t, db, "OLD")

	testutil.InsertTransaction(t, db, 1, aapl, domain.SideBuy, "2024-01-02", "10", "100", "0")
	testutil.InsertTransaction(t, db, 1, closed, domain.SideBuy, "2024-01-02", "10", "100", "0")
	testutil.InsertTransaction(t, db, 1, closed, domain.SideSell, "2024-02-01", "10", "120", "0")
	testutil.InsertTransaction(t, db, 2, aapl, domain.SideBuy, "2024-01-02", "999", "1", "0")

	testutil.InsertPrice(t, db, aapl, "2024-03-01", "110")
	testutil.InsertPrice(t, db, aapl, "2024-03-04", "120")
	testutil.InsertDividend(t, db, aapl, "2024-01-01", "5") // before purchase
	testutil.InsertDividend(t, db, aapl, "2024-02-15", "1")
	testutil.InsertDividend(t, db, closed, "2024-01-20", "0.5")

	svc := NewService(
		transactions.NewRepository(db, log),
		market.NewSecurityRepository(db, log),
		market.NewPriceRepository(db, log),
		market.NewDividendRepository(db, log),
		log,
	)

	summary, err := svc.GetPortfolioSummary(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NumPositions)
	assert.Equal(t, "1200", summary.TotalValue.String())
	assert.Equal(t, "1000", summary.TotalInvested.String())
	assert.Equal(t, "200", summary.TotalUnrealizedPnL.String())
	assert.Equal(t, "20", summary.TotalUnrealizedPnLPct.String())
	assert.Equal(t, "200", summary.TotalRealizedPnL.String(), "closed positions count")
	assert.Equal(t, "15", summary.TotalDividends.String())
	assert.Equal(t, "415", summary.TotalReturn.String())
	assert.Equal(t, "5", summary.DividendsBySecurity[closed].String())

	detail, err := svc.GetPositionDetail(ctx, 1, "aapl")
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.NotNil(t, detail.Position)
	assert.Len(t, detail.Prices, 2)
	assert.Len(t, detail.Transactions, 1)
	assert.Equal(t, "10", detail.DividendsEarned.String())

	detail, err = svc.GetPositionDetail(ctx, 1, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestService_EmptyPortfolio(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	db := testutil.NewMemoryDB(t, database.NameFolio)

	svc := NewService(
		transactions.NewRepository(db, log),
		market.NewSecurityRepository(db, log),
		market.NewPriceRepository(db, log),
		market.NewDividendRepository(db, log),
		log,
	)

	positions, err := svc.GetPositions(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, positions)

	summary, err := svc.GetPortfolioSummary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NumPositions)
	assert.True(t, summary.TotalReturn.IsZero())
}
