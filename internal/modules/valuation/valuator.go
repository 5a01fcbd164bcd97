// Package valuation marks open holdings to market and builds the portfolio summary.
package valuation

import (
	"sort"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/market"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

var hundred = decimal.NewFromInt(100)

// Position is an open holding valued at the latest known close
type Position struct {
	Security         domain.Security `json:"security"`
	Quantity         decimal.Decimal `json:"quantity"`
	AvgCost          decimal.Decimal `json:"avg_cost"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	PriceDate        *time.Time      `json:"price_date,omitempty"`
	HasPrice         bool            `json:"has_price"`
	MarketValue      decimal.Decimal `json:"market_value"`
	Invested         decimal.Decimal `json:"invested"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	DailyChangePct   decimal.Decimal `json:"daily_change_pct"`
	WeightPct        decimal.Decimal `json:"weight_pct"`
}

// Valuate marks every open holding of book to market. Holdings whose security is
// unknown are skipped. A holding without any price is still returned with zero
// market value and zero P&L. The result is sorted by weight, largest first, with
// ties kept in first-traded order.
func Valuate(book *holdings.Book, securities map[int64]domain.Security, prices map[int64]market.LatestPrice) []Position {
	open := book.Open()
	positions := make([]Position, 0, len(open))
	total := decimal.Zero

	for _, h := range open {
		sec, ok := securities[h.SecurityID]
		if !ok {
			continue
		}

		p := Position{
			Security:         sec,
			Quantity:         h.Quantity,
			AvgCost:          h.AvgCost(),
			Invested:         h.TotalCost,
			RealizedPnL:      h.RealizedPnL,
			CurrentPrice:     decimal.Zero,
			MarketValue:      decimal.Zero,
			UnrealizedPnL:    decimal.Zero,
			UnrealizedPnLPct: decimal.Zero,
			DailyChangePct:   decimal.Zero,
			WeightPct:        decimal.Zero,
		}

		if lp, ok := prices[h.SecurityID]; ok && lp.Close.IsPositive() {
			date := lp.Date
			p.HasPrice = true
			p.PriceDate = &date
			p.CurrentPrice = lp.Close
			p.MarketValue = h.Quantity.Mul(lp.Close)
			p.UnrealizedPnL = lp.Close.Sub(p.AvgCost).Mul(h.Quantity)
			if p.AvgCost.IsPositive() {
				p.UnrealizedPnLPct = lp.Close.Div(p.AvgCost).Sub(decimal.NewFromInt(1)).Mul(hundred)
			}
			if lp.HasPrev && lp.PrevClose.IsPositive() {
				p.DailyChangePct = lp.Close.Sub(lp.PrevClose).Div(lp.PrevClose).Mul(hundred)
			}
		}

		total = total.Add(p.MarketValue)
		positions = append(positions, p)
	}

	if total.IsPositive() {
		for i := range positions {
			positions[i].WeightPct = positions[i].MarketValue.Div(total).Mul(hundred)
		}
	}

	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].WeightPct.GreaterThan(positions[j].WeightPct)
	})

	return positions
}

// WeightSum returns the sum of position weights. It is 100 (within rounding) when
// the portfolio has market value and 0 otherwise.
func WeightSum(positions []Position) float64 {
	weights := make([]float64, len(positions))
	for i, p := range positions {
		weights[i] = p.WeightPct.InexactFloat64()
	}
	return floats.Sum(weights)
}
