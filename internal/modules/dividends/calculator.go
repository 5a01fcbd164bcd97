// Package dividends computes dividend entitlement from historical share ownership.
package dividends

import (
	"sort"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/shopspring/decimal"
)

// Entitlement is the total dividend amount a user was entitled to, with the
// per-security breakdown
type Entitlement struct {
	Total      decimal.Decimal
	BySecurity map[int64]decimal.Decimal
}

// checkpoint is the cumulative quantity held right after a transaction
type checkpoint struct {
	date     time.Time
	quantity decimal.Decimal
}

// Calculate returns the dividends earned on every event, using the quantity held
// at the end of the event's date. Events before the first purchase, or for
// securities never traded, contribute nothing. Runs in O((T + D) log T).
func Calculate(txs []domain.Transaction, events []domain.DividendEvent) Entitlement {
	result := Entitlement{
		Total:      decimal.Zero,
		BySecurity: make(map[int64]decimal.Decimal),
	}

	checkpoints := buildCheckpoints(txs)

	for _, ev := range events {
		points, ok := checkpoints[ev.SecurityID]
		if !ok {
			continue
		}

		qty := quantityAt(points, ev.Date)
		if !qty.IsPositive() {
			continue
		}

		amount := qty.Mul(ev.AmountPerShare)
		result.Total = result.Total.Add(amount)
		result.BySecurity[ev.SecurityID] = result.BySecurity[ev.SecurityID].Add(amount)
	}

	return result
}

func buildCheckpoints(txs []domain.Transaction) map[int64][]checkpoint {
	sorted := holdings.SortTransactions(txs)

	running := make(map[int64]decimal.Decimal)
	points := make(map[int64][]checkpoint)
	for _, tx := range sorted {
		qty := running[tx.SecurityID].Add(tx.SignedQuantity())
		running[tx.SecurityID] = qty
		points[tx.SecurityID] = append(points[tx.SecurityID], checkpoint{date: tx.TradeDate, quantity: qty})
	}
	return points
}

// quantityAt returns the quantity of the last checkpoint dated on or before date
func quantityAt(points []checkpoint, date time.Time) decimal.Decimal {
	// first checkpoint strictly after date
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].date.After(date)
	})
	if idx == 0 {
		return decimal.Zero
	}
	return points[idx-1].quantity
}
