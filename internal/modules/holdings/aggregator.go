// Package holdings folds a user's transaction log into per-security running state
// using weighted-average cost accounting.
//
// Holdings are never persisted. Weighted-average cost basis depends on the order of
// every transaction, so it is recomputed from the first transaction on every call.
package holdings

import (
	"sort"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
)

// OpenEpsilon is the quantity below which a position is treated as closed.
var OpenEpsilon = decimal.New(1, -4)

// Holding is the running aggregate for one security.
type Holding struct {
	SecurityID  int64
	Quantity    decimal.Decimal
	TotalCost   decimal.Decimal
	RealizedPnL decimal.Decimal
	// Oversold is set when a sell exceeded the quantity held at the time.
	// The fold does not clamp; the transaction boundary is expected to reject these.
	Oversold bool
}

// AvgCost returns total cost divided by quantity, or zero when nothing is held
func (h *Holding) AvgCost() decimal.Decimal {
	if !h.Quantity.IsPositive() {
		return decimal.Zero
	}
	return h.TotalCost.Div(h.Quantity)
}

// IsOpen reports whether the holding has more than dust left
func (h *Holding) IsOpen() bool {
	return h.Quantity.GreaterThan(OpenEpsilon)
}

// Book holds the holdings of every security ever traded, in first-traded order.
type Book struct {
	holdings []*Holding
	index    map[int64]*Holding
}

// NewBook creates an empty book
func NewBook() *Book {
	return &Book{index: make(map[int64]*Holding)}
}

// Aggregate folds transactions into a new book. The input is sorted by
// (TradeDate, ID) first, so callers may pass transactions in any order.
func Aggregate(txs []domain.Transaction) *Book {
	sorted := SortTransactions(txs)

	b := NewBook()
	for _, tx := range sorted {
		b.Apply(tx)
	}
	return b
}

// Apply folds a single transaction into the book.
func (b *Book) Apply(tx domain.Transaction) {
	h := b.holding(tx.SecurityID)

	switch tx.Side {
	case domain.SideBuy:
		h.TotalCost = h.TotalCost.Add(tx.Quantity.Mul(tx.PricePerUnit)).Add(tx.Fees)
		h.Quantity = h.Quantity.Add(tx.Quantity)

	case domain.SideSell:
		if !h.Quantity.IsPositive() {
			h.Oversold = true
			return
		}
		if tx.Quantity.GreaterThan(h.Quantity) {
			h.Oversold = true
		}
		avg := h.TotalCost.Div(h.Quantity)
		h.RealizedPnL = h.RealizedPnL.Add(tx.PricePerUnit.Sub(avg).Mul(tx.Quantity)).Sub(tx.Fees)
		h.TotalCost = h.TotalCost.Sub(avg.Mul(tx.Quantity))
		h.Quantity = h.Quantity.Sub(tx.Quantity)
	}
}

func (b *Book) holding(securityID int64) *Holding {
	if h, ok := b.index[securityID]; ok {
		return h
	}
	h := &Holding{SecurityID: securityID}
	b.index[securityID] = h
	b.holdings = append(b.holdings, h)
	return h
}

// Get returns the holding for a security, or nil if it was never traded
func (b *Book) Get(securityID int64) *Holding {
	return b.index[securityID]
}

// All returns every holding, closed ones included, in first-traded order
func (b *Book) All() []*Holding {
	out := make([]*Holding, len(b.holdings))
	copy(out, b.holdings)
	return out
}

// Open returns holdings with quantity above OpenEpsilon, in first-traded order
func (b *Book) Open() []*Holding {
	out := make([]*Holding, 0, len(b.holdings))
	for _, h := range b.holdings {
		if h.IsOpen() {
			out = append(out, h)
		}
	}
	return out
}

// SecurityIDs returns the ids of every security ever traded, in first-traded order
func (b *Book) SecurityIDs() []int64 {
	ids := make([]int64, len(b.holdings))
	for i, h := range b.holdings {
		ids[i] = h.SecurityID
	}
	return ids
}

// TotalRealizedPnL sums realized P&L across open and closed holdings
func (b *Book) TotalRealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, h := range b.holdings {
		total = total.Add(h.RealizedPnL)
	}
	return total
}

// Oversold returns the ids of securities whose history contains an oversell
func (b *Book) Oversold() []int64 {
	var ids []int64
	for _, h := range b.holdings {
		if h.Oversold {
			ids = append(ids, h.SecurityID)
		}
	}
	return ids
}

// SortTransactions returns a copy of txs ordered by (TradeDate, ID)
func SortTransactions(txs []domain.Transaction) []domain.Transaction {
	sorted := make([]domain.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TradeDate.Equal(sorted[j].TradeDate) {
			return sorted[i].TradeDate.Before(sorted[j].TradeDate)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
