package snapshots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LookbackDays is how far before the first built day closes are loaded, so a
// range starting on a weekend or holiday still opens with a price
const LookbackDays = 7

var hundred = decimal.NewFromInt(100)

// TransactionSource reads a user's transaction log
type TransactionSource interface {
	ListForUser(ctx context.Context, userID int64) ([]domain.Transaction, error)
}

// PriceSource reads daily closes for the build window
type PriceSource interface {
	Range(ctx context.Context, securityIDs []int64, from, to time.Time) ([]domain.DailyPrice, error)
	LatestBefore(ctx context.Context, securityIDs []int64, date time.Time) (map[int64]domain.DailyPrice, error)
}

// Store persists built snapshots
type Store interface {
	Upsert(ctx context.Context, snapshots []domain.PortfolioSnapshot) error
}

// Builder computes and persists one snapshot per calendar day
type Builder struct {
	transactions TransactionSource
	prices       PriceSource
	store        Store
	log          zerolog.Logger
}

// NewBuilder creates a snapshot builder
func NewBuilder(transactions TransactionSource, prices PriceSource, store Store, log zerolog.Logger) *Builder {
	return &Builder{
		transactions: transactions,
		prices:       prices,
		store:        store,
		log:          log.With().Str("component", "snapshot_builder").Logger(),
	}
}

// Build computes the snapshots of every calendar day in [from, to] and upserts
// them in a single transaction. It returns the number of days written, 0 when the
// user has no transactions or from is after to.
func (b *Builder) Build(ctx context.Context, userID int64, from, to time.Time) (int, error) {
	from, to = domain.DateOf(from), domain.DateOf(to)
	if from.After(to) {
		return 0, nil
	}

	txs, err := b.transactions.ListForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	ids := securityIDs(txs)
	lookback := from.AddDate(0, 0, -LookbackDays)

	seed, err := b.prices.LatestBefore(ctx, ids, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to load seed prices: %w", err)
	}
	prices, err := b.prices.Range(ctx, ids, lookback, to)
	if err != nil {
		return 0, fmt.Errorf("failed to load prices: %w", err)
	}

	snapshots := Compute(userID, txs, seed, prices, from, to)
	if err := b.store.Upsert(ctx, snapshots); err != nil {
		return 0, err
	}

	b.log.Debug().
		Int64("user_id", userID).
		Str("from", domain.FormatDate(from)).
		Str("to", domain.FormatDate(to)).
		Int("days", len(snapshots)).
		Int("price_rows", len(prices)).
		Msg("Snapshots built")

	return len(snapshots), nil
}

// Compute produces one snapshot per calendar day in [from, to].
//
// Prices are carried forward: the value of a security on a day without a close is
// its last known close, starting from seed. A security never priced contributes
// zero value while its cost still counts as invested. Transactions dated on or
// before a day are in effect for that day.
func Compute(userID int64, txs []domain.Transaction, seed map[int64]domain.DailyPrice, prices []domain.DailyPrice, from, to time.Time) []domain.PortfolioSnapshot {
	from, to = domain.DateOf(from), domain.DateOf(to)
	if from.After(to) {
		return nil
	}

	sortedTxs := holdings.SortTransactions(txs)
	sortedPrices := make([]domain.DailyPrice, len(prices))
	copy(sortedPrices, prices)
	sort.SliceStable(sortedPrices, func(i, j int) bool {
		return sortedPrices[i].Date.Before(sortedPrices[j].Date)
	})

	last := make(map[int64]decimal.Decimal, len(seed))
	for id, p := range seed {
		last[id] = p.Close
	}

	book := holdings.NewBook()
	out := make([]domain.PortfolioSnapshot, 0, domain.DaysBetween(from, to)+1)
	ti, pi := 0, 0

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for ; pi < len(sortedPrices) && !sortedPrices[pi].Date.After(day); pi++ {
			last[sortedPrices[pi].SecurityID] = sortedPrices[pi].Close
		}
		for ; ti < len(sortedTxs) && !sortedTxs[ti].TradeDate.After(day); ti++ {
			book.Apply(sortedTxs[ti])
		}

		value, invested := decimal.Zero, decimal.Zero
		for _, h := range book.Open() {
			if price, ok := last[h.SecurityID]; ok {
				value = value.Add(h.Quantity.Mul(price))
			}
			invested = invested.Add(h.TotalCost)
		}

		pnlPct := decimal.Zero
		if invested.IsPositive() {
			pnlPct = value.Div(invested).Sub(decimal.NewFromInt(1)).Mul(hundred)
		}

		out = append(out, domain.PortfolioSnapshot{
			UserID:        userID,
			Date:          day,
			TotalValue:    value,
			TotalInvested: invested,
			TotalPnL:      value.Sub(invested),
			TotalPnLPct:   pnlPct,
		})
	}

	return out
}

func securityIDs(txs []domain.Transaction) []int64 {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, tx := range txs {
		if _, ok := seen[tx.SecurityID]; ok {
			continue
		}
		seen[tx.SecurityID] = struct{}{}
		ids = append(ids, tx.SecurityID)
	}
	return ids
}
