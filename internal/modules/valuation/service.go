package valuation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/dividends"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/market"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransactionSource reads a user's transaction log in accounting order
type TransactionSource interface {
	ListForUser(ctx context.Context, userID int64) ([]domain.Transaction, error)
	ListForSecurity(ctx context.Context, userID, securityID int64) ([]domain.Transaction, error)
}

// SecuritySource resolves securities
type SecuritySource interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Security, error)
	GetBySymbol(ctx context.Context, symbol string) (*domain.Security, error)
}

// PriceSource reads daily closes
type PriceSource interface {
	LatestTwo(ctx context.Context, securityIDs []int64) (map[int64]market.LatestPrice, error)
	History(ctx context.Context, securityID int64, from time.Time) ([]domain.DailyPrice, error)
}

// DividendSource reads dividend events
type DividendSource interface {
	ForSecurities(ctx context.Context, securityIDs []int64) ([]domain.DividendEvent, error)
}

// Summary is the portfolio-level view of a user
type Summary struct {
	TotalValue            decimal.Decimal `json:"total_value"`
	TotalInvested         decimal.Decimal `json:"total_invested"`
	TotalUnrealizedPnL    decimal.Decimal `json:"total_unrealized_pnl"`
	TotalUnrealizedPnLPct decimal.Decimal `json:"total_unrealized_pnl_pct"`
	TotalRealizedPnL      decimal.Decimal `json:"total_realized_pnl"`
	TotalDividends        decimal.Decimal `json:"total_dividends"`
	TotalReturn           decimal.Decimal `json:"total_return"`
	NumPositions          int             `json:"num_positions"`
	Positions             []Position      `json:"positions"`

	// DividendsBySecurity maps security id to the dividends earned on it
	DividendsBySecurity map[int64]decimal.Decimal `json:"dividends_by_security"`
}

// PositionDetail is one security as seen by a user: the valued position (nil when
// the position is closed), the user's trades in it, its price history and the
// dividends it paid the user
type PositionDetail struct {
	Security        domain.Security        `json:"security"`
	Position        *Position              `json:"position,omitempty"`
	Transactions    []domain.Transaction   `json:"transactions"`
	Prices          []domain.DailyPrice    `json:"prices"`
	Dividends       []domain.DividendEvent `json:"dividends"`
	DividendsEarned decimal.Decimal        `json:"dividends_earned"`
}

// Service computes positions and summaries on demand. Nothing is cached.
type Service struct {
	transactions TransactionSource
	securities   SecuritySource
	prices       PriceSource
	dividends    DividendSource
	log          zerolog.Logger
}

// NewService creates a new valuation service
func NewService(
	transactions TransactionSource,
	securities SecuritySource,
	prices PriceSource,
	dividendSource DividendSource,
	log zerolog.Logger,
) *Service {
	return &Service{
		transactions: transactions,
		securities:   securities,
		prices:       prices,
		dividends:    dividendSource,
		log:          log.With().Str("service", "valuation").Logger(),
	}
}

// GetPositions returns the user's open positions valued at the latest close
func (s *Service) GetPositions(ctx context.Context, userID int64) ([]Position, error) {
	book, err := s.loadBook(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.positions(ctx, userID, book)
}

// GetPortfolioSummary returns totals over the user's portfolio. Holdings are
// computed once and shared between positions, realized P&L and dividends.
func (s *Service) GetPortfolioSummary(ctx context.Context, userID int64) (*Summary, error) {
	txs, err := s.transactions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	book := holdings.Aggregate(txs)
	s.logOversold(userID, book)

	positions, err := s.positions(ctx, userID, book)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalValue:            decimal.Zero,
		TotalInvested:         decimal.Zero,
		TotalUnrealizedPnL:    decimal.Zero,
		TotalUnrealizedPnLPct: decimal.Zero,
		TotalRealizedPnL:      book.TotalRealizedPnL(),
		NumPositions:          len(positions),
		Positions:             positions,
	}
	for _, p := range positions {
		summary.TotalValue = summary.TotalValue.Add(p.MarketValue)
		summary.TotalInvested = summary.TotalInvested.Add(p.Invested)
		summary.TotalUnrealizedPnL = summary.TotalUnrealizedPnL.Add(p.UnrealizedPnL)
	}
	if summary.TotalInvested.IsPositive() {
		summary.TotalUnrealizedPnLPct = summary.TotalValue.Div(summary.TotalInvested).
			Sub(decimal.NewFromInt(1)).Mul(hundred)
	}

	// Dividends cover every security ever traded, closed positions included
	events, err := s.dividends.ForSecurities(ctx, book.SecurityIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to load dividends: %w", err)
	}
	entitlement := dividends.Calculate(txs, events)
	summary.TotalDividends = entitlement.Total
	summary.DividendsBySecurity = entitlement.BySecurity

	summary.TotalReturn = summary.TotalUnrealizedPnL.
		Add(summary.TotalRealizedPnL).
		Add(summary.TotalDividends)

	return summary, nil
}

// GetPositionDetail returns the user's view of one security. It returns nil when
// the symbol is unknown or the user never traded it.
func (s *Service) GetPositionDetail(ctx context.Context, userID int64, symbol string) (*PositionDetail, error) {
	sec, err := s.securities.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, nil
	}

	txs, err := s.transactions.ListForSecurity(ctx, userID, sec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil, nil
	}

	book := holdings.Aggregate(txs)
	latest, err := s.prices.LatestTwo(ctx, []int64{sec.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to load latest prices: %w", err)
	}

	detail := &PositionDetail{
		Security:     *sec,
		Transactions: txs,
	}
	if positions := Valuate(book, map[int64]domain.Security{sec.ID: *sec}, latest); len(positions) == 1 {
		detail.Position = &positions[0]
	}

	if detail.Prices, err = s.prices.History(ctx, sec.ID, time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}
	if detail.Dividends, err = s.dividends.ForSecurities(ctx, []int64{sec.ID}); err != nil {
		return nil, fmt.Errorf("failed to load dividends: %w", err)
	}
	detail.DividendsEarned = dividends.Calculate(txs, detail.Dividends).Total

	return detail, nil
}

func (s *Service) loadBook(ctx context.Context, userID int64) (*holdings.Book, error) {
	txs, err := s.transactions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	book := holdings.Aggregate(txs)
	s.logOversold(userID, book)
	return book, nil
}

func (s *Service) positions(ctx context.Context, userID int64, book *holdings.Book) ([]Position, error) {
	open := book.Open()
	if len(open) == 0 {
		return []Position{}, nil
	}

	ids := make([]int64, len(open))
	for i, h := range open {
		ids[i] = h.SecurityID
	}

	securities, err := s.securities.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load securities: %w", err)
	}
	prices, err := s.prices.LatestTwo(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest prices: %w", err)
	}

	positions := Valuate(book, securities, prices)

	for _, p := range positions {
		if !p.HasPrice {
			s.log.Debug().
				Int64("user_id", userID).
				Str("symbol", p.Security.Symbol).
				Msg("No price history, position valued at zero")
		}
	}
	if sum := WeightSum(positions); sum != 0 && math.Abs(sum-100) > 1e-6 {
		s.log.Warn().Int64("user_id", userID).Float64("weight_sum", sum).Msg("Position weights do not sum to 100")
	}

	return positions, nil
}

func (s *Service) logOversold(userID int64, book *holdings.Book) {
	if ids := book.Oversold(); len(ids) > 0 {
		s.log.Warn().
			Int64("user_id", userID).
			Ints64("security_ids", ids).
			Msg("Transaction history contains sells exceeding the quantity held")
	}
}
