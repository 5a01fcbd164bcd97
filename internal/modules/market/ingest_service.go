package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput wraps validation failures of ingested rows
var ErrInvalidInput = errors.New("invalid market data")

// EventEmitter publishes domain events
type EventEmitter interface {
	Emit(module string, data events.EventData)
}

// PriceInput is one daily bar submitted by the market data fetcher
type PriceInput struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// DividendInput is one dividend event submitted by the market data fetcher
type DividendInput struct {
	Symbol         string          `json:"symbol"`
	Date           string          `json:"date"`
	AmountPerShare decimal.Decimal `json:"amount_per_share"`
}

// IngestResult summarizes an ingestion batch
type IngestResult struct {
	Rows         int     `json:"rows"`
	SecurityIDs  []int64 `json:"security_ids"`
	EarliestDate string  `json:"earliest_date,omitempty"`
}

// IngestService accepts market data from the external fetcher and announces it so
// affected portfolios get recomputed
type IngestService struct {
	securities *SecurityRepository
	prices     *PriceRepository
	dividends  *DividendRepository
	emitter    EventEmitter
	log        zerolog.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	securities *SecurityRepository,
	prices *PriceRepository,
	dividends *DividendRepository,
	emitter EventEmitter,
	log zerolog.Logger,
) *IngestService {
	return &IngestService{
		securities: securities,
		prices:     prices,
		dividends:  dividends,
		emitter:    emitter,
		log:        log.With().Str("service", "market_ingest").Logger(),
	}
}

// IngestPrices validates and upserts daily bars, creating unknown securities, then
// emits PricesIngested. Open/high/low default to the close when omitted.
func (s *IngestService) IngestPrices(ctx context.Context, inputs []PriceInput) (*IngestResult, error) {
	if len(inputs) == 0 {
		return &IngestResult{}, nil
	}

	resolver := s.newResolver()
	rows := make([]domain.DailyPrice, 0, len(inputs))
	var earliest time.Time

	for i, in := range inputs {
		date, err := domain.ParseDate(in.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: price %d: %v", ErrInvalidInput, i, err)
		}
		if !in.Close.IsPositive() {
			return nil, fmt.Errorf("%w: price %d: close must be positive", ErrInvalidInput, i)
		}
		securityID, err := resolver.resolve(ctx, in.Symbol)
		if err != nil {
			return nil, fmt.Errorf("price %d: %w", i, err)
		}

		rows = append(rows, domain.DailyPrice{
			SecurityID: securityID,
			Date:       date,
			Open:       orClose(in.Open, in.Close),
			High:       orClose(in.High, in.Close),
			Low:        orClose(in.Low, in.Close),
			Close:      in.Close,
			Volume:     in.Volume,
		})
		if earliest.IsZero() || date.Before(earliest) {
			earliest = date
		}
	}

	if err := s.prices.Upsert(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to store prices: %w", err)
	}

	result := &IngestResult{
		Rows:         len(rows),
		SecurityIDs:  resolver.ids(),
		EarliestDate: domain.FormatDate(earliest),
	}

	s.log.Info().
		Int("rows", result.Rows).
		Int("securities", len(result.SecurityIDs)).
		Str("earliest_date", result.EarliestDate).
		Msg("Prices ingested")

	if s.emitter != nil {
		s.emitter.Emit("market", &events.PricesIngestedData{
			SecurityIDs:  result.SecurityIDs,
			EarliestDate: result.EarliestDate,
			Rows:         result.Rows,
		})
	}

	return result, nil
}

// IngestDividends validates and upserts dividend events, then emits DividendsIngested
func (s *IngestService) IngestDividends(ctx context.Context, inputs []DividendInput) (*IngestResult, error) {
	if len(inputs) == 0 {
		return &IngestResult{}, nil
	}

	resolver := s.newResolver()
	rows := make([]domain.DividendEvent, 0, len(inputs))

	for i, in := range inputs {
		date, err := domain.ParseDate(in.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: dividend %d: %v", ErrInvalidInput, i, err)
		}
		if !in.AmountPerShare.IsPositive() {
			return nil, fmt.Errorf("%w: dividend %d: amount_per_share must be positive", ErrInvalidInput, i)
		}
		securityID, err := resolver.resolve(ctx, in.Symbol)
		if err != nil {
			return nil, fmt.Errorf("dividend %d: %w", i, err)
		}
		rows = append(rows, domain.DividendEvent{
			SecurityID:     securityID,
			Date:           date,
			AmountPerShare: in.AmountPerShare,
		})
	}

	if err := s.dividends.Upsert(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to store dividends: %w", err)
	}

	result := &IngestResult{Rows: len(rows), SecurityIDs: resolver.ids()}
	s.log.Info().Int("rows", result.Rows).Msg("Dividends ingested")

	if s.emitter != nil {
		s.emitter.Emit("market", &events.DividendsIngestedData{
			SecurityIDs: result.SecurityIDs,
			Rows:        result.Rows,
		})
	}

	return result, nil
}

// symbolResolver memoizes symbol -> security id within one batch
type symbolResolver struct {
	repo *SecurityRepository
	seen map[string]int64
}

func (s *IngestService) newResolver() *symbolResolver {
	return &symbolResolver{repo: s.securities, seen: make(map[string]int64)}
}

func (r *symbolResolver) resolve(ctx context.Context, symbol string) (int64, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	if id, ok := r.seen[symbol]; ok {
		return id, nil
	}
	sec, err := r.repo.GetOrCreate(ctx, symbol, "", "")
	if err != nil {
		return 0, err
	}
	r.seen[symbol] = sec.ID
	return sec.ID, nil
}

func (r *symbolResolver) ids() []int64 {
	ids := make([]int64, 0, len(r.seen))
	for _, id := range r.seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func orClose(v, closePrice decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return closePrice
	}
	return v
}
