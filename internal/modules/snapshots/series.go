package snapshots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// DefaultPeriod is used for an unknown period
const DefaultPeriod = "1Y"

// periodDays maps a period to its window length in days. 0 means all history.
var periodDays = map[string]int{
	"1M":  30,
	"3M":  90,
	"6M":  180,
	"1Y":  365,
	"MAX": 0,
}

// NormalizePeriod upper-cases period and falls back to DefaultPeriod when unknown
func NormalizePeriod(period string) string {
	p := strings.ToUpper(strings.TrimSpace(period))
	if _, ok := periodDays[p]; !ok {
		return DefaultPeriod
	}
	return p
}

// Point is one day of the series, rounded to cents
type Point struct {
	Date     string  `json:"date" msgpack:"date"`
	Value    float64 `json:"value" msgpack:"value"`
	Invested float64 `json:"invested" msgpack:"invested"`
	PnL      float64 `json:"pnl" msgpack:"pnl"`
	PnLPct   float64 `json:"pnl_pct" msgpack:"pnl_pct"`
}

// Series is the value history of a portfolio over a period
type Series struct {
	Period string  `json:"period" msgpack:"period"`
	Points []Point `json:"points" msgpack:"points"`
	High   float64 `json:"high" msgpack:"high"`
	Low    float64 `json:"low" msgpack:"low"`
}

// GetSnapshotSeries returns the user's snapshots for period, oldest first.
// Results are cached until the next build for the user or the end of the day,
// whichever comes first.
func (s *Service) GetSnapshotSeries(ctx context.Context, userID int64, period string) (*Series, error) {
	period = NormalizePeriod(period)
	today := s.clock.Today()
	key := seriesKey(userID, today, period)

	if s.cache != nil {
		var cached Series
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Series cache read failed")
		} else if ok {
			return &cached, nil
		}
	}

	var from time.Time
	if days := periodDays[period]; days > 0 {
		from = today.AddDate(0, 0, -days)
	}

	rows, err := s.repo.Range(ctx, userID, from, today)
	if err != nil {
		return nil, err
	}

	series := RenderSeries(period, rows)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, series); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Series cache write failed")
		}
	}

	return series, nil
}

// RenderSeries converts snapshots into a rounded series with the window's high
// and low value
func RenderSeries(period string, snapshots []domain.PortfolioSnapshot) *Series {
	series := &Series{
		Period: period,
		Points: make([]Point, len(snapshots)),
	}
	if len(snapshots) == 0 {
		return series
	}

	values := make([]float64, len(snapshots))
	for i, snap := range snapshots {
		series.Points[i] = Point{
			Date:     domain.FormatDate(snap.Date),
			Value:    cents(snap.TotalValue),
			Invested: cents(snap.TotalInvested),
			PnL:      cents(snap.TotalPnL),
			PnLPct:   cents(snap.TotalPnLPct),
		}
		values[i] = series.Points[i].Value
	}

	series.High = floats.Max(values)
	series.Low = floats.Min(values)
	return series
}

func cents(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func seriesPrefix(userID int64) string {
	return fmt.Sprintf("series:%d:", userID)
}

// seriesKey includes the day the window ends on, so a new day starts a new window
func seriesKey(userID int64, today time.Time, period string) string {
	return seriesPrefix(userID) + domain.FormatDate(today) + ":" + period
}
