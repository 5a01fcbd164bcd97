package transactions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/locks"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultPerPage is the transaction list page size
const DefaultPerPage = 20

var (
	// ErrInvalidTransaction wraps every input validation failure
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrTransactionNotFound is returned when the id does not exist for the user
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInsufficientQuantity is matched by *InsufficientQuantityError
	ErrInsufficientQuantity = errors.New("insufficient quantity")
)

// InsufficientQuantityError reports a mutation that would leave a position with a
// negative quantity. Its message is meant for the end user.
type InsufficientQuantityError struct {
	Symbol string
	// Held is the quantity held at the point of the rejected sell or deletion
	Held decimal.Decimal
	// Date is the first day the position would go negative
	Date time.Time
	// Deleting is set when the violation comes from a deletion
	Deleting bool
	// Later is set when the violation is a later SELL rather than the new one
	Later bool
}

func (e *InsufficientQuantityError) Error() string {
	switch {
	case e.Deleting:
		return fmt.Sprintf("deleting this transaction would leave %s oversold on %s",
			e.Symbol, domain.FormatDate(e.Date))
	case e.Later:
		return fmt.Sprintf("this sale would leave %s oversold on %s",
			e.Symbol, domain.FormatDate(e.Date))
	default:
		return fmt.Sprintf("you only hold %s shares of %s on %s",
			e.Held.StringFixed(4), e.Symbol, domain.FormatDate(e.Date))
	}
}

// Is makes errors.Is(err, ErrInsufficientQuantity) match
func (e *InsufficientQuantityError) Is(target error) bool {
	return target == ErrInsufficientQuantity
}

// SecurityResolver looks up or lazily creates securities by symbol
type SecurityResolver interface {
	GetBySymbol(ctx context.Context, symbol string) (*domain.Security, error)
	GetOrCreate(ctx context.Context, symbol, name string, currency domain.Currency) (*domain.Security, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Security, error)
}

// EventEmitter publishes domain events
type EventEmitter interface {
	Emit(module string, data events.EventData)
}

// CreateRequest is the input of Create
type CreateRequest struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name,omitempty"`
	Currency     string          `json:"currency,omitempty"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Fees         decimal.Decimal `json:"fees"`
	TradeDate    string          `json:"trade_date"`
	Notes        string          `json:"notes,omitempty"`
}

// Page is one page of a user's transaction list
type Page struct {
	Items   []domain.Transaction `json:"items"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
	Total   int                  `json:"total"`
	Pages   int                  `json:"pages"`
}

// Service validates and applies transaction mutations
type Service struct {
	repo       *Repository
	securities SecurityResolver
	emitter    EventEmitter
	userLocks  *locks.KeyedMutex
	log        zerolog.Logger
}

// NewService creates a new transaction service
func NewService(repo *Repository, securities SecurityResolver, emitter EventEmitter, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		securities: securities,
		emitter:    emitter,
		userLocks:  locks.NewKeyedMutex(),
		log:        log.With().Str("service", "transactions").Logger(),
	}
}

// Create validates req, records the transaction and emits TransactionAdded.
// A SELL is rejected when the position would be negative at its trade date or at
// any later point of the user's history.
func (s *Service) Create(ctx context.Context, userID int64, req CreateRequest) (*domain.Transaction, error) {
	tx, err := s.validate(userID, req)
	if err != nil {
		return nil, err
	}

	sec, err := s.resolveSecurity(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	tx.SecurityID = sec.ID

	// Serializes check-then-insert for this user
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	if tx.Side == domain.SideSell {
		existing, err := s.repo.ListForSecurity(ctx, userID, sec.ID)
		if err != nil {
			return nil, err
		}
		candidate := tx
		candidate.ID = math.MaxInt64 // sorts after every existing transaction of the same day
		if v := findOversell(append(existing, candidate), candidate.ID, false); v != nil {
			v.Symbol = sec.Symbol
			s.log.Info().
				Int64("user_id", userID).
				Str("symbol", sec.Symbol).
				Str("quantity", tx.Quantity.String()).
				Str("held", v.Held.String()).
				Msg("Sell rejected: insufficient quantity")
			return nil, v
		}
	}

	if err := s.repo.Create(ctx, &tx); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("user_id", userID).
		Int64("transaction_id", tx.ID).
		Str("symbol", sec.Symbol).
		Str("side", string(tx.Side)).
		Str("trade_date", domain.FormatDate(tx.TradeDate)).
		Msg("Transaction recorded")

	s.emit(events.TransactionAdded, tx)
	return &tx, nil
}

// resolveSecurity creates unknown securities for buys only. Nobody holds a
// security that does not exist yet, so a sell of one is rejected outright.
func (s *Service) resolveSecurity(ctx context.Context, tx domain.Transaction, req CreateRequest) (*domain.Security, error) {
	if tx.Side == domain.SideSell {
		sec, err := s.securities.GetBySymbol(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve security: %w", err)
		}
		if sec == nil {
			return nil, &InsufficientQuantityError{
				Symbol: domain.NormalizeSymbol(req.Symbol),
				Held:   decimal.Zero,
				Date:   tx.TradeDate,
			}
		}
		return sec, nil
	}

	sec, err := s.securities.GetOrCreate(ctx, req.Symbol, req.Name, domain.Currency(strings.ToUpper(req.Currency)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve security: %w", err)
	}
	return sec, nil
}

// Delete removes a user's transaction and emits TransactionDeleted. Deleting a BUY
// that a later SELL depends on is rejected.
func (s *Service) Delete(ctx context.Context, userID, txID int64) (*domain.Transaction, error) {
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	tx, err := s.repo.Get(ctx, userID, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}

	if tx.Side == domain.SideBuy {
		existing, err := s.repo.ListForSecurity(ctx, userID, tx.SecurityID)
		if err != nil {
			return nil, err
		}
		if v := findOversell(existing, tx.ID, true); v != nil {
			v.Symbol = s.symbolOf(ctx, tx.SecurityID)
			return nil, v
		}
	}

	deleted, err := s.repo.Delete(ctx, userID, txID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrTransactionNotFound
	}

	s.log.Info().
		Int64("user_id", userID).
		Int64("transaction_id", txID).
		Str("trade_date", domain.FormatDate(tx.TradeDate)).
		Msg("Transaction deleted")

	s.emit(events.TransactionDeleted, *tx)
	return tx, nil
}

// List returns one page of the user's transactions, newest first.
// page starts at 1; perPage <= 0 uses DefaultPerPage.
func (s *Service) List(ctx context.Context, userID int64, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	items, total, err := s.repo.Page(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Transaction{}
	}

	return &Page{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   (total + perPage - 1) / perPage,
	}, nil
}

// QuantityHeld returns BUY quantity minus SELL quantity for a user's security
func (s *Service) QuantityHeld(ctx context.Context, userID, securityID int64) (decimal.Decimal, error) {
	txs, err := s.repo.ListForSecurity(ctx, userID, securityID)
	if err != nil {
		return decimal.Zero, err
	}
	held := decimal.Zero
	for _, tx := range txs {
		held = held.Add(tx.SignedQuantity())
	}
	return held, nil
}

func (s *Service) validate(userID int64, req CreateRequest) (domain.Transaction, error) {
	invalid := func(format string, args ...interface{}) (domain.Transaction, error) {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrInvalidTransaction, fmt.Sprintf(format, args...))
	}

	if userID <= 0 {
		return invalid("user id must be positive")
	}
	if domain.NormalizeSymbol(req.Symbol) == "" {
		return invalid("symbol is required")
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return invalid("%v", err)
	}
	if !req.Quantity.IsPositive() {
		return invalid("quantity must be positive")
	}
	if !req.PricePerUnit.IsPositive() {
		return invalid("price_per_unit must be positive")
	}
	if req.Fees.IsNegative() {
		return invalid("fees must not be negative")
	}
	tradeDate, err := domain.ParseDate(req.TradeDate)
	if err != nil {
		return invalid("%v", err)
	}

	return domain.Transaction{
		UserID:       userID,
		Side:         side,
		Quantity:     req.Quantity,
		PricePerUnit: req.PricePerUnit,
		Fees:         req.Fees,
		TradeDate:    tradeDate,
		Notes:        strings.TrimSpace(req.Notes),
	}, nil
}

func (s *Service) symbolOf(ctx context.Context, securityID int64) string {
	secs, err := s.securities.GetByIDs(ctx, []int64{securityID})
	if err != nil {
		return fmt.Sprintf("security %d", securityID)
	}
	if sec, ok := secs[securityID]; ok {
		return sec.Symbol
	}
	return fmt.Sprintf("security %d", securityID)
}

func (s *Service) emit(eventType events.EventType, tx domain.Transaction) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit("transactions", &events.TransactionChangedData{
		Type:          eventType,
		UserID:        tx.UserID,
		TransactionID: tx.ID,
		SecurityID:    tx.SecurityID,
		TradeDate:     domain.FormatDate(tx.TradeDate),
	})
}

// findOversell walks one security's transactions in accounting order and reports
// the first point at or after the pivot transaction where the running quantity is
// negative. With removePivot the pivot is left out of the walk, which simulates
// its deletion.
func findOversell(txs []domain.Transaction, pivotID int64, removePivot bool) *InsufficientQuantityError {
	sorted := holdings.SortTransactions(txs)

	running := decimal.Zero
	reached := false
	for _, tx := range sorted {
		if tx.ID == pivotID {
			reached = true
			if removePivot {
				continue
			}
		}
		before := running
		running = running.Add(tx.SignedQuantity())
		if reached && running.IsNegative() {
			return &InsufficientQuantityError{
				Held:     before,
				Date:     tx.TradeDate,
				Deleting: removePivot,
				Later:    tx.ID != pivotID,
			}
		}
	}
	return nil
}
