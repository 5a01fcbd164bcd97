package work

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/rs/zerolog"
)

// EventBusInterface defines the event bus interface for triggers
type EventBusInterface interface {
	Subscribe(eventType events.EventType, handler events.Handler)
}

// EnqueuerInterface schedules work
type EnqueuerInterface interface {
	Enqueue(typeID, subject string, from time.Time) error
}

// TraderLookupInterface finds the users holding a position history in securities
type TraderLookupInterface interface {
	UsersTrading(ctx context.Context, securityIDs []int64) ([]int64, error)
}

// TriggerDeps contains all dependencies for triggers
type TriggerDeps struct {
	EventBus  EventBusInterface
	Processor EnqueuerInterface
	Traders   TraderLookupInterface
	Log       zerolog.Logger
}

// RegisterTriggers registers event handlers that enqueue snapshot work.
// Handlers only enqueue; they run on the emitter's goroutine.
func RegisterTriggers(deps *TriggerDeps) {
	log := deps.Log.With().Str("component", "work_triggers").Logger()

	onTransaction := func(event events.Event) {
		data, ok := event.Data.(*events.TransactionChangedData)
		if !ok {
			return
		}
		from, err := domain.ParseDate(data.TradeDate)
		if err != nil {
			log.Warn().Err(err).Str("event", string(event.Type)).Msg("Transaction event without a valid trade date")
			from = time.Time{}
		}
		enqueue(log, deps.Processor, TypeSnapshotRecompute, data.UserID, from)
	}

	// TransactionAdded / TransactionDeleted -> recompute from the trade date
	deps.EventBus.Subscribe(events.TransactionAdded, onTransaction)
	deps.EventBus.Subscribe(events.TransactionDeleted, onTransaction)

	// PricesIngested -> recompute every user who traded the securities, from the
	// earliest new close
	deps.EventBus.Subscribe(events.PricesIngested, func(event events.Event) {
		data, ok := event.Data.(*events.PricesIngestedData)
		if !ok || len(data.SecurityIDs) == 0 {
			return
		}
		from, err := domain.ParseDate(data.EarliestDate)
		if err != nil {
			from = time.Time{}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		users, err := deps.Traders.UsersTrading(ctx, data.SecurityIDs)
		if err != nil {
			log.Error().Err(err).Msg("Failed to find users affected by new prices")
			return
		}
		for _, userID := range users {
			enqueue(log, deps.Processor, TypeSnapshotRecompute, userID, from)
		}
		log.Debug().Int("users", len(users)).Str("from", data.EarliestDate).Msg("Recompute scheduled for new prices")
	})

	// SnapshotsUpdated is consumed by the websocket stream, nothing to do here
}

// EnqueueReconcile schedules a reconcile for userID, logging instead of failing
func EnqueueReconcile(log zerolog.Logger, processor EnqueuerInterface, userID int64) {
	enqueue(log, processor, TypeSnapshotReconcile, userID, time.Time{})
}

func enqueue(log zerolog.Logger, processor EnqueuerInterface, typeID string, userID int64, from time.Time) {
	err := processor.Enqueue(typeID, UserSubject(userID), from)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning):
		log.Debug().Str("work", typeID).Int64("user_id", userID).Msg("Work already running, held as follow-up")
	default:
		log.Warn().Err(err).Str("work", typeID).Int64("user_id", userID).Msg("Failed to enqueue work")
	}
}
