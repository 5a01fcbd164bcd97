package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives emitted events. Handlers run synchronously in the emitting
// goroutine and must not block; enqueue work instead.
type Handler func(event Event)

// Bus is a synchronous publish/subscribe hub
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		all:      make(map[int]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event, returning a function
// that removes it. Used by streaming clients that come and go.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Emit publishes data to the subscribers of its event type.
// A panicking handler is logged and does not affect the others.
func (b *Bus) Emit(module string, data EventData) {
	if data == nil {
		return
	}

	event := Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if b.log.GetLevel() <= zerolog.DebugLevel {
		payload, _ := json.Marshal(data)
		b.log.Debug().
			Str("event_type", string(event.Type)).
			Str("module", module).
			RawJSON("data", payload).
			Int("handlers", len(handlers)).
			Msg("Event emitted")
	}

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

// EmitError emits an ErrorOccurred event
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	b.Emit(module, &ErrorEventData{Error: err.Error(), Context: context})
}
