// Package events provides the in-process event bus connecting mutations to
// background recomputation and to websocket clients.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	TransactionAdded   EventType = "TRANSACTION_ADDED"
	TransactionDeleted EventType = "TRANSACTION_DELETED"
	PricesIngested     EventType = "PRICES_INGESTED"
	DividendsIngested  EventType = "DIVIDENDS_INGESTED"
	SnapshotsUpdated   EventType = "SNAPSHOTS_UPDATED"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event is an emitted event as delivered to streaming subscribers
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}
