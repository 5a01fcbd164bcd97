// Package work runs background recomputation off the request path. Work items
// are keyed by type and subject; a key is queued at most once and never runs
// twice at the same time.
package work

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkTimeout is the maximum duration a work item can run before being cancelled.
const WorkTimeout = 5 * time.Minute

// MaxRetries is the number of attempts a failing item gets, the first included.
const MaxRetries = 3

// Priority defines the execution priority of work types.
type Priority int

const (
	// PriorityLow is for housekeeping (reconcile sweeps).
	PriorityLow Priority = iota
	// PriorityMedium is for regular background work.
	PriorityMedium
	// PriorityHigh is for work caused by a user action.
	PriorityHigh
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// WorkType defines a type of work that can be executed.
type WorkType struct {
	// ID is the unique identifier for this work type (e.g., "snapshots:recompute").
	ID string

	// Priority is reported in status and used for ordering in listings.
	Priority Priority

	// Execute performs the work for one item.
	Execute func(ctx context.Context, item *WorkItem) error
}

// WorkItem represents a specific unit of work to be executed.
type WorkItem struct {
	// RunID identifies this item in logs. Retries keep it.
	RunID string

	// TypeID is the work type ID (e.g., "snapshots:recompute").
	TypeID string

	// Subject is what the work applies to, the user id for snapshot work.
	Subject string

	// From is the earliest date affected. Zero means the whole history.
	From time.Time

	// Retries is the number of failed attempts so far.
	Retries int

	// CreatedAt is when this work item was created.
	CreatedAt time.Time
}

// NewWorkItem creates a new work item from a work type ID and subject.
func NewWorkItem(typeID, subject string, from time.Time) *WorkItem {
	return &WorkItem{
		RunID:     uuid.NewString(),
		TypeID:    typeID,
		Subject:   subject,
		From:      from,
		CreatedAt: time.Now(),
	}
}

// Key returns "typeID:subject", the identity used for coalescing.
func (i *WorkItem) Key() string {
	return makeKey(i.TypeID, i.Subject)
}

// Merge folds other into i. The earliest from-date wins and zero (whole
// history) beats any date.
func (i *WorkItem) Merge(other *WorkItem) {
	switch {
	case i.From.IsZero():
	case other.From.IsZero():
		i.From = time.Time{}
	case other.From.Before(i.From):
		i.From = other.From
	}
}

// ParseKey splits a "typeID:subject" key. Work type IDs have the form
// "category:type", so everything after the second colon is the subject.
func ParseKey(key string) (typeID string, subject string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return key, ""
	}
	return parts[0] + ":" + parts[1], parts[2]
}

func makeKey(typeID, subject string) string {
	if subject == "" {
		return typeID
	}
	return typeID + ":" + subject
}
