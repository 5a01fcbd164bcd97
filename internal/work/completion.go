package work

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Completion is the outcome history of one work key
type Completion struct {
	Key          string    `json:"key"`
	LastSuccess  time.Time `json:"last_success"`
	LastFailure  time.Time `json:"last_failure"`
	LastError    string    `json:"last_error,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
}

// CompletionTracker records when work items last succeeded or failed.
type CompletionTracker struct {
	completions map[string]*Completion // key: "typeID:subject"
	mu          sync.RWMutex
}

// NewCompletionTracker creates a new completion tracker.
func NewCompletionTracker() *CompletionTracker {
	return &CompletionTracker{
		completions: make(map[string]*Completion),
	}
}

func (t *CompletionTracker) entry(key string) *Completion {
	c, ok := t.completions[key]
	if !ok {
		c = &Completion{Key: key}
		t.completions[key] = c
	}
	return c
}

// MarkCompleted records that a work item has been completed.
func (t *CompletionTracker) MarkCompleted(item *WorkItem, took time.Duration) {
	t.MarkCompletedAt(item, time.Now(), took)
}

// MarkCompletedAt records that a work item was completed at a specific time.
// This is primarily used for testing.
func (t *CompletionTracker) MarkCompletedAt(item *WorkItem, completedAt time.Time, took time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.entry(item.Key())
	c.LastSuccess = completedAt
	c.Runs++
	c.LastDuration = took.String()
}

// MarkFailed records a failed attempt of a work item.
func (t *CompletionTracker) MarkFailed(item *WorkItem, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.entry(item.Key())
	c.LastFailure = time.Now()
	c.LastError = err.Error()
	c.Failures++
}

// GetCompletion returns when a work type/subject combination last succeeded.
func (t *CompletionTracker) GetCompletion(typeID, subject string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.completions[makeKey(typeID, subject)]
	if !ok || c.LastSuccess.IsZero() {
		return time.Time{}, false
	}
	return c.LastSuccess, true
}

// All returns a copy of every tracked key, sorted by key.
func (t *CompletionTracker) All() []Completion {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Completion, 0, len(t.completions))
	for _, c := range t.completions {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ClearByPrefix removes all completions whose key starts with prefix.
func (t *CompletionTracker) ClearByPrefix(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.completions {
		if strings.HasPrefix(key, prefix) {
			delete(t.completions, key)
		}
	}
}
