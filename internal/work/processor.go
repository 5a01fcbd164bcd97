package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning is returned by Enqueue when the same key is executing.
	// The item is kept as a follow-up and queued once the running one finishes.
	ErrAlreadyRunning = errors.New("work already running")
	// ErrQueueFull is returned by Enqueue when the queue has no room
	ErrQueueFull = errors.New("work queue full")
	// ErrUnknownWorkType is returned by Enqueue for unregistered type IDs
	ErrUnknownWorkType = errors.New("unknown work type")
	// ErrStopped is returned by Enqueue after Stop
	ErrStopped = errors.New("work processor stopped")
)

// Config sizes the processor
type Config struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		QueueSize:  256,
		Timeout:    WorkTimeout,
		MaxRetries: MaxRetries,
		RetryDelay: 30 * time.Second,
	}
}

// Processor executes work items on a fixed pool of workers fed by a bounded
// queue. Each key is queued at most once; re-enqueueing a queued key merges into
// the queued item. Re-enqueueing a running key merges into that key's follow-up,
// which is queued when the run ends.
type Processor struct {
	registry   *Registry
	completion *CompletionTracker
	cfg        Config
	log        zerolog.Logger

	queue   chan string
	pending   map[string]*WorkItem
	running   map[string]*WorkItem
	followUps map[string]*WorkItem
	mu        sync.Mutex

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewProcessor creates a new work processor. Zero config fields take their
// DefaultConfig value.
func NewProcessor(registry *Registry, completion *CompletionTracker, cfg Config, log zerolog.Logger) *Processor {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	return &Processor{
		registry:   registry,
		completion: completion,
		cfg:        cfg,
		log:        log.With().Str("component", "work_processor").Logger(),
		queue:      make(chan string, cfg.QueueSize),
		pending:    make(map[string]*WorkItem),
		running:    make(map[string]*WorkItem),
		followUps:  make(map[string]*WorkItem),
		stop:       make(chan struct{}),
	}
}

// Start launches the workers. Calling it twice has no effect.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("Work processor started")
}

// Stop stops accepting work and waits for running items to finish. Queued items
// are dropped; the reconcile sweep recovers them.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	dropped := len(p.pending)
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()
	p.log.Info().Int("dropped", dropped).Msg("Work processor stopped")
}

// Enqueue schedules typeID for subject. It never blocks. A queued item with the
// same key absorbs this one, keeping the earliest from-date. A running item with
// the same key makes it return ErrAlreadyRunning; the request is then held as
// the key's follow-up and queued when the run ends.
func (p *Processor) Enqueue(typeID, subject string, from time.Time) error {
	if !p.registry.Has(typeID) {
		return fmt.Errorf("%w: %s", ErrUnknownWorkType, typeID)
	}
	return p.enqueue(NewWorkItem(typeID, subject, from))
}

func (p *Processor) enqueue(item *WorkItem) error {
	key := item.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if _, ok := p.running[key]; ok {
		if followUp, ok := p.followUps[key]; ok {
			followUp.Merge(item)
		} else {
			p.followUps[key] = item
		}
		return ErrAlreadyRunning
	}
	if queued, ok := p.pending[key]; ok {
		queued.Merge(item)
		if item.Retries > queued.Retries {
			queued.Retries = item.Retries
		}
		return nil
	}

	select {
	case p.queue <- key:
		p.pending[key] = item
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued items
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Running returns the keys currently executing
func (p *Processor) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.running))
	for key := range p.running {
		keys = append(keys, key)
	}
	return keys
}

func (p *Processor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case key := <-p.queue:
			p.process(key)
		}
	}
}

func (p *Processor) process(key string) {
	p.mu.Lock()
	item, ok := p.pending[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, key)
	p.running[key] = item
	p.mu.Unlock()

	start := time.Now()
	err := p.execute(item)
	took := time.Since(start)

	// Release the key before a retry or follow-up can be queued for it
	p.mu.Lock()
	delete(p.running, key)
	followUp := p.followUps[key]
	delete(p.followUps, key)
	p.mu.Unlock()

	if followUp != nil {
		if qerr := p.enqueue(followUp); qerr != nil && !errors.Is(qerr, ErrStopped) {
			p.log.Warn().Err(qerr).Str("work", key).Msg("Failed to queue follow-up work")
		}
	}

	if err == nil {
		p.completion.MarkCompleted(item, took)
		p.log.Debug().
			Str("work", key).
			Str("run_id", item.RunID).
			Dur("duration", took).
			Msg("Work completed")
		return
	}

	p.completion.MarkFailed(item, err)
	item.Retries++
	if item.Retries >= p.cfg.MaxRetries {
		p.log.Error().
			Err(err).
			Str("work", key).
			Str("run_id", item.RunID).
			Int("attempts", item.Retries).
			Msg("Work failed, max retries reached")
		return
	}

	p.log.Warn().
		Err(err).
		Str("work", key).
		Str("run_id", item.RunID).
		Int("attempt", item.Retries).
		Dur("retry_in", p.cfg.RetryDelay).
		Msg("Work failed, will retry")
	p.scheduleRetry(item)
}

func (p *Processor) execute(item *WorkItem) (err error) {
	wt := p.registry.Get(item.TypeID)
	if wt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownWorkType, item.TypeID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work panicked: %v", r)
		}
	}()

	err = wt.Execute(ctx, item)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("work timed out after %s: %w", p.cfg.Timeout, err)
	}
	return err
}

// scheduleRetry re-enqueues the whole item after RetryDelay
func (p *Processor) scheduleRetry(item *WorkItem) {
	go func() {
		timer := time.NewTimer(p.cfg.RetryDelay)
		defer timer.Stop()

		select {
		case <-p.stop:
			return
		case <-timer.C:
		}

		if err := p.enqueue(item); err != nil && !errors.Is(err, ErrStopped) {
			p.log.Warn().Err(err).Str("work", item.Key()).Msg("Failed to requeue work")
		}
	}()
}
