package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"statusfeed/internal/domain"
	"statusfeed/internal/hashroute"
	"statusfeed/internal/metrics"
	"statusfeed/internal/schema"
	"statusfeed/internal/store"
)

// ErrStopped reports an event delivered after Stop.
var ErrStopped = errors.New("ingest: pipeline stopped")

type Config struct {
	QueueCapacity int
}

func (c *Config) withDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
}

// Pipeline folds log events into the materialized view. Events are routed to
// a fixed worker per tenant partition, so one tenant's events apply in
// cursor order while tenants proceed concurrently. After each fold the
// committed cursor watermark is checkpointed under the source name.
//
// A rejected payload is dropped and its cursor still advances; only store
// unavailability stalls a partition (folding retries until the context is
// cancelled).
type Pipeline struct {
	store  store.Store
	source string
	log    *slog.Logger
	now    func() time.Time

	tracker *cursorTracker
	partQ   []chan domain.LogEvent

	ckptMu  sync.Mutex
	ckptPos int64

	stopMu  sync.RWMutex
	stopped bool

	startOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, st store.Store, source string, fromCursor int64, log *slog.Logger) *Pipeline {
	cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		store:   st,
		source:  source,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		tracker: newCursorTracker(fromCursor),
		ckptPos: fromCursor,
		partQ:   make([]chan domain.LogEvent, hashroute.PartitionCount),
	}
	for i := range p.partQ {
		p.partQ[i] = make(chan domain.LogEvent, cfg.QueueCapacity)
	}
	return p
}

// Start launches the partition workers. Workers drain their queues until
// Stop closes them.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := range p.partQ {
			q := p.partQ[i]
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.runWorker(ctx, q)
			}()
		}
	})
}

// Stop closes the partition queues, waits for in-flight folds and flushes
// the final cursor watermark. Events delivered after Stop begins are
// refused with ErrStopped rather than enqueued, so a source that races
// shutdown cannot hit a closed queue.
func (p *Pipeline) Stop() {
	p.stopMu.Lock()
	if p.stopped {
		p.stopMu.Unlock()
		return
	}
	p.stopped = true
	p.stopMu.Unlock()

	for _, q := range p.partQ {
		close(q)
	}
	p.wg.Wait()

	// the serving context is usually cancelled by now; flush the final
	// watermark on a fresh one
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.checkpoint(ctx)
}

// HandleEvent enqueues one delivered event onto its tenant partition. It
// implements stream.Handler and blocks when the partition queue is full,
// which backpressures the stream source.
func (p *Pipeline) HandleEvent(ctx context.Context, ev domain.LogEvent) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	metrics.EventsReceived.Inc()
	part := hashroute.PartitionForTenant(ev.TenantID)
	p.tracker.Begin(ev.Cursor)
	select {
	case p.partQ[part] <- ev:
		return nil
	case <-ctx.Done():
		p.tracker.Done(ev.Cursor)
		return ctx.Err()
	}
}

func (p *Pipeline) runWorker(ctx context.Context, q <-chan domain.LogEvent) {
	for ev := range q {
		p.foldWithRetry(ctx, ev)
		p.tracker.Done(ev.Cursor)
		p.checkpoint(ctx)
	}
}

// foldWithRetry applies one event, retrying store failures with backoff.
// Validation rejections are terminal for the event and never retried.
func (p *Pipeline) foldWithRetry(ctx context.Context, ev domain.LogEvent) {
	backoff := 50 * time.Millisecond
	for {
		err := p.fold(ctx, ev)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.log.Warn("fold failed, retrying", "key", ev.Key().String(), "cursor", ev.Cursor, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (p *Pipeline) fold(ctx context.Context, ev domain.LogEvent) error {
	if ev.Operation == domain.OpDelete {
		if err := p.store.Delete(ctx, ev.Key()); err != nil {
			return err
		}
		metrics.RecordsDeleted.Inc()
		return nil
	}

	payload, err := schema.Decode(ev.Payload)
	if err == nil {
		err = schema.Validate(payload)
	}
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		p.log.Warn("dropping invalid record payload",
			"key", ev.Key().String(), "cursor", ev.Cursor,
			"field", verr.Field, "reason", verr.Reason)
		metrics.EventsRejected.Inc()
		return nil
	}
	if err != nil {
		return err
	}
	createdAt, err := schema.ParseCreatedAt(payload)
	if err != nil {
		return err
	}

	rec := domain.Record{
		Key:        ev.Key(),
		AuthorID:   ev.TenantID,
		Status:     payload.Status,
		CreatedAt:  createdAt,
		IndexedAt:  p.now(),
		Provenance: domain.ProvenanceConfirmed,
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		return err
	}
	metrics.EventsFolded.Inc()
	return nil
}

// checkpoint persists the committed watermark. Writes are serialized and
// the persisted position never regresses, even when workers race on the
// same watermark. A failed checkpoint is only logged: at worst the stream
// replays a few events after a crash, which the idempotent store absorbs.
func (p *Pipeline) checkpoint(ctx context.Context) {
	pos := p.tracker.Committed()
	p.ckptMu.Lock()
	defer p.ckptMu.Unlock()
	if pos <= p.ckptPos {
		return
	}
	if err := p.store.SetCursor(ctx, p.source, pos); err != nil {
		if ctx.Err() == nil {
			p.log.Warn("cursor checkpoint failed", "source", p.source, "position", pos, "err", err)
		}
		return
	}
	p.ckptPos = pos
}
