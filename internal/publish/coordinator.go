package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"statusfeed/internal/domain"
	"statusfeed/internal/metrics"
	"statusfeed/internal/schema"
	"statusfeed/internal/store"
)

// WriteError reports a failed authoritative write. It is the only failure in
// the write path surfaced to callers.
type WriteError struct {
	Key domain.RecordKey
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("authoritative write for %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PutRecordRequest is the write sent to the owning tenant repository.
type PutRecordRequest struct {
	TenantID   string
	Collection string
	RKey       string
	Payload    schema.Payload
}

// PutRecordResponse carries the key assigned by the authoritative source.
type PutRecordResponse struct {
	Key domain.RecordKey
}

// RecordWriter is the external collaborator holding the authoritative copy
// of a tenant's records.
type RecordWriter interface {
	PutRecord(ctx context.Context, req PutRecordRequest) (PutRecordResponse, error)
}

// Coordinator performs a local write: validate, write authoritatively, then
// speculatively index the row ahead of the log's confirmation so the writer
// sees their own write immediately.
type Coordinator struct {
	repo  RecordWriter
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewCoordinator(repo RecordWriter, st store.Store, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{repo: repo, store: st, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Submit writes a status record. Invalid payloads are rejected before any
// I/O. A failed authoritative write is returned as *WriteError with no local
// mutation. A failed speculative index after a successful authoritative
// write is logged and swallowed: the row backfills when the log event
// arrives, so the user's action is not failed over a bounded consistency
// window.
func (c *Coordinator) Submit(ctx context.Context, tenantID, collection, rkey string, payload schema.Payload) (domain.RecordKey, error) {
	if err := schema.Validate(payload); err != nil {
		return domain.RecordKey{}, err
	}

	resp, err := c.repo.PutRecord(ctx, PutRecordRequest{
		TenantID:   tenantID,
		Collection: collection,
		RKey:       rkey,
		Payload:    payload,
	})
	if err != nil {
		key := domain.RecordKey{TenantID: tenantID, Collection: collection, RKey: rkey}
		return domain.RecordKey{}, &WriteError{Key: key, Err: err}
	}
	metrics.OptimisticWrites.Inc()

	createdAt, err := schema.ParseCreatedAt(payload)
	if err != nil {
		return domain.RecordKey{}, err
	}
	rec := domain.Record{
		Key:        resp.Key,
		AuthorID:   tenantID,
		Status:     payload.Status,
		CreatedAt:  createdAt,
		IndexedAt:  c.now(),
		Provenance: domain.ProvenanceOptimistic,
	}
	if err := c.store.Upsert(ctx, rec); err != nil {
		metrics.SecondaryWriteFailures.Inc()
		c.log.Warn("speculative index failed after authoritative write, awaiting log backfill",
			"key", resp.Key.String(), "err", err)
	}
	return resp.Key, nil
}
