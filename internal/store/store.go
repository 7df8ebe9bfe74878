package store

import (
	"context"

	"statusfeed/internal/domain"
)

// Store is the contract for the local materialized view plus the stream
// cursor checkpoint. Upsert and Delete are idempotent; mutation for a given
// key is serialized by the implementation so the merge policy always sees a
// consistent prior state. Reads may run concurrently with writes.
type Store interface {
	Upsert(ctx context.Context, rec domain.Record) error
	Delete(ctx context.Context, key domain.RecordKey) error
	Get(ctx context.Context, key domain.RecordKey) (domain.Record, bool, error)
	// List returns up to limit records ordered by IndexedAt descending.
	List(ctx context.Context, limit int) ([]domain.Record, error)

	// Cursor returns the last committed position for a named stream source.
	Cursor(ctx context.Context, source string) (int64, bool, error)
	SetCursor(ctx context.Context, source string, position int64) error

	Close() error
}

// Merge applies the conflict policy for a key: what the view should hold
// given the existing row (nil if absent) and an incoming write.
//
//   - No existing row: the incoming record is taken as-is.
//   - Confirmed arriving over an optimistic row with equivalent content from
//     the same author: merge-confirm. The row flips to confirmed and
//     IndexedAt never moves backwards.
//   - Equivalent content arriving optimistically over a confirmed row: the
//     confirmed row stands; provenance never regresses.
//   - Anything else: last write wins. Confirmed data is authoritative over
//     differing speculative content, and racing writes of either provenance
//     resolve uniformly.
func Merge(existing *domain.Record, incoming domain.Record) domain.Record {
	if existing == nil {
		return incoming
	}
	if incoming.SamePayload(*existing) {
		merged := *existing
		if incoming.Provenance == domain.ProvenanceConfirmed {
			merged.Provenance = domain.ProvenanceConfirmed
		}
		if incoming.IndexedAt.After(merged.IndexedAt) {
			merged.IndexedAt = incoming.IndexedAt
		}
		return merged
	}
	return incoming
}
