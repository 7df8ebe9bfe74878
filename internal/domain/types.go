package domain

import (
	"encoding/json"
	"time"
)

// Provenance records how a row entered the materialized view.
type Provenance string

const (
	// ProvenanceOptimistic marks a row written locally ahead of log confirmation.
	ProvenanceOptimistic Provenance = "optimistic"
	// ProvenanceConfirmed marks a row observed from the authoritative log.
	ProvenanceConfirmed Provenance = "confirmed"
)

// RecordKey uniquely identifies a record across all tenants.
type RecordKey struct {
	TenantID   string
	Collection string
	RKey       string
}

func (k RecordKey) String() string {
	return k.TenantID + "/" + k.Collection + "/" + k.RKey
}

// Record is the aggregated unit of state held by the materialized view.
type Record struct {
	Key        RecordKey
	AuthorID   string
	Status     string
	CreatedAt  time.Time
	IndexedAt  time.Time
	Provenance Provenance
}

// SamePayload reports whether two records carry equivalent content from the
// same author. The store uses this to decide a merge-confirm.
func (r Record) SamePayload(other Record) bool {
	return r.AuthorID == other.AuthorID &&
		r.Status == other.Status &&
		r.CreatedAt.Equal(other.CreatedAt)
}

// Operation is a record mutation kind carried by the log.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// LogEvent is one entry from the remote mutation log.
//
// Cursor is globally monotonic. Per-tenant delivery is in non-decreasing
// cursor order and may be redelivered (at-least-once). Payload is the raw
// wire payload, nil for deletes.
type LogEvent struct {
	Cursor     int64
	TenantID   string
	Collection string
	RKey       string
	Operation  Operation
	Payload    json.RawMessage
}

func (e LogEvent) Key() RecordKey {
	return RecordKey{TenantID: e.TenantID, Collection: e.Collection, RKey: e.RKey}
}
