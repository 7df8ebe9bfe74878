package store

import (
	"context"
	"testing"
	"time"

	"statusfeed/internal/domain"
)

var testKey = domain.RecordKey{TenantID: "did:plc:alice", Collection: "app.status", RKey: "self"}

func record(status string, prov domain.Provenance, indexedAt time.Time) domain.Record {
	return domain.Record{
		Key:        testKey,
		AuthorID:   "did:plc:alice",
		Status:     status,
		CreatedAt:  time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		IndexedAt:  indexedAt,
		Provenance: prov,
	}
}

func TestMergeConfirmKeepsRowAndIndexedAt(t *testing.T) {
	t0 := time.Date(2026, 2, 1, 10, 0, 5, 0, time.UTC)
	optimistic := record("👍", domain.ProvenanceOptimistic, t0)
	confirmed := record("👍", domain.ProvenanceConfirmed, t0.Add(-2*time.Second))

	merged := Merge(&optimistic, confirmed)
	if merged.Provenance != domain.ProvenanceConfirmed {
		t.Fatalf("expected confirmed provenance, got %s", merged.Provenance)
	}
	if merged.IndexedAt.Before(t0) {
		t.Fatalf("indexedAt moved backwards: %v < %v", merged.IndexedAt, t0)
	}
	if merged.Status != "👍" {
		t.Fatalf("unexpected status %q", merged.Status)
	}
}

func TestMergeConfirmedOverridesDifferingOptimistic(t *testing.T) {
	t0 := time.Date(2026, 2, 1, 10, 0, 5, 0, time.UTC)
	optimistic := record("👍", domain.ProvenanceOptimistic, t0)
	confirmed := record("🎉", domain.ProvenanceConfirmed, t0.Add(time.Second))

	merged := Merge(&optimistic, confirmed)
	if merged.Status != "🎉" || merged.Provenance != domain.ProvenanceConfirmed {
		t.Fatalf("confirmed content must win: %+v", merged)
	}
}

func TestMergeNeverRegressesConfirmed(t *testing.T) {
	t0 := time.Date(2026, 2, 1, 10, 0, 5, 0, time.UTC)
	confirmed := record("👍", domain.ProvenanceConfirmed, t0)
	replay := record("👍", domain.ProvenanceOptimistic, t0.Add(time.Second))

	merged := Merge(&confirmed, replay)
	if merged.Provenance != domain.ProvenanceConfirmed {
		t.Fatalf("equivalent optimistic replay must not regress provenance: %+v", merged)
	}
	if !merged.IndexedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("indexedAt should advance on replay: %v", merged.IndexedAt)
	}
}

func TestMergeOptimisticRacesLastWriteWins(t *testing.T) {
	t0 := time.Date(2026, 2, 1, 10, 0, 5, 0, time.UTC)
	first := record("👍", domain.ProvenanceOptimistic, t0)
	second := record("🎉", domain.ProvenanceOptimistic, t0.Add(time.Second))

	merged := Merge(&first, second)
	if merged.Status != "🎉" || merged.Provenance != domain.ProvenanceOptimistic {
		t.Fatalf("later optimistic write must win: %+v", merged)
	}
}

func TestMemoryUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := record("👍", domain.ProvenanceConfirmed, time.Now().UTC())

	for i := 0; i < 3; i++ {
		if err := m.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	got, ok, err := m.Get(ctx, testKey)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != rec {
		t.Fatalf("repeated upsert changed the row: %+v", got)
	}
	rows, err := m.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row per key, got %d", len(rows))
	}
}

func TestMemoryDeleteIsNoopWhenAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Delete(ctx, testKey); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestMemoryListOrdersByIndexedAtDesc(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i, tenant := range []string{"did:plc:a", "did:plc:b", "did:plc:c"} {
		rec := domain.Record{
			Key:        domain.RecordKey{TenantID: tenant, Collection: "app.status", RKey: "self"},
			AuthorID:   tenant,
			Status:     "👍",
			CreatedAt:  base,
			IndexedAt:  base.Add(time.Duration(i) * time.Second),
			Provenance: domain.ProvenanceConfirmed,
		}
		if err := m.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := m.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("limit not applied: %d rows", len(rows))
	}
	if rows[0].Key.TenantID != "did:plc:c" || rows[1].Key.TenantID != "did:plc:b" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestMemoryCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, ok, _ := m.Cursor(ctx, "websocket"); ok {
		t.Fatalf("expected no cursor before first checkpoint")
	}
	if err := m.SetCursor(ctx, "websocket", 42); err != nil {
		t.Fatal(err)
	}
	pos, ok, err := m.Cursor(ctx, "websocket")
	if err != nil || !ok || pos != 42 {
		t.Fatalf("cursor round trip failed: pos=%d ok=%v err=%v", pos, ok, err)
	}
}
