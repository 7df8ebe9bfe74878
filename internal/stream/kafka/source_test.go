package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"statusfeed/internal/domain"
	"statusfeed/internal/stream"

	"github.com/twmb/franz-go/pkg/kgo"
)

type stubHandler struct {
	mu     sync.Mutex
	events []domain.LogEvent
	failAt int64
}

func (h *stubHandler) HandleEvent(_ context.Context, ev domain.LogEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failAt != 0 && ev.Cursor == h.failAt {
		return errors.New("fold failed")
	}
	h.events = append(h.events, ev)
	return nil
}

func newTestSource(h stream.Handler) (*Source, *[]int64) {
	committed := &[]int64{}
	s := &Source{
		cfg:     Config{Topic: "statusfeed.log", MaxPollRecords: 100},
		handler: h,
		log:     slog.Default(),
	}
	s.markCommit = func(r *kgo.Record) { *committed = append(*committed, r.Offset) }
	s.commitMarked = func(context.Context) error { return nil }
	return s, committed
}

func logRecord(offset int64, value string) *kgo.Record {
	return &kgo.Record{Topic: "statusfeed.log", Partition: 0, Offset: offset, Value: []byte(value)}
}

func TestHandleRecordCommitsAfterFold(t *testing.T) {
	h := &stubHandler{}
	s, committed := newTestSource(h)

	rec := logRecord(7, `{"cursor":42,"tenantId":"did:plc:alice","collection":"app.status","rkey":"self","operation":"create","payload":{"status":"👍","createdAt":"2026-02-01T10:00:00Z"}}`)
	if err := s.handleRecord(context.Background(), rec); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(h.events) != 1 || h.events[0].Cursor != 42 {
		t.Fatalf("event not delivered: %+v", h.events)
	}
	if s.Cursor() != 42 {
		t.Fatalf("cursor = %d, want 42", s.Cursor())
	}
	if len(*committed) != 1 || (*committed)[0] != 7 {
		t.Fatalf("offset not marked: %v", *committed)
	}
}

func TestHandleRecordSkipsAndCommitsMalformed(t *testing.T) {
	h := &stubHandler{}
	s, committed := newTestSource(h)

	if err := s.handleRecord(context.Background(), logRecord(3, `{"cursor":`)); err != nil {
		t.Fatalf("malformed record must not fail the source: %v", err)
	}
	if len(h.events) != 0 {
		t.Fatalf("malformed record reached the handler")
	}
	if len(*committed) != 1 {
		t.Fatalf("poison message must still be committed: %v", *committed)
	}
}

func TestHandleRecordHoldsOffsetOnFoldFailure(t *testing.T) {
	h := &stubHandler{failAt: 42}
	s, committed := newTestSource(h)

	rec := logRecord(7, `{"cursor":42,"tenantId":"did:plc:alice","collection":"app.status","rkey":"self","operation":"delete"}`)
	if err := s.handleRecord(context.Background(), rec); err == nil {
		t.Fatalf("expected fold failure to propagate")
	}
	if len(*committed) != 0 {
		t.Fatalf("offset must not be committed on fold failure: %v", *committed)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor advanced past an unfolded event: %d", s.Cursor())
	}
}

func fetchesOf(records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic:      "statusfeed.log",
			Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
		}},
	}}
}

func TestRunEndsOnHandlerFailureWithoutCommitting(t *testing.T) {
	h := &stubHandler{failAt: 1}
	s, committed := newTestSource(h)

	// a second poll would hand out records past the unhandled one; the run
	// must end on the failure instead of skipping ahead
	polls := 0
	s.poll = func(context.Context, int) kgo.Fetches {
		polls++
		if polls > 1 {
			return fetchesOf(logRecord(2, `{"cursor":2,"tenantId":"did:plc:alice","collection":"app.status","rkey":"self","operation":"delete"}`))
		}
		return fetchesOf(
			logRecord(1, `{"cursor":1,"tenantId":"did:plc:alice","collection":"app.status","rkey":"self","operation":"delete"}`),
			logRecord(2, `{"cursor":2,"tenantId":"did:plc:alice","collection":"app.status","rkey":"self","operation":"delete"}`),
		)
	}
	commits := 0
	s.commitMarked = func(context.Context) error {
		commits++
		return nil
	}

	if err := s.Run(context.Background(), 0); err == nil {
		t.Fatalf("expected handler failure to end the run")
	}
	if polls != 1 {
		t.Fatalf("run re-polled past an unhandled record: %d polls", polls)
	}
	if len(*committed) != 0 || commits != 0 {
		t.Fatalf("offsets committed past an unhandled record: marked=%v commits=%d", *committed, commits)
	}
	if len(h.events) != 0 {
		t.Fatalf("unexpected events handled: %+v", h.events)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true, Brokers: []string{"127.0.0.1:9092"}, Topic: "statusfeed.log", GroupID: "statusfeed"}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.MaxPollRecords != 500 {
		t.Fatalf("default max poll records = %d", cfg.MaxPollRecords)
	}
	for _, broken := range []Config{
		{Enabled: true, Topic: "t", GroupID: "g"},
		{Enabled: true, Brokers: []string{"b"}, GroupID: "g"},
		{Enabled: true, Brokers: []string{"b"}, Topic: "t"},
	} {
		if err := broken.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", broken)
		}
	}
	if err := (Config{}).Validate(); err != nil {
		t.Fatalf("disabled config must validate: %v", err)
	}
}
