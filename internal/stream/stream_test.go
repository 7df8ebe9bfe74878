package stream

import (
	"strings"
	"testing"

	"statusfeed/internal/domain"
)

func TestDecodeEventCreate(t *testing.T) {
	raw := []byte(`{"cursor":7,"tenantId":"did:plc:alice","collection":"app.status","rkey":"self","operation":"create","payload":{"status":"👍","createdAt":"2026-02-01T10:00:00Z"}}`)
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Cursor != 7 || ev.Operation != domain.OpCreate {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Key() != (domain.RecordKey{TenantID: "did:plc:alice", Collection: "app.status", RKey: "self"}) {
		t.Fatalf("unexpected key: %+v", ev.Key())
	}
	if len(ev.Payload) == 0 {
		t.Fatalf("payload missing")
	}
}

func TestDecodeEventDeleteWithoutPayload(t *testing.T) {
	raw := []byte(`{"cursor":9,"tenantId":"did:plc:alice","collection":"app.status","rkey":"self","operation":"delete"}`)
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if ev.Operation != domain.OpDelete || ev.Payload != nil {
		t.Fatalf("unexpected delete event: %+v", ev)
	}
}

func TestDecodeEventRejections(t *testing.T) {
	cases := map[string]string{
		"missing tenant":      `{"cursor":1,"collection":"c","rkey":"k","operation":"create","payload":{}}`,
		"missing collection":  `{"cursor":1,"tenantId":"t","rkey":"k","operation":"create","payload":{}}`,
		"missing rkey":        `{"cursor":1,"tenantId":"t","collection":"c","operation":"create","payload":{}}`,
		"unknown operation":   `{"cursor":1,"tenantId":"t","collection":"c","rkey":"k","operation":"truncate"}`,
		"create sans payload": `{"cursor":1,"tenantId":"t","collection":"c","rkey":"k","operation":"create"}`,
		"malformed json":      `{"cursor":`,
	}
	for name, raw := range cases {
		if _, err := DecodeEvent([]byte(raw)); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestDecodeEventErrorNamesMissingField(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"cursor":1,"collection":"c","rkey":"k","operation":"delete"}`))
	if err == nil || !strings.Contains(err.Error(), "tenantId") {
		t.Fatalf("expected tenantId error, got %v", err)
	}
}
