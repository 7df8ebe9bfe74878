package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"statusfeed/internal/domain"
)

// Handler consumes log events delivered by a stream source. Returning an
// error tells the source the event was not folded and must not be
// acknowledged; redelivery is safe because downstream folding is idempotent.
type Handler interface {
	HandleEvent(ctx context.Context, ev domain.LogEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev domain.LogEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev domain.LogEvent) error {
	return f(ctx, ev)
}

// Source is a restartable, at-least-once log consumer. Run blocks until ctx
// is cancelled or the source fails terminally; Cursor reports the last
// successfully handled position for checkpointing.
type Source interface {
	Run(ctx context.Context, fromCursor int64) error
	Cursor() int64
}

type wireEvent struct {
	Cursor     int64           `json:"cursor"`
	TenantID   string          `json:"tenantId"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DecodeEvent parses one log envelope off the wire and checks its required
// fields. Payload content is not validated here; that is the pipeline's job.
func DecodeEvent(raw []byte) (domain.LogEvent, error) {
	var in wireEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return domain.LogEvent{}, fmt.Errorf("parse log envelope: %w", err)
	}
	ev := domain.LogEvent{
		Cursor:     in.Cursor,
		TenantID:   in.TenantID,
		Collection: in.Collection,
		RKey:       in.RKey,
		Operation:  domain.Operation(in.Operation),
		Payload:    in.Payload,
	}
	return ev, validateEvent(ev)
}

func validateEvent(ev domain.LogEvent) error {
	if strings.TrimSpace(ev.TenantID) == "" {
		return errors.New("tenantId is required")
	}
	if strings.TrimSpace(ev.Collection) == "" {
		return errors.New("collection is required")
	}
	if strings.TrimSpace(ev.RKey) == "" {
		return errors.New("rkey is required")
	}
	switch ev.Operation {
	case domain.OpCreate, domain.OpUpdate:
		if len(ev.Payload) == 0 {
			return fmt.Errorf("payload is required for %s", ev.Operation)
		}
	case domain.OpDelete:
	default:
		return fmt.Errorf("unsupported operation %q", ev.Operation)
	}
	return nil
}
