package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"statusfeed/internal/metrics"
	"statusfeed/internal/stream"

	"github.com/twmb/franz-go/pkg/kgo"
)

// SourceName keys this transport's cursor checkpoint.
const SourceName = "kafka"

type Config struct {
	Enabled        bool
	Brokers        []string
	Topic          string
	GroupID        string
	ClientID       string
	MaxPollRecords int
	Fetch          FetchConfig
	TLS            TLSConfig
}

type FetchConfig struct {
	MinBytes int32
	MaxBytes int32
	MaxWait  time.Duration
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

func (c *Config) withDefaults() {
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
	if c.Fetch.MaxWait <= 0 {
		c.Fetch.MaxWait = time.Second
	}
	if c.Fetch.MinBytes <= 0 {
		c.Fetch.MinBytes = 1
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 50 << 20
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if c.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	return nil
}

// Source consumes the mutation log mirrored onto a kafka topic keyed by
// tenant, so per-tenant ordering is preserved by the partitioner. Offsets
// are committed only after the handler has folded a record, which makes the
// delivery at-least-once end to end.
type Source struct {
	cfg     Config
	handler stream.Handler
	log     *slog.Logger

	client *kgo.Client
	cursor atomic.Int64

	// injectable for tests
	poll         func(ctx context.Context, max int) kgo.Fetches
	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
}

func NewSource(cfg Config, handler stream.Handler, log *slog.Logger, opts ...kgo.Opt) (*Source, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if log == nil {
		log = slog.Default()
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(cfg.Fetch.MaxWait),
		kgo.FetchMinBytes(cfg.Fetch.MinBytes),
		kgo.FetchMaxBytes(cfg.Fetch.MaxBytes),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.TLS.Enabled {
		kopts = append(kopts, kgo.DialTLSConfig(&tls.Config{InsecureSkipVerify: cfg.TLS.InsecureSkipVerify}))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	s := &Source{cfg: cfg, handler: handler, log: log, client: cl}
	s.poll = func(ctx context.Context, max int) kgo.Fetches { return cl.PollRecords(ctx, max) }
	s.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	s.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	return s, nil
}

// Cursor reports the last successfully handled envelope cursor. The group
// offset is the transport-level resume point; the envelope cursor is what
// the pipeline checkpoints.
func (s *Source) Cursor() int64 {
	return s.cursor.Load()
}

// Run consumes the topic until ctx is cancelled or a handler refuses a
// record. A handler failure ends the run with that record's offset
// uncommitted, so the next run redelivers it; skipping ahead here would
// commit the group offset past an unfolded event and lose it. fromCursor is
// informational for this transport: resumption is driven by committed group
// offsets, and events at or before fromCursor are simply redelivered, which
// downstream folding absorbs.
func (s *Source) Run(ctx context.Context, fromCursor int64) error {
	if s.client != nil {
		defer s.client.Close()
	}
	s.cursor.Store(fromCursor)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches := s.poll(ctx, s.cfg.MaxPollRecords)
		if fetches.IsClientClosed() {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					return ctx.Err()
				}
				s.log.Warn("kafka fetch error", "topic", fe.Topic, "partition", fe.Partition, "err", fe.Err)
			}
			continue
		}
		var iterErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if iterErr != nil {
				return
			}
			iterErr = s.handleRecord(ctx, rec)
		})
		if iterErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("kafka record handling failed, ending run with offsets uncommitted", "err", iterErr)
			return iterErr
		}
		if err := s.commitMarked(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("kafka offset commit failed", "err", err)
		}
	}
}

func (s *Source) handleRecord(ctx context.Context, rec *kgo.Record) error {
	ev, err := stream.DecodeEvent(rec.Value)
	if err != nil {
		// malformed records are skipped and their offsets committed,
		// otherwise a poison message wedges the partition
		s.log.Warn("dropping malformed log record",
			"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "err", err)
		metrics.EventsRejected.Inc()
		s.markCommit(rec)
		return nil
	}
	if err := s.handler.HandleEvent(ctx, ev); err != nil {
		return fmt.Errorf("handle event cursor=%d: %w", ev.Cursor, err)
	}
	s.cursor.Store(ev.Cursor)
	s.markCommit(rec)
	return nil
}
