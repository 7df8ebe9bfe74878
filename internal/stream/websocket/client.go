package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"statusfeed/internal/metrics"
	"statusfeed/internal/stream"

	"github.com/gorilla/websocket"
)

// SourceName keys this transport's cursor checkpoint.
const SourceName = "websocket"

type Config struct {
	Enabled     bool
	URL         string
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func (c *Config) withDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return errors.New("websocket.url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("websocket.url: %w", err)
	}
	return nil
}

// Client consumes the remote mutation log over a websocket. Delivery is
// at-least-once: on reconnect the stream is resumed from the last cursor
// whose event was successfully handled, so the event carrying that cursor
// may be seen again.
type Client struct {
	cfg     Config
	handler stream.Handler
	log     *slog.Logger

	cursor atomic.Int64

	// injectable for tests
	dial func(ctx context.Context, rawURL string) (*websocket.Conn, error)
}

func NewClient(cfg Config, handler stream.Handler, log *slog.Logger) (*Client, error) {
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
	c := &Client{cfg: cfg, handler: handler, log: log}
	c.dial = func(ctx context.Context, rawURL string) (*websocket.Conn, error) {
		d := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
		conn, _, err := d.DialContext(ctx, rawURL, nil)
		return conn, err
	}
	return c, nil
}

// Cursor reports the last successfully handled position. The caller persists
// it for crash recovery; Run itself never writes checkpoints.
func (c *Client) Cursor() int64 {
	return c.cursor.Load()
}

// Run consumes the log from fromCursor until ctx is cancelled. Transport
// failures reconnect with capped exponential backoff; the backoff resets
// after the first successfully handled event on a connection.
func (c *Client) Run(ctx context.Context, fromCursor int64) error {
	c.cursor.Store(fromCursor)
	backoff := c.cfg.MinBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		handled, err := c.consumeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if handled {
			backoff = c.cfg.MinBackoff
		}
		metrics.StreamReconnects.Inc()
		c.log.Warn("stream disconnected, reconnecting",
			"cursor", c.cursor.Load(), "backoff", backoff.String(), "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// consumeOnce runs a single connection to exhaustion. It reports whether at
// least one event was handled and the transport error that ended the
// connection. The connection is always closed before returning.
func (c *Client) consumeOnce(ctx context.Context) (bool, error) {
	conn, err := c.dial(ctx, c.resumeURL())
	if err != nil {
		return false, fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	// unblock the read loop on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	handled := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return handled, fmt.Errorf("read stream: %w", err)
		}
		ev, err := stream.DecodeEvent(raw)
		if err != nil {
			// a malformed frame is dropped, never fatal to the stream
			c.log.Warn("dropping malformed log envelope", "err", err)
			metrics.EventsRejected.Inc()
			continue
		}
		if err := c.handler.HandleEvent(ctx, ev); err != nil {
			return handled, fmt.Errorf("handle event cursor=%d: %w", ev.Cursor, err)
		}
		c.cursor.Store(ev.Cursor)
		handled = true
	}
}

func (c *Client) resumeURL() string {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("cursor", strconv.FormatInt(c.cursor.Load(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}
