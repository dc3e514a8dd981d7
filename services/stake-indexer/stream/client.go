package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"stakeledger/core/events"
)

const (
	defaultBackoff   = 2 * time.Second
	maxBackoff       = time.Minute
	defaultReadLimit = 1 << 20
	dialTimeout      = 10 * time.Second
)

// Handler consumes records in sequence order.
type Handler interface {
	Cursor(ctx context.Context) (uint64, error)
	Apply(ctx context.Context, record events.Record) error
}

// Config describes a ledger event stream subscription.
type Config struct {
	URL     string
	Token   string
	Backoff time.Duration
	Logger  *slog.Logger
}

// Client follows the ledger event stream, resuming from the handler's cursor
// after every disconnect.
type Client struct {
	url     string
	token   string
	backoff time.Duration
	logger  *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("stream: invalid url %q", cfg.URL)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{url: cfg.URL, token: cfg.Token, backoff: cfg.Backoff, logger: cfg.Logger}, nil
}

// Run consumes the stream until ctx is cancelled. Connection and handler
// failures are logged and retried with exponential backoff.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	wait := c.backoff
	for {
		applied, err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if applied > 0 {
			wait = c.backoff
		}
		c.logger.Warn("stream: disconnected",
			slog.Int("applied", applied),
			slog.Duration("retry_in", wait),
			slog.Any("error", err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (c *Client) consume(ctx context.Context, handler Handler) (int, error) {
	cursor, err := handler.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	endpoint, err := c.endpoint(cursor)
	if err != nil {
		return 0, err
	}
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, endpoint, opts)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "indexer stopping")
	conn.SetReadLimit(defaultReadLimit)
	c.logger.Info("stream: connected", slog.Uint64("cursor", cursor))

	applied := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusTryAgainLater {
				return applied, errors.New("server dropped lagging subscription")
			}
			return applied, err
		}
		var record events.Record
		if err := json.Unmarshal(data, &record); err != nil {
			return applied, fmt.Errorf("decode record: %w", err)
		}
		if err := handler.Apply(ctx, record); err != nil {
			_ = conn.Close(websocket.StatusGoingAway, "resync")
			return applied, err
		}
		applied++
	}
}

func (c *Client) endpoint(cursor uint64) (string, error) {
	parsed, err := url.Parse(c.url)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("cursor", strconv.FormatUint(cursor, 10))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
