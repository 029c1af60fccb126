package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// FrameHandler consumes frames read by a Client.
type FrameHandler func(ctx context.Context, frame Frame) error

// Client follows an SSE endpoint and reconnects with exponential backoff until
// its context ends.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithBearerToken authenticates requests.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		c.minBackoff, c.maxBackoff = min, max
	}
}

// WithHTTPClient replaces the transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client for url.
func NewClient(url string, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{},
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run delivers frames to handle until ctx is cancelled. Handler errors are
// logged and do not drop the connection.
func (c *Client) Run(ctx context.Context, handle FrameHandler) error {
	backoff := c.minBackoff
	lastID := ""
	for {
		connected, retry, err := c.consume(ctx, &lastID, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.minBackoff
		}
		if retry > 0 {
			backoff = retry
		}
		c.logger.Info("event stream disconnected, reconnecting",
			zap.Duration("backoff", backoff), zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// consume reads one connection. connected reports whether the server
// accepted the stream; retry is the last delay the server asked for.
func (c *Client) consume(ctx context.Context, lastID *string, handle FrameHandler) (connected bool, retry time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, 0, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if *lastID != "" {
		req.Header.Set("Last-Event-ID", *lastID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, 0, fmt.Errorf("event stream: unexpected status %d", resp.StatusCode)
	}

	sc := newScanner(resp.Body)
	for sc.Next() {
		frame := sc.Frame()
		if frame.ID != "" {
			*lastID = frame.ID
		}
		if frame.Retry > 0 {
			retry = time.Duration(frame.Retry) * time.Millisecond
		}
		if err := handle(ctx, frame); err != nil {
			c.logger.Warn("event handler failed", zap.String("event", frame.Event), zap.Error(err))
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return true, retry, err
	}
	return true, retry, errors.New("event stream closed by server")
}
