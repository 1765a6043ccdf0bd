package certstream

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xdap/certsquat/pkg/interfaces"
)

var _ interfaces.Source = (*Client)(nil)

const (
	// Certstream servers drop clients that do not ping every so often.
	pingInterval = 30 * time.Second

	handshakeTimeout = 15 * time.Second

	// Bounded buffer between the stream reader and the matcher. When the
	// matcher falls behind, the reader blocks here rather than growing
	// without limit.
	channelCapacity = 10000

	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Client consumes a certstream websocket feed and delivers every domain
// named in each certificate_update over the Domains channel. Transient
// connection failures reconnect with jittered exponential backoff; only
// an unusable URL is permanent.
type Client struct {
	url       string
	userAgent string
	logger    *slog.Logger
	domains   chan string

	// overridden in tests to keep reconnect cycles fast
	backoffStart time.Duration
}

// New creates a certstream client for the given websocket URL.
func New(streamURL, userAgent string, logger *slog.Logger) *Client {
	return &Client{
		url:          streamURL,
		userAgent:    userAgent,
		logger:       logger,
		domains:      make(chan string, channelCapacity),
		backoffStart: initialBackoff,
	}
}

// Domains returns the observation channel. It is closed when Run returns.
func (c *Client) Domains() <-chan string {
	return c.domains
}

// Run connects to the stream and keeps it connected until ctx is
// canceled. Dial and read failures are retried forever with backoff; a
// URL that cannot be a websocket endpoint fails immediately.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.domains)

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid stream url %q: %w", c.url, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid stream url %q: scheme must be ws or wss", c.url)
	}

	backoff := c.backoffStart
	for {
		start := time.Now()
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("stream disconnected", "error", err, "retry_in", backoff)

		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff + jitter):
		}

		// A connection that lived a while proves the endpoint is healthy
		// again, so start the next failure from the bottom of the curve.
		if time.Since(start) > time.Minute {
			backoff = c.backoffStart
		} else if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// consume runs a single websocket session: dial, ping on a timer, read
// until the connection breaks or ctx ends.
func (c *Client) consume(ctx context.Context) error {
	header := http.Header{}
	if c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer func() { _ = conn.Close() }()
	c.logger.Info("connected to certificate stream", "url", c.url)

	stop := make(chan struct{})
	defer close(stop)

	// Closing the connection is the only way to unblock a pending read.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if msg.MessageType != "certificate_update" {
			continue
		}
		c.push(ctx, msg.Data.LeafCert.AllDomains)
	}
}

// push queues each domain of one certificate, skipping duplicates listed
// twice in the same certificate (common: the CN repeated in the SANs).
func (c *Client) push(ctx context.Context, domains []string) {
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}

		select {
		case c.domains <- d:
		case <-ctx.Done():
			return
		}
	}
}
