package signaling

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/swapit-app/calls/internal/util"
)

// Client is one signaling connection registered under a user id.
//
// Sends issued before the socket finishes its connect handshake are buffered
// in order and flushed the instant the connection opens; local ICE candidate
// generation can begin before the dial completes, and the peer must observe
// candidates in generation order.
//
// The Client is alive from a successful Connect until Close is called or the
// read loop hits an error.
type Client struct {
	url string

	mu      sync.Mutex // guards conn, open, pending
	conn    *websocket.Conn
	open    bool
	pending []Message // FIFO, only used before the socket opens

	openSignal chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once

	handler func(Message)
	onError func(error)
}

// NewClient creates a client for the relay at serverURL, to be registered
// under userID. Connect must be called before the client is usable; Send is
// allowed earlier and queues.
func NewClient(serverURL string, userID int) (*Client, error) {
	endpoint, err := Endpoint(serverURL, userID)
	if err != nil {
		return nil, err
	}
	return &Client{
		url:        endpoint,
		openSignal: make(chan struct{}),
	}, nil
}

// OnMessage registers the handler invoked for every inbound message.
// Must be called before Connect.
func (c *Client) OnMessage(fn func(Message)) {
	c.handler = fn
}

// OnError registers a callback invoked once if the read loop fails while the
// client is still open. A Close-initiated shutdown does not trigger it.
func (c *Client) OnError(fn func(error)) {
	c.onError = fn
}

// Connect dials the relay and registers under the client's user id. On
// success it flushes any queued messages in their original order and starts
// the read loop.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to signaling relay: %w", err)
	}

	cCtx, cCancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.ctx = cCtx
	c.cancel = cCancel

	// Flush the pre-open queue before marking the connection open, so no
	// later Send can jump ahead of a queued message.
	for _, msg := range c.pending {
		if err := conn.WriteJSON(msg); err != nil {
			c.mu.Unlock()
			cCancel()
			conn.Close()
			return fmt.Errorf("failed to flush queued message: %w", err)
		}
	}
	c.pending = nil
	c.open = true
	c.mu.Unlock()

	close(c.openSignal)
	go c.readLoop(conn)
	return nil
}

// Send writes a message to the relay. Before the connection opens the message
// is appended to the pre-open queue and nil is returned; after open it is
// written directly, serialized by the client's write lock.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		c.pending = append(c.pending, msg)
		return nil
	}
	return c.conn.WriteJSON(msg)
}

// Ready returns a channel that is closed once the connection is open and the
// pre-open queue has been flushed.
func (c *Client) Ready() <-chan struct{} {
	return c.openSignal
}

// Done returns a channel that is closed when the client shuts down. It blocks
// forever if Connect was never called.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil
	}
	return c.ctx.Done()
}

// Close shuts down the connection. Safe to call multiple times and before
// Connect.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.open = false
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// readLoop delivers inbound messages to the handler until the connection
// fails or is closed locally.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.ctx.Done():
				// Local close, not an error.
			default:
				util.LogDebug("signaling read loop ended: %v", err)
				if c.onError != nil {
					c.onError(err)
				}
			}
			c.cancel()
			return
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// Endpoint builds the relay WebSocket URL for the given user id, e.g.
// wss://example.com/ws/call/42/. Plain host names and http(s) URLs default
// to the secure scheme.
func Endpoint(serverURL string, userID int) (string, error) {
	raw := strings.TrimSpace(serverURL)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", serverURL)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws/call/%d/", scheme, u.Host, userID), nil
}
