package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/text-relay/pkg/protocol"
)

// Client is a single connection to a relay. It tracks the latest content and
// keeps every received log entry in arrival order.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	content string
	entries []protocol.Envelope
}

// Dial connects to a relay. http and https base URLs are mapped to ws and wss.
func Dial(ctx context.Context, baseUrl string) (*Client, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// Log returns a copy of the log entries received so far.
func (c *Client) Log() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.entries...)
}

// SendUpdate publishes new content to the relay.
func (c *Client) SendUpdate(content string) error {
	buf, err := protocol.Encode(protocol.Update(content, ""))
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive reads frames until the connection closes or ctx is done. onEnvelope,
// if set, is called for every decoded envelope after the client state is updated.
func (c *Client) Receive(ctx context.Context, onEnvelope func(protocol.Envelope)) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			slog.Warn("discarding frame", "err", err)
			continue
		}
		c.mu.Lock()
		switch env.Type {
		case protocol.TypeUpdate:
			c.content = env.Content
		case protocol.TypeLog:
			c.entries = append(c.entries, env)
		}
		c.mu.Unlock()
		if onEnvelope != nil {
			onEnvelope(env)
		}
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}
