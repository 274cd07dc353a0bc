package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/text-relay/pkg/relay"
)

var errSendQueueFull = errors.New("send queue full")

// peer adapts a websocket connection to relay.Peer. Frames are queued on send
// and written by a single writer goroutine, so a slow client never blocks the engine.
type peer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
}

func newPeer(conn *websocket.Conn, sendBuffer int, writeWait time.Duration) *peer {
	return &peer{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		writeWait: writeWait,
	}
}

func (p *peer) ID() string {
	return p.id
}

func (p *peer) Send(frame []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return relay.ErrPeerClosed
	}
	select {
	case p.send <- frame:
		p.mu.Unlock()
		return nil
	default:
	}
	p.mu.Unlock()
	// the client is not draining its queue, drop it rather than buffer forever
	if p.markClosed() {
		go p.shutdown()
	}
	return fmt.Errorf("peer %s: %w", p.id, errSendQueueFull)
}

func (p *peer) Ping() error {
	if !p.Open() {
		return relay.ErrPeerClosed
	}
	if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeWait)); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

func (p *peer) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *peer) Close() error {
	if !p.markClosed() {
		return nil
	}
	return p.shutdown()
}

// markClosed flips the peer to closed and reports whether this call did so.
func (p *peer) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.done)
	return true
}

func (p *peer) shutdown() error {
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(p.writeWait),
	)
	return p.conn.Close()
}

func (p *peer) writePump() {
	defer p.Close()
	for {
		select {
		case frame := <-p.send:
			if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeWait)); err != nil {
				slog.Debug("failed to set write deadline", "peer", p.id, "err", err)
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("failed to write frame", "peer", p.id, "err", err)
				return
			}
		case <-p.done:
			return
		}
	}
}

// readPump passes every inbound frame to handle until the connection fails,
// the peer closes, or handle returns an error.
func (p *peer) readPump(readLimit int64, pongWait time.Duration, handle func([]byte) error) error {
	p.conn.SetReadLimit(readLimit)
	extend := func() error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	if err := extend(); err != nil {
		return err
	}
	p.conn.SetPongHandler(func(string) error {
		return extend()
	})
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		if err := extend(); err != nil {
			return err
		}
		if err := handle(raw); err != nil {
			return err
		}
	}
}
