package relay

import "errors"

// ErrPeerClosed is returned when sending to or probing a peer that is no longer open.
var ErrPeerClosed = errors.New("peer closed")

// Peer is one live client channel as seen by the relay.
type Peer interface {
	// ID is unique for the lifetime of the process.
	ID() string
	// Send queues a frame for delivery and must not block on the network.
	Send(frame []byte) error
	// Ping emits a transport-level keepalive probe.
	Ping() error
	// Open reports whether the peer can still accept frames.
	Open() bool
	Close() error
}
