package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/astromechza/text-relay/pkg/protocol"
)

type fakePeer struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	pingErr  error
	sendErr  error
	pings    int
	onSend   func(*fakePeer)
	closeCnt int
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if p.sendErr != nil {
		err := p.sendErr
		p.mu.Unlock()
		return err
	}
	p.frames = append(p.frames, frame)
	hook := p.onSend
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *fakePeer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	if p.closed {
		return ErrPeerClosed
	}
	return p.pingErr
}

func (p *fakePeer) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCnt++
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

func (p *fakePeer) envelopes() []protocol.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(p.frames))
	for _, f := range p.frames {
		env, err := protocol.Decode(f)
		if err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

func (p *fakePeer) pingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

type memRecorder struct {
	mu      sync.Mutex
	entries []protocol.Envelope
	err     error
}

func (r *memRecorder) Record(_ context.Context, entry protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}
