package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/astromechza/text-relay/pkg/protocol"
)

// ErrEngineStopped is returned by Join and Submit once Run has returned.
var ErrEngineStopped = errors.New("engine stopped")

// Recorder receives every log envelope the engine broadcasts.
type Recorder interface {
	Record(ctx context.Context, entry protocol.Envelope) error
}

type eventKind int

const (
	eventJoin eventKind = iota
	eventFrame
)

type event struct {
	kind eventKind
	peer Peer
	raw  []byte
	done chan struct{}
}

// Engine applies inbound updates to the store and fans the result out to every
// open peer. All events are handled by the single Run goroutine, so broadcasts
// never interleave and a joining peer sees its initial sync before anything else.
type Engine struct {
	store    *Store
	registry *Registry
	recorder Recorder
	now      func() time.Time

	events  chan event
	stopped chan struct{}
}

type Option func(*Engine)

// WithRecorder attaches an audit recorder for broadcast log entries.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(store *Store, registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		now:      time.Now,
		events:   make(chan event),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Content returns the current shared content.
func (e *Engine) Content() string {
	return e.store.Get()
}

// Run processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	for {
		select {
		case ev := <-e.events:
			switch ev.kind {
			case eventJoin:
				e.handleJoin(ev.peer)
			case eventFrame:
				e.handleFrame(ctx, ev.peer, ev.raw)
			}
			close(ev.done)
		case <-ctx.Done():
			return nil
		}
	}
}

// Join registers the peer and sends it the current content. It returns once
// the initial sync frame has been queued.
func (e *Engine) Join(ctx context.Context, p Peer) error {
	return e.dispatch(ctx, event{kind: eventJoin, peer: p})
}

// Submit hands an inbound frame to the engine and waits until it has been fully
// processed, including the broadcast it triggers.
func (e *Engine) Submit(ctx context.Context, p Peer, raw []byte) error {
	return e.dispatch(ctx, event{kind: eventFrame, peer: p, raw: raw})
}

// Leave removes the peer from future broadcasts.
func (e *Engine) Leave(p Peer) {
	if e.registry.Unregister(p) {
		slog.Info("client disconnected", "peer", p.ID(), "clients", e.registry.Len())
	}
}

func (e *Engine) dispatch(ctx context.Context, ev event) error {
	ev.done = make(chan struct{})
	select {
	case e.events <- ev:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ev.done:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	}
}

func (e *Engine) handleJoin(p Peer) {
	e.registry.Register(p)
	slog.Info("client connected", "peer", p.ID(), "clients", e.registry.Len())
	frame, err := protocol.Encode(protocol.Update(e.store.Get(), ""))
	if err != nil {
		slog.Error("failed to encode initial sync", "err", err)
		return
	}
	if err := p.Send(frame); err != nil {
		slog.Warn("failed to send initial sync", "peer", p.ID(), "err", err)
	}
}

func (e *Engine) handleFrame(ctx context.Context, from Peer, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("discarding frame", "peer", from.ID(), "err", err)
		return
	}
	if env.Type != protocol.TypeUpdate {
		slog.Debug("ignoring frame", "peer", from.ID(), "type", env.Type)
		return
	}

	e.store.Set(env.Content)

	ts := protocol.FormatTimestamp(e.now())
	entry := protocol.Log(protocol.UpdatedMessage, env.Content, ts)
	updateFrame, err := protocol.Encode(protocol.Update(env.Content, ts))
	if err != nil {
		slog.Error("failed to encode update", "err", err)
		return
	}
	logFrame, err := protocol.Encode(entry)
	if err != nil {
		slog.Error("failed to encode log", "err", err)
		return
	}

	sent := e.broadcast(updateFrame, logFrame)
	slog.Debug("broadcast update", "peer", from.ID(), "recipients", sent, "bytes", len(env.Content))

	if e.recorder != nil {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.recorder.Record(rctx, entry); err != nil {
			slog.Error("failed to record log entry", "err", err)
		}
	}
}

// broadcast sends every frame, in order, to each open peer. A failing peer is
// skipped and does not affect delivery to the others.
func (e *Engine) broadcast(frames ...[]byte) int {
	sent := 0
	e.registry.ForEachOpen(func(p Peer) {
		for _, f := range frames {
			if err := p.Send(f); err != nil {
				slog.Debug("dropping frame for peer", "peer", p.ID(), "err", err)
				return
			}
		}
		sent++
	})
	return sent
}
