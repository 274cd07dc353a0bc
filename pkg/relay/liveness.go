package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is how often every open peer is pinged.
const DefaultProbeInterval = 30 * time.Second

// Monitor periodically pings every open peer. A peer whose ping fails is closed,
// which ends its read loop and removes it from the registry.
type Monitor struct {
	registry *Registry
	interval time.Duration
}

func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{registry: registry, interval: interval}
}

// MonitorHandle stops a running monitor.
type MonitorHandle struct {
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

// Stop cancels the probe loop and waits for it to exit. It is safe to call more than once.
func (h *MonitorHandle) Stop() {
	h.cancel()
	h.wg.Wait()
}

// Start runs the probe loop in the background until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) *MonitorHandle {
	ctx, cancel := context.WithCancel(ctx)
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(m.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.ProbeAll()
			case <-ctx.Done():
				return
			}
		}
	}()
	return &MonitorHandle{cancel: cancel, wg: wg}
}

// ProbeAll pings every open peer once and returns how many probes failed.
func (m *Monitor) ProbeAll() int {
	failed := 0
	m.registry.ForEachOpen(func(p Peer) {
		if err := p.Ping(); err != nil {
			failed++
			slog.Warn("liveness probe failed, pruning peer", "peer", p.ID(), "err", err)
			if err := p.Close(); err != nil {
				slog.Debug("failed to close pruned peer", "peer", p.ID(), "err", err)
			}
		}
	})
	return failed
}
