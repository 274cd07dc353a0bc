package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/text-relay/pkg/relay"
)

type Config struct {
	// ProbeInterval should match the liveness monitor; a peer that has sent
	// nothing and answered no ping for twice this long is dropped.
	ProbeInterval time.Duration
	// SendBuffer is the number of outbound frames queued per peer.
	SendBuffer int
	// ReadLimit caps the size of a single inbound frame.
	ReadLimit int64
	WriteWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProbeInterval: relay.DefaultProbeInterval,
		SendBuffer:    64,
		ReadLimit:     1 << 20,
		WriteWait:     10 * time.Second,
	}
}

// Server accepts websocket connections and hands them to the engine. Any plain
// GET is answered as a health check.
type Server struct {
	engine   *relay.Engine
	config   Config
	upgrader websocket.Upgrader
}

func New(engine *relay.Engine, config Config) *Server {
	d := DefaultConfig()
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = d.ProbeInterval
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = d.SendBuffer
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = d.ReadLimit
	}
	if config.WriteWait <= 0 {
		config.WriteWait = d.WriteWait
	}
	return &Server{
		engine: engine,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers load the editor from a different origin than the relay
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the router with request logging applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).HeadersRegexp("Upgrade", "(?i)^websocket$").HandlerFunc(s.sync)
	r.Methods(http.MethodGet, http.MethodHead).PathPrefix("/").HandlerFunc(s.health)
	return r
}

func (s *Server) health(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/plain")
	writer.WriteHeader(http.StatusOK)
	if request.Method == http.MethodHead {
		return
	}
	if _, err := writer.Write([]byte("OK")); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) sync(writer http.ResponseWriter, request *http.Request) {
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	p := newPeer(conn, s.config.SendBuffer, s.config.WriteWait)
	defer func() {
		_ = p.Close()
		s.engine.Leave(p)
	}()
	go p.writePump()

	ctx := request.Context()
	if err := s.engine.Join(ctx, p); err != nil {
		slog.Error("failed to join", "peer", p.ID(), "err", err)
		return
	}

	err = p.readPump(s.config.ReadLimit, 2*s.config.ProbeInterval, func(raw []byte) error {
		return s.engine.Submit(ctx, p, raw)
	})
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway):
		slog.Debug("client closed", "peer", p.ID(), "code", ce.Code)
	case !p.Open():
		slog.Debug("peer closed locally", "peer", p.ID())
	default:
		slog.Warn("connection failed", "peer", p.ID(), "err", err)
	}
}
