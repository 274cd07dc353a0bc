package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/text-relay/pkg/protocol"
	"github.com/astromechza/text-relay/pkg/relay"
)

func startServer(t *testing.T, config Config) (*httptest.Server, *relay.Registry) {
	t.Helper()
	reg := relay.NewRegistry()
	engine := relay.NewEngine(relay.NewStore(), reg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()
	ts := httptest.NewServer(New(engine, config).Handler())
	t.Cleanup(func() {
		reg.CloseAll()
		ts.Close()
		cancel()
		<-done
	})
	return ts, reg
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(raw)
	require.NoError(t, err)
	return env
}

func TestHealth(t *testing.T) {
	ts, _ := startServer(t, Config{})

	for _, path := range []string{"/", "/healthz", "/anything/else"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "OK", string(body))
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	}
}

func TestSync_InitialUpdateAndBroadcast(t *testing.T) {
	ts, reg := startServer(t, Config{})

	a := dial(t, ts)
	assert.Equal(t, protocol.Update("", ""), readEnvelope(t, a))
	b := dial(t, ts)
	assert.Equal(t, protocol.Update("", ""), readEnvelope(t, b))
	assert.Eventually(t, func() bool { return reg.Len() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"update","content":"hello"}`)))

	for _, conn := range []*websocket.Conn{a, b} {
		upd := readEnvelope(t, conn)
		lg := readEnvelope(t, conn)
		assert.Equal(t, protocol.TypeUpdate, upd.Type)
		assert.Equal(t, "hello", upd.Content)
		assert.NotEmpty(t, upd.Timestamp)
		assert.Equal(t, protocol.Log(protocol.UpdatedMessage, "hello", upd.Timestamp), lg)
	}

	c := dial(t, ts)
	assert.Equal(t, protocol.Update("hello", ""), readEnvelope(t, c))
}

func TestSync_MalformedInputKeepsConnection(t *testing.T) {
	ts, _ := startServer(t, Config{})
	a := dial(t, ts)
	readEnvelope(t, a)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"update","content":"still here"}`)))

	upd := readEnvelope(t, a)
	assert.Equal(t, "still here", upd.Content)
}

func TestSync_DisconnectUnregisters(t *testing.T) {
	ts, reg := startServer(t, Config{})
	a := dial(t, ts)
	readEnvelope(t, a)
	b := dial(t, ts)
	readEnvelope(t, b)
	require.Eventually(t, func() bool { return reg.Len() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = b.Close()
	assert.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"update","content":"x"}`)))
	assert.Equal(t, "x", readEnvelope(t, a).Content)
}

func TestSync_SilentPeerIsPruned(t *testing.T) {
	ts, reg := startServer(t, Config{ProbeInterval: 50 * time.Millisecond})
	a := dial(t, ts)
	readEnvelope(t, a)
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)

	// the client sends nothing and answers no pings, so the read deadline lapses
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPeer_FullQueueClosesPeer(t *testing.T) {
	peers := make(chan *peer, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		peers <- newPeer(conn, 1, time.Second)
	}))
	defer ts.Close()
	_ = dial(t, ts)

	p := <-peers
	require.NoError(t, p.Send([]byte(`{}`)))
	err := p.Send([]byte(`{}`))
	assert.ErrorIs(t, err, errSendQueueFull)
	assert.False(t, p.Open())
	assert.ErrorIs(t, p.Send([]byte(`{}`)), relay.ErrPeerClosed)
	assert.ErrorIs(t, p.Ping(), relay.ErrPeerClosed)
}
