package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"woodland-client/internal/ws"
	appErr "woodland-client/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type creds struct{ token string }

func (c creds) Credential() (string, error) {
	if c.token == "" {
		return "", appErr.ErrMissingCredential
	}
	return c.token, nil
}

type countingBus struct {
	mu  sync.Mutex
	all int
	hit chan struct{}
}

func newCountingBus() *countingBus {
	return &countingBus{hit: make(chan struct{}, 16)}
}

func (b *countingBus) InvalidateAll(context.Context) {
	b.mu.Lock()
	b.all++
	b.mu.Unlock()
	b.hit <- struct{}{}
}

func (b *countingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.all
}

// gameSocket mimics the server consumer: the first message must authenticate.
type gameSocket struct {
	conns    chan *websocket.Conn
	authMsgs chan map[string]string
	closed   chan struct{}
}

func newGameSocket(t *testing.T) (*gameSocket, *httptest.Server) {
	t.Helper()
	gs := &gameSocket{
		conns:    make(chan *websocket.Conn, 4),
		authMsgs: make(chan map[string]string, 4),
		closed:   make(chan struct{}, 4),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/game/7/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			gs.closed <- struct{}{}
			conn.Close()
			return
		}
		var msg map[string]string
		_ = json.Unmarshal(data, &msg)
		gs.authMsgs <- msg
		if msg["type"] != "authenticate" || msg["token"] != "good" {
			conn.Close()
			return
		}
		_ = conn.WriteJSON(map[string]string{"type": "authenticated"})
		gs.conns <- conn
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return gs, srv
}

func waitHit(t *testing.T, b *countingBus) {
	t.Helper()
	select {
	case <-b.hit:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected invalidation")
	}
}

func TestChannelURL(t *testing.T) {
	ch, err := ws.NewChannel("https://root.example", 7, creds{}, newCountingBus(), nil, ws.Options{})
	require.NoError(t, err)
	assert.Equal(t, "wss://root.example/ws/game/7/", ch.URL())
}

func TestAuthenticateThenUpdateInvalidates(t *testing.T) {
	gs, srv := newGameSocket(t)
	bus := newCountingBus()
	ch, err := ws.NewChannel(srv.URL, 7, creds{token: "good"}, bus, nil, ws.Options{})
	require.NoError(t, err)

	ch.Start(context.Background())
	defer ch.Close()

	msg := <-gs.authMsgs
	assert.Equal(t, map[string]string{"type": "authenticate", "token": "good"}, msg)

	conn := <-gs.conns
	require.Eventually(t, func() bool { return ch.Status() == ws.StatusLive }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, bus.count(), "authentication alone must not invalidate")

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "update"}))
	waitHit(t, bus)
	assert.Equal(t, 1, bus.count())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "message": "hello"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "update"}))
	waitHit(t, bus)
	assert.Equal(t, 2, bus.count())
}

func TestMissingCredentialClosesImmediately(t *testing.T) {
	gs, srv := newGameSocket(t)
	bus := newCountingBus()
	ch, err := ws.NewChannel(srv.URL, 7, creds{}, bus, nil, ws.Options{Reconnect: true, InitialBackoff: time.Millisecond})
	require.NoError(t, err)

	ch.Start(context.Background())
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("channel should stop without a credential")
	}
	select {
	case <-gs.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("server should see the socket closed before any message")
	}
	assert.Equal(t, ws.StatusClosed, ch.Status())
	assert.Zero(t, bus.count())
}

func TestReconnectResynchronizes(t *testing.T) {
	gs, srv := newGameSocket(t)
	bus := newCountingBus()
	ch, err := ws.NewChannel(srv.URL, 7, creds{token: "good"}, bus, nil, ws.Options{
		Reconnect:      true,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})
	require.NoError(t, err)
	ch.Start(context.Background())
	defer ch.Close()

	first := <-gs.conns
	<-gs.authMsgs
	require.NoError(t, first.Close())

	select {
	case second := <-gs.conns:
		defer second.Close()
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a reconnect")
	}
	waitHit(t, bus)
	require.Eventually(t, func() bool { return ch.Status() == ws.StatusLive }, 2*time.Second, 5*time.Millisecond)
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	gs, srv := newGameSocket(t)
	ch, err := ws.NewChannel(srv.URL, 7, creds{token: "good"}, newCountingBus(), nil, ws.Options{Reconnect: false})
	require.NoError(t, err)
	ch.Start(context.Background())

	conn := <-gs.conns
	require.NoError(t, conn.Close())

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("channel should stop after the server closed it")
	}
	assert.Equal(t, ws.StatusClosed, ch.Status())
}
