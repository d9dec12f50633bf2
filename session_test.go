package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a relay loop and a test server around it.
func startServer(t *testing.T, cfg *Config) (*httptest.Server, *Relay) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 64)
	relay := newRelay(cfg, newRegistry())
	go relay.run(ctx)
	go drainErrors(ctx, cfg, errs)

	server := httptest.NewServer(newRouter(cfg, relay, errs))

	t.Cleanup(func() {
		cancel()
		<-relay.done
		server.Close()
	})

	return server, relay
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func waitForMembers(t *testing.T, relay *Relay, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		n, err := relay.memberCount(context.Background())
		return err == nil && n == want
	}, 2*time.Second, 10*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)

	return string(data)
}

func TestChannelBroadcastsToBothClients(t *testing.T) {
	server, relay := startServer(t, testConfig())

	a := dial(t, server)
	b := dial(t, server)
	waitForMembers(t, relay, 2)

	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"circuit_update","data":{"gates":[{"id":1,"type":"AND"}]}}`)))

	want := `{"event":"circuit_state","data":{"gates":[{"id":1,"type":"AND"}]}}`
	assert.Equal(t, want, readFrame(t, a))
	assert.Equal(t, want, readFrame(t, b))
}

func TestChannelIgnoresJunkAndKeepsRelaying(t *testing.T) {
	server, relay := startServer(t, testConfig())

	a := dial(t, server)
	waitForMembers(t, relay, 1)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte(`{"event":"circuit_update","data":1}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"event":"chat","data":"hi"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"event":"circuit_update","data":{"wires":[]}}`)))

	assert.Equal(t, `{"event":"circuit_state","data":{"wires":[]}}`, readFrame(t, a))
}

func TestChannelDisconnectDeregisters(t *testing.T) {
	server, relay := startServer(t, testConfig())

	a := dial(t, server)
	b := dial(t, server)
	waitForMembers(t, relay, 2)

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()
	waitForMembers(t, relay, 1)

	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(`{"event":"circuit_update","data":{"n":2}}`)))
	assert.Equal(t, `{"event":"circuit_state","data":{"n":2}}`, readFrame(t, b))
}

func TestChannelOversizedFrameEndsSession(t *testing.T) {
	cfg := testConfig()
	cfg.maxMessageSize = 64
	server, relay := startServer(t, cfg)

	a := dial(t, server)
	waitForMembers(t, relay, 1)

	big := `{"event":"circuit_update","data":"` + strings.Repeat("x", 128) + `"}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(big)))

	waitForMembers(t, relay, 0)
}
