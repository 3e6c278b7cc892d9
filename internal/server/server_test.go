package server

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
}

func (h *recordingHandler) Handle(msg Message, hub *Hub) {
	h.mu.Lock()
	h.seen = append(h.seen, string(msg.Raw))
	h.mu.Unlock()
	hub.Broadcast(NewMessage("ack", string(msg.Raw)))
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSyncAndCommands(t *testing.T) {
	s := NewServer("0", t.TempDir(), nil, func() []Message {
		return []Message{NewMessage("state", map[string]int{"brightness": 2})}
	})
	h := &recordingHandler{}
	s.SetHandler(h)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Hub.Stop()

	conn := dial(t, ts)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first.Type)

	require.Eventually(t, func() bool { return s.Hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"setBrightness","payload":{"value":1}}`)))
	var ack Message
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, 1, h.count())
}

func TestOriginCheck(t *testing.T) {
	s := NewServer("0", t.TempDir(), []string{"http://allowed.example"}, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Hub.Stop()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"http://evil.example"}})
	assert.Error(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestBroadcastAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub()
	go h.Run()
	h.Stop()

	done := make(chan struct{})
	go func() {
		h.Broadcast(NewMessage("state", nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked after stop")
	}
}
