package wshub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialHub stands up a hub behind an upgrading handler and returns a
// connected peer.
func dialHub(t *testing.T, hub *Hub, userID int64) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Register(userID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNotifyDeliversEnvelope(t *testing.T) {
	hub := New()
	conn := dialHub(t, hub, 42)

	require.Eventually(t, func() bool { return hub.Connected(42) == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Notify(42, "email.received", map[string]any{"email_id": 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var n Notification
	require.NoError(t, json.Unmarshal(msg, &n))
	assert.Equal(t, "email.received", n.Type)
	data, ok := n.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), data["email_id"])
	_, err = time.Parse(time.RFC3339, n.Time)
	assert.NoError(t, err)
}

func TestTextPingAnsweredWithPong(t *testing.T) {
	hub := New()
	conn := dialHub(t, hub, 7)

	require.Eventually(t, func() bool { return hub.Connected(7) == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "pong", string(msg))
}

func TestNotifyUnknownUserIsNoop(t *testing.T) {
	hub := New()
	hub.Notify(99, "email.received", nil)
	assert.Equal(t, 0, hub.Connected(99))
}
