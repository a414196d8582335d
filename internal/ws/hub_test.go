package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astralink/server/internal/model"
)

// dial connects a test client to the hub as the given user and waits for the
// registration to land.
func dial(t *testing.T, hub *Hub, userID uuid.UUID) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeUser(w, r, userID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return hub.ClientCount(userID) == 1
	}, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_sessionUpdateReachesOwner(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()
	conn := dial(t, hub, userID)

	hub.SessionUpdate(userID, model.SessionEvent{
		UserID:            userID,
		PsychicID:         uuid.New(),
		IsFree:            true,
		RemainingFreeTime: 42,
		Status:            model.StatusFree,
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "sessionUpdate", msg.Type)

	payload, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, userID.String(), payload["userId"])
	assert.Equal(t, float64(42), payload["remainingFreeTime"])
	assert.Equal(t, true, payload["isFree"])
}

func TestHub_roomsAreIsolatedPerUser(t *testing.T) {
	hub := NewHub()
	alice, bob := uuid.New(), uuid.New()
	aliceConn := dial(t, hub, alice)
	bobConn := dial(t, hub, bob)

	hub.CreditsUpdate(alice, model.CreditsEvent{UserID: alice, Credits: 7})

	msg := readMessage(t, aliceConn)
	assert.Equal(t, "creditsUpdate", msg.Type)

	// Bob's connection must stay silent.
	bobConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := bobConn.ReadMessage()
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(t, ok, "expected a timeout, got %v", err)
	assert.True(t, netErr.Timeout())
}

func TestHub_multipleClientsSameUser(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()

	first := dial(t, hub, userID)

	// Second connection for the same user joins the same room.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeUser(w, r, userID)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	require.Eventually(t, func() bool {
		return hub.ClientCount(userID) == 2
	}, time.Second, 5*time.Millisecond)

	hub.CreditsUpdate(userID, model.CreditsEvent{UserID: userID, Credits: 3})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, "creditsUpdate", msg.Type)
	}
}

func TestHub_disconnectEmptiesRoom(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()
	conn := dial(t, hub, userID)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount(userID) == 0
	}, time.Second, 5*time.Millisecond)

	// Broadcasting into an empty room is a no-op, not a panic.
	hub.SessionUpdate(userID, model.SessionEvent{UserID: userID})
}
