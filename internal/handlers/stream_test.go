package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	iauth "github.com/Darkvarin/Learnyzer-sub003/internal/auth"
	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
)

type streamFixture struct {
	server  *httptest.Server
	jwt     *iauth.JWTService
	manager *battle.Manager
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	registry := realtime.NewRegistry()
	manager := battle.NewManager(battle.DefaultConfig(), registry, nil, nil, nil)

	r := gin.New()
	handler := NewStreamHandler(registry, manager, jwt)
	r.GET("/ws/battles", handler.Stream)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &streamFixture{server: server, jwt: jwt, manager: manager}
}

func (f *streamFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	token, err := f.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID, Username: "Tester"})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/battles?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, eventType string) realtime.OutboundFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame realtime.OutboundFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == eventType {
			return frame
		}
	}
	t.Fatalf("never received %s", eventType)
	return realtime.OutboundFrame{}
}

func TestStreamRejectsMissingToken(t *testing.T) {
	f := newStreamFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/battles"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamRejectsBadToken(t *testing.T) {
	f := newStreamFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/battles?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamBattleRoundTrip(t *testing.T) {
	f := newStreamFixture(t)

	_, err := f.manager.Create("b1", 1)
	require.NoError(t, err)

	conn := f.dial(t, "u1")
	hello := readUntil(t, conn, realtime.EventConnectionStatus)
	require.Equal(t, realtime.EventConnectionStatus, hello.Type)

	require.NoError(t, conn.WriteJSON(realtime.InboundFrame{
		Type:     realtime.TypeJoin,
		BattleID: "b1",
		UserID:   "u1",
	}))
	readUntil(t, conn, realtime.EventParticipantJoined)
	readUntil(t, conn, realtime.EventBattleUpdate)

	require.NoError(t, conn.WriteJSON(realtime.InboundFrame{
		Type:     realtime.TypeSubmitAnswer,
		BattleID: "b1",
		UserID:   "u1",
		Payload:  map[string]any{"questionNumber": 1, "answer": "b"},
	}))

	readUntil(t, conn, realtime.EventBattleStarted)
	readUntil(t, conn, realtime.EventAnswerSubmitted)
	completed := readUntil(t, conn, realtime.EventBattleCompleted)
	require.Equal(t, "b1", completed.BattleID)
}

func TestStreamChatBroadcast(t *testing.T) {
	f := newStreamFixture(t)

	_, err := f.manager.Create("b1", 5)
	require.NoError(t, err)

	alice := f.dial(t, "u1")
	bob := f.dial(t, "u2")
	readUntil(t, alice, realtime.EventConnectionStatus)
	readUntil(t, bob, realtime.EventConnectionStatus)

	require.NoError(t, alice.WriteJSON(realtime.InboundFrame{
		Type: realtime.TypeJoin, BattleID: "b1", UserID: "u1",
	}))
	require.NoError(t, bob.WriteJSON(realtime.InboundFrame{
		Type: realtime.TypeJoin, BattleID: "b1", UserID: "u2",
	}))
	readUntil(t, bob, realtime.EventParticipantJoined)

	require.NoError(t, alice.WriteJSON(realtime.InboundFrame{
		Type:     realtime.TypeChatMessage,
		BattleID: "b1",
		UserID:   "u1",
		Content:  "good luck <b>all</b>",
	}))

	msg := readUntil(t, bob, realtime.EventChatMessage)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "u1", payload["userId"])
	// Markup is escaped before the broadcast.
	require.Equal(t, "good luck &lt;b&gt;all&lt;/b&gt;", payload["content"])
}
