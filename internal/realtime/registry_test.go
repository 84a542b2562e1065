package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []InboundFrame
	idents []Identity
}

func (s *recordingSink) HandleFrame(from Identity, frame InboundFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idents = append(s.idents, from)
	s.frames = append(s.frames, frame)
}

func (s *recordingSink) received() []InboundFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InboundFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

func newStreamServer(t *testing.T, registry *Registry, sink FrameSink, identity Identity) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registry.Serve(identity, sink, w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) OutboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame OutboundFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func statusOf(t *testing.T, frame OutboundFrame) StatusPayload {
	t.Helper()
	require.Equal(t, EventConnectionStatus, frame.Type)
	payload, ok := frame.Payload.(map[string]any)
	require.True(t, ok)
	status, _ := payload["status"].(string)
	code, _ := payload["code"].(string)
	userID, _ := payload["userId"].(string)
	return StatusPayload{Status: status, Code: code, UserID: userID}
}

func TestServeHandshakeAndFrameDelivery(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	identity := Identity{UserID: "u1", Username: "Asha"}
	server := newStreamServer(t, registry, sink, identity)

	conn := dial(t, server)

	hello := statusOf(t, readFrame(t, conn))
	require.Equal(t, StatusConnected, hello.Status)
	require.Equal(t, "u1", hello.UserID)
	require.Equal(t, 1, registry.Count())

	require.NoError(t, conn.WriteJSON(InboundFrame{
		Type:     TypeJoin,
		BattleID: "b1",
		UserID:   "u1",
	}))

	require.Eventually(t, func() bool {
		return len(sink.received()) == 1
	}, time.Second, 10*time.Millisecond)

	frame := sink.received()[0]
	require.Equal(t, TypeJoin, frame.Type)
	require.Equal(t, "b1", frame.BattleID)

	// Server push reaches the client through the registry.
	require.True(t, registry.Send("u1", NewFrame(EventBattleUpdate, "b1", nil)))
	pushed := readFrame(t, conn)
	require.Equal(t, EventBattleUpdate, pushed.Type)
	require.Equal(t, "b1", pushed.BattleID)
}

func TestMalformedFrameAcknowledged(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	server := newStreamServer(t, registry, sink, Identity{UserID: "u1"})

	conn := dial(t, server)
	readFrame(t, conn) // connected notice

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	ack := statusOf(t, readFrame(t, conn))
	require.Equal(t, StatusError, ack.Status)
	require.Equal(t, "BAD_REQUEST", ack.Code)

	// The connection survives and still accepts valid frames.
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: TypeJoin, BattleID: "b1", UserID: "u1"}))
	require.Eventually(t, func() bool {
		return len(sink.received()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestIncompleteFrameRejected(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	server := newStreamServer(t, registry, sink, Identity{UserID: "u1"})

	conn := dial(t, server)
	readFrame(t, conn)

	// Missing battleId fails validation before reaching the sink.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": TypeJoin, "userId": "u1"}))

	ack := statusOf(t, readFrame(t, conn))
	require.Equal(t, StatusError, ack.Status)
	require.Equal(t, "BAD_REQUEST", ack.Code)
	require.Empty(t, sink.received())
}

func TestSupersedeNotifiesOldConnection(t *testing.T) {
	registry := NewRegistry()
	var disconnects []Identity
	var mu sync.Mutex
	registry.OnDisconnect(func(identity Identity) {
		mu.Lock()
		defer mu.Unlock()
		disconnects = append(disconnects, identity)
	})

	sink := &recordingSink{}
	server := newStreamServer(t, registry, sink, Identity{UserID: "u1"})

	first := dial(t, server)
	readFrame(t, first)

	second := dial(t, server)
	readFrame(t, second)

	// The superseded tab is told why it lost the connection.
	replaced := statusOf(t, readFrame(t, first))
	require.Equal(t, StatusReplaced, replaced.Status)

	require.Eventually(t, func() bool {
		return registry.Count() == 1
	}, time.Second, 10*time.Millisecond)

	// The newer connection is authoritative and usable.
	require.True(t, registry.Send("u1", NewFrame(EventBattleUpdate, "b1", nil)))
	pushed := readFrame(t, second)
	require.Equal(t, EventBattleUpdate, pushed.Type)

	// A supersede is not a disconnect; the hook must stay quiet.
	time.Sleep(2 * terminalNoticeFlush)
	mu.Lock()
	require.Empty(t, disconnects)
	mu.Unlock()
}

func TestDisconnectHookFiresOnTransportLoss(t *testing.T) {
	registry := NewRegistry()
	got := make(chan Identity, 1)
	registry.OnDisconnect(func(identity Identity) {
		got <- identity
	})

	sink := &recordingSink{}
	server := newStreamServer(t, registry, sink, Identity{UserID: "u1"})

	conn := dial(t, server)
	readFrame(t, conn)
	require.NoError(t, conn.Close())

	select {
	case identity := <-got:
		require.Equal(t, "u1", identity.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook never fired")
	}

	require.Eventually(t, func() bool {
		return registry.Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSendRacingCloseDoesNotPanic(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	server := newStreamServer(t, registry, sink, Identity{UserID: "u1"})

	frame := NewFrame(EventBattleUpdate, "b1", nil)
	for i := 0; i < 150; i++ {
		conn := dial(t, server)
		readFrame(t, conn)

		live, ok := registry.Get("u1")
		require.True(t, ok)

		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 64; j++ {
					registry.Send("u1", frame)
				}
			}()
		}
		close(start)
		live.close()
		wg.Wait()
		require.NoError(t, conn.Close())

		require.Eventually(t, func() bool {
			return registry.Count() == 0
		}, time.Second, time.Millisecond)
	}
}

func TestSweepIdleClosesStaleConnections(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	server := newStreamServer(t, registry, sink, Identity{UserID: "u1"})

	conn := dial(t, server)
	readFrame(t, conn)

	require.Empty(t, registry.SweepIdle(time.Minute))

	live, ok := registry.Get("u1")
	require.True(t, ok)
	live.lastActive.Store(time.Now().Add(-time.Hour).UnixNano())

	swept := registry.SweepIdle(time.Minute)
	require.Len(t, swept, 1)
	require.Equal(t, "u1", swept[0].UserID)

	notice := statusOf(t, readFrame(t, conn))
	require.Equal(t, StatusDisconnected, notice.Status)

	require.Eventually(t, func() bool {
		return registry.Count() == 0
	}, time.Second, 10*time.Millisecond)
}
