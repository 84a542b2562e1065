package realtime

import (
	"hash/fnv"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Darkvarin/Learnyzer-sub003/pkg/logger"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/metrics"
)

const stripeCount = 32

// Registry maps an authenticated identity to at most one live transport
// connection and owns the send/close primitives for it. A newer connection
// for the same identity supersedes the older one; the older socket receives a
// "replaced" notice before it is closed so a stale browser tab can show a
// clear message instead of silently going dark.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	stripes [stripeCount]sync.Mutex

	upgrader     websocket.Upgrader
	onDisconnect func(Identity)
	log          *zap.Logger
}

// NewRegistry constructs a connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
		log: logger.WithModule("realtime"),
	}
}

// OnDisconnect installs a hook invoked whenever an authoritative connection
// goes away without being superseded. Must be set before Serve is called.
func (r *Registry) OnDisconnect(fn func(Identity)) {
	r.onDisconnect = fn
}

// Serve upgrades the HTTP request to a WebSocket, registers the identity and
// runs the connection's read loop until the transport closes.
func (r *Registry) Serve(identity Identity, sink FrameSink, w http.ResponseWriter, req *http.Request) {
	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("upgrade failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}

	conn := r.Register(identity, socket, sink)
	conn.Send(NewFrame(EventConnectionStatus, "", StatusPayload{
		Status: StatusConnected,
		UserID: identity.UserID,
	}))

	go conn.writeLoop()
	conn.readLoop()
}

// Register records the connection as the authoritative one for the identity.
// Any existing connection for the same identity is sent a replaced notice and
// closed. The per-identity stripe lock keeps supersede sequences serialised
// without blocking registrations for other identities.
func (r *Registry) Register(identity Identity, socket *websocket.Conn, sink FrameSink) *Connection {
	lock := r.stripe(identity.UserID)
	lock.Lock()
	defer lock.Unlock()

	conn := newConnection(r, socket, identity, sink)

	r.mu.Lock()
	old := r.conns[identity.UserID]
	r.conns[identity.UserID] = conn
	r.mu.Unlock()

	metrics.ActiveConnections.Inc()

	if old != nil {
		r.log.Info("superseding connection", zap.String("user_id", identity.UserID))
		old.shutdownWithStatus(StatusPayload{
			Status:  StatusReplaced,
			UserID:  identity.UserID,
			Message: "connected elsewhere",
		})
	}

	return conn
}

// Send delivers a frame to the identity's authoritative connection.
// It reports false when the user has no live connection.
func (r *Registry) Send(userID string, frame OutboundFrame) bool {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return conn.Send(frame)
}

// Get returns the authoritative connection for the identity, if any.
func (r *Registry) Get(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// CloseAll terminates the identity's live connection, if any.
func (r *Registry) CloseAll(userID string) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()

	if ok {
		conn.close()
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SweepIdle closes connections without any activity for longer than the
// timeout and returns the identities that were disconnected. Progress for
// those identities is retained by their rooms for late rejoin.
func (r *Registry) SweepIdle(timeout time.Duration) []Identity {
	if timeout <= 0 {
		return nil
	}
	threshold := time.Now().Add(-timeout)

	r.mu.RLock()
	var idle []*Connection
	for _, conn := range r.conns {
		if conn.LastActive().Before(threshold) {
			idle = append(idle, conn)
		}
	}
	r.mu.RUnlock()

	identities := make([]Identity, 0, len(idle))
	for _, conn := range idle {
		identities = append(identities, conn.Identity())
		conn.shutdownWithStatus(StatusPayload{
			Status:  StatusDisconnected,
			UserID:  conn.identity.UserID,
			Message: "idle timeout",
		})
	}
	return identities
}

// unregister removes the connection if it is still the authoritative one for
// its identity. A superseded connection closing late never evicts its
// replacement, and never reports the identity as disconnected.
func (r *Registry) unregister(c *Connection) {
	r.mu.Lock()
	current, ok := r.conns[c.identity.UserID]
	authoritative := ok && current == c
	if authoritative {
		delete(r.conns, c.identity.UserID)
	}
	r.mu.Unlock()

	metrics.ActiveConnections.Dec()

	if authoritative && r.onDisconnect != nil {
		r.onDisconnect(c.identity)
	}
}

func (r *Registry) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.stripes[h.Sum32()%stripeCount]
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
