package realtime

import "time"

// Inbound frame types accepted from battle participants.
const (
	TypeJoin         = "join"
	TypeChatMessage  = "chat_message"
	TypeSubmitAnswer = "submit_answer"
	TypeStatusUpdate = "status_update"
	TypePowerUp      = "activate_power_up"
	TypeLeave        = "leave"
)

// Outbound frame types pushed to battle participants.
const (
	EventBattleUpdate      = "battle_update"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventBattleStarted     = "battle_started"
	EventBattleCompleted   = "battle_completed"
	EventChatMessage       = "chat_message"
	EventAnswerSubmitted   = "answer_submitted"
	EventPowerUpActivated  = "power_up_activated"
	EventConnectionStatus  = "connection_status"
)

// Connection status values carried in connection_status payloads. The web
// client's reconnection supervisor keys its behaviour off these strings.
const (
	StatusConnected    = "connected"
	StatusReplaced     = "replaced"
	StatusDisconnected = "disconnected"
	StatusAborted      = "aborted"
	StatusError        = "error"
)

var inboundTypes = map[string]struct{}{
	TypeJoin:         {},
	TypeChatMessage:  {},
	TypeSubmitAnswer: {},
	TypeStatusUpdate: {},
	TypePowerUp:      {},
	TypeLeave:        {},
}

// KnownInboundType reports whether the frame type belongs to the protocol.
func KnownInboundType(frameType string) bool {
	_, ok := inboundTypes[frameType]
	return ok
}

// Identity is the authenticated, stable reference to a user. It is supplied
// by the platform auth service and immutable for the life of a connection.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// InboundFrame is the shape every client message must follow.
type InboundFrame struct {
	Type      string         `json:"type" validate:"required"`
	BattleID  string         `json:"battleId" validate:"required"`
	UserID    string         `json:"userId" validate:"required"`
	Username  string         `json:"username,omitempty"`
	Content   string         `json:"content,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// OutboundFrame is the envelope for every server push.
type OutboundFrame struct {
	Type      string    `json:"type"`
	BattleID  string    `json:"battleId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusPayload is the payload of connection_status frames.
type StatusPayload struct {
	Status  string `json:"status"`
	UserID  string `json:"userId,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewFrame builds an outbound frame stamped with the current time.
func NewFrame(event, battleID string, payload any) OutboundFrame {
	return OutboundFrame{
		Type:      event,
		BattleID:  battleID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// FrameSink consumes validated inbound frames in the order the connection
// received them. Implementations must tolerate arbitrary interleaving across
// different connections.
type FrameSink interface {
	HandleFrame(from Identity, frame InboundFrame)
}
