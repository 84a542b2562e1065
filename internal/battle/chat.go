package battle

import "time"

// ChatMessage is an ephemeral room chat entry. History lives in a bounded
// in-memory ring and is echoed to late joiners; it is deliberately not
// durable.
type ChatMessage struct {
	MessageID string    `json:"messageId"`
	BattleID  string    `json:"battleId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sentAt"`
}

type chatRing struct {
	buf  []ChatMessage
	next int
	full bool
}

func newChatRing(capacity int) *chatRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &chatRing{buf: make([]ChatMessage, capacity)}
}

func (r *chatRing) Append(msg ChatMessage) {
	r.buf[r.next] = msg
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// History returns the retained messages in chronological order.
func (r *chatRing) History() []ChatMessage {
	if !r.full {
		out := make([]ChatMessage, r.next)
		copy(out, r.buf[:r.next])
		return out
	}

	out := make([]ChatMessage, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *chatRing) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}
