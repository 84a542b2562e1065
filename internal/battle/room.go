package battle

import (
	"html"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	appErrors "github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
)

// State is a battle's lifecycle phase. Transitions are one-way:
// Forming -> Active -> Completed.
type State int32

const (
	StateForming State = iota
	StateActive
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateForming:
		return "forming"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

const (
	maxChatMessageLength = 2000
	roomQueueSize        = 256
)

// Room holds all in-memory state for one battle. Every mutation runs on the
// room's single processor goroutine, which drains a per-room inbound queue;
// rooms are independent, so cross-room operations need no coordination.
type Room struct {
	id            string
	questionCount int
	createdAt     time.Time

	manager *Manager
	log     *zap.Logger

	ops       chan func()
	closed    chan struct{}
	closeOnce sync.Once

	// Mirrors maintained for lock-free external reads.
	state       atomic.Int32
	completedAt atomic.Int64
	memberCount atomic.Int32

	// Owned exclusively by the processor goroutine.
	members  map[string]realtime.Identity
	progress *Aggregator
	chat     *chatRing
	deadline *time.Timer
}

func newRoom(manager *Manager, battleID string, questionCount int) *Room {
	r := &Room{
		id:            battleID,
		questionCount: questionCount,
		createdAt:     manager.timeNow(),
		manager:       manager,
		log:           manager.log.With(zap.String("battle_id", battleID)),
		ops:           make(chan func(), roomQueueSize),
		closed:        make(chan struct{}),
		members:       make(map[string]realtime.Identity),
		progress:      NewAggregator(questionCount, manager.cfg.StrictProgress),
		chat:          newChatRing(manager.cfg.ChatHistory),
	}
	r.progress.timeNow = manager.timeNow

	go r.run()
	return r
}

// ID returns the battle id the room is keyed by.
func (r *Room) ID() string { return r.id }

// QuestionCount returns the battle's total question count.
func (r *Room) QuestionCount() int { return r.questionCount }

// CreatedAt returns when the room was created.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// State returns the room's current lifecycle phase.
func (r *Room) State() State { return State(r.state.Load()) }

// CompletedAt returns the terminal transition time, zero while not terminal.
func (r *Room) CompletedAt() time.Time {
	nanos := r.completedAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// MemberCount returns the current number of members.
func (r *Room) MemberCount() int { return int(r.memberCount.Load()) }

func (r *Room) run() {
	for {
		select {
		case fn := <-r.ops:
			fn()
		case <-r.closed:
			return
		}
	}
}

// post schedules fn on the room's processor. Reports false once the room has
// been destroyed.
func (r *Room) post(fn func()) bool {
	select {
	case r.ops <- fn:
		return true
	case <-r.closed:
		return false
	}
}

// call runs fn on the processor and waits for its result.
func (r *Room) call(fn func() error) error {
	done := make(chan error, 1)
	if !r.post(func() { done <- fn() }) {
		return appErrors.ErrNotFound
	}
	select {
	case err := <-done:
		return err
	case <-r.closed:
		return appErrors.ErrNotFound
	}
}

func (r *Room) shutdown() {
	r.closeOnce.Do(func() {
		if r.deadline != nil {
			r.deadline.Stop()
		}
		close(r.closed)
	})
}

// dispatch queues a validated frame for the processor goroutine. Frames from
// one connection arrive here in receive order and are processed in that
// order; interleaving across connections is arbitrary.
func (r *Room) dispatch(from realtime.Identity, frame realtime.InboundFrame) error {
	if !r.post(func() { r.handleFrame(from, frame) }) {
		return appErrors.ErrNotFound
	}
	return nil
}

func (r *Room) handleFrame(from realtime.Identity, frame realtime.InboundFrame) {
	switch frame.Type {
	case realtime.TypeChatMessage:
		r.handleChat(from, frame)
	case realtime.TypeSubmitAnswer:
		r.handleSubmit(from, frame)
	case realtime.TypeStatusUpdate:
		r.handleStatus(from)
	case realtime.TypePowerUp:
		r.handlePowerUp(from, frame)
	}
}

// join runs on the processor goroutine.
func (r *Room) join(identity realtime.Identity) error {
	if r.State() == StateCompleted {
		return appErrors.ErrBattleEnded
	}

	if _, exists := r.members[identity.UserID]; !exists {
		if max := r.manager.cfg.MaxParticipants; max > 0 && len(r.members) >= max {
			return appErrors.ErrBattleFull
		}
		r.members[identity.UserID] = identity
		r.memberCount.Store(int32(len(r.members)))
	}

	progress := r.progress.Seed(identity)

	r.broadcast(realtime.NewFrame(realtime.EventParticipantJoined, r.id, map[string]any{
		"participant": identity,
		"progress":    progress,
	}))
	r.broadcastUpdate()

	// Echo retained chat so a late joiner sees recent discussion.
	for _, msg := range r.chat.History() {
		r.manager.registry.Send(identity.UserID, realtime.NewFrame(realtime.EventChatMessage, r.id, msg))
	}

	return nil
}

// leave runs on the processor goroutine. The returned flag asks the manager
// to destroy the room (only when it empties before the battle starts).
func (r *Room) leave(userID string) (destroy bool, err error) {
	if _, exists := r.members[userID]; !exists {
		return false, appErrors.ErrNotFound
	}

	delete(r.members, userID)
	r.memberCount.Store(int32(len(r.members)))

	if r.State() == StateForming {
		r.progress.Remove(userID)
	} else {
		// Post-start, progress survives so the participant is not scored
		// out by a disconnect; they are only marked inactive.
		r.progress.MarkActive(userID, false)
	}

	r.broadcast(realtime.NewFrame(realtime.EventParticipantLeft, r.id, map[string]any{
		"userId": userID,
	}))

	if r.State() == StateForming && len(r.members) == 0 {
		return true, nil
	}

	// A final submission set may become complete once a holdout leaves.
	if r.State() == StateActive && r.progress.AllFinal(r.memberIDs()) {
		r.complete(ReasonAllFinal)
	}
	return false, nil
}

func (r *Room) handleChat(from realtime.Identity, frame realtime.InboundFrame) {
	content := strings.TrimSpace(frame.Content)
	if content == "" {
		r.manager.ackError(from, r.id, appErrors.NewBadRequest("chat content is required"))
		return
	}
	if utf8.RuneCountInString(content) > maxChatMessageLength {
		r.manager.ackError(from, r.id, appErrors.NewBadRequest("chat content exceeds maximum length"))
		return
	}

	msg := ChatMessage{
		MessageID: uuid.NewString(),
		BattleID:  r.id,
		UserID:    from.UserID,
		Username:  from.Username,
		Content:   html.EscapeString(content),
		SentAt:    r.manager.timeNow(),
	}
	r.chat.Append(msg)

	r.broadcast(realtime.NewFrame(realtime.EventChatMessage, r.id, msg))
}

func (r *Room) handleSubmit(from realtime.Identity, frame realtime.InboundFrame) {
	if r.State() == StateCompleted {
		r.manager.ackError(from, r.id, appErrors.ErrBattleEnded)
		return
	}

	question, ok := payloadInt(frame.Payload, "questionNumber")
	if !ok || question <= 0 {
		r.manager.ackError(from, r.id, appErrors.NewBadRequest("payload.questionNumber is required"))
		return
	}
	answer, _ := frame.Payload["answer"].(string)
	final, _ := frame.Payload["final"].(bool)

	if r.State() == StateForming {
		// First participant reaching the question set activates the battle.
		r.start()
	}

	submittedAt := frame.Timestamp
	if submittedAt.IsZero() {
		submittedAt = r.manager.timeNow()
	}

	result, err := r.progress.RecordSubmission(from.UserID, Submission{
		QuestionNumber: question,
		Answer:         answer,
		SubmittedAt:    submittedAt,
	}, final)
	if err != nil {
		r.manager.ackError(from, r.id, appErrors.FromError(err))
		return
	}
	if !result.Applied {
		// Duplicate or stale retry: state unchanged, nothing to broadcast.
		return
	}

	if result.Flagged {
		r.log.Warn("submission skipped ahead",
			zap.String("user_id", from.UserID),
			zap.Int("question", question),
		)
	}

	r.broadcast(realtime.NewFrame(realtime.EventAnswerSubmitted, r.id, map[string]any{
		"userId":         from.UserID,
		"questionNumber": question,
		"submittedFinal": result.Progress.SubmittedFinal,
		"skippedAhead":   result.Flagged,
	}))
	r.broadcastUpdate()

	if result.Progress.SubmittedFinal && r.progress.AllFinal(r.memberIDs()) {
		r.complete(ReasonAllFinal)
	}
}

func (r *Room) handleStatus(from realtime.Identity) {
	r.progress.Touch(from.UserID)
	if r.progress.MarkActive(from.UserID, true) {
		r.broadcastUpdate()
	}
}

func (r *Room) handlePowerUp(from realtime.Identity, frame realtime.InboundFrame) {
	if r.State() == StateCompleted {
		r.manager.ackError(from, r.id, appErrors.ErrBattleEnded)
		return
	}
	r.broadcast(realtime.NewFrame(realtime.EventPowerUpActivated, r.id, map[string]any{
		"userId":  from.UserID,
		"payload": frame.Payload,
	}))
}

// start runs on the processor goroutine and arms the completion deadline.
func (r *Room) start() {
	if r.State() != StateForming {
		return
	}
	r.state.Store(int32(StateActive))

	deadline := r.manager.cfg.Deadline
	if deadline > 0 {
		r.deadline = time.AfterFunc(deadline, func() {
			r.post(func() { r.complete(ReasonDeadline) })
		})
	}

	r.log.Info("battle started", zap.Int("participants", len(r.members)))
	r.broadcast(realtime.NewFrame(realtime.EventBattleStarted, r.id, map[string]any{
		"questionCount": r.questionCount,
		"deadline":      r.manager.timeNow().Add(deadline),
	}))
}

// complete performs the one-way Active -> Completed transition. It runs on
// the processor goroutine; judging and persistence happen on a separate
// goroutine so chat keeps flowing during the grace period.
func (r *Room) complete(reason string) {
	if r.State() == StateCompleted {
		return
	}
	r.state.Store(int32(StateCompleted))
	r.completedAt.Store(r.manager.timeNow().UnixNano())
	if r.deadline != nil {
		r.deadline.Stop()
	}

	snapshot := r.progress.Snapshot()
	recipients := r.memberIDs()
	r.log.Info("battle completed", zap.String("reason", reason), zap.Int("participants", len(snapshot)))

	go r.manager.finalize(r, snapshot, recipients, reason)
}

// abort runs on the processor goroutine; the manager destroys the room after.
func (r *Room) abort() error {
	if r.State() == StateCompleted {
		return appErrors.ErrBattleEnded
	}
	r.state.Store(int32(StateCompleted))
	r.completedAt.Store(r.manager.timeNow().UnixNano())
	if r.deadline != nil {
		r.deadline.Stop()
	}

	r.broadcast(realtime.NewFrame(realtime.EventConnectionStatus, r.id, realtime.StatusPayload{
		Status:  realtime.StatusAborted,
		Message: "battle aborted",
	}))
	return nil
}

func (r *Room) broadcastUpdate() {
	r.broadcast(realtime.NewFrame(realtime.EventBattleUpdate, r.id, map[string]any{
		"state":        r.State().String(),
		"participants": Rank(r.progress.Snapshot()),
	}))
}

func (r *Room) broadcast(frame realtime.OutboundFrame) {
	r.manager.fanOut(r.memberIDs(), frame)
}

func (r *Room) memberIDs() []string {
	return lo.Keys(r.members)
}

func (r *Room) identities() []realtime.Identity {
	return lo.Values(r.members)
}

func payloadInt(payload map[string]any, key string) (int, bool) {
	value, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
