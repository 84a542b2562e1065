package battle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	appErrors "github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/logger"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/metrics"
)

// Config tunes battle room behaviour.
type Config struct {
	// Deadline is the wall-clock limit after a battle starts; when it
	// elapses the battle completes with whatever progress exists.
	Deadline time.Duration
	// GracePeriod keeps a completed room alive for chat and late result
	// fetches before it is destroyed.
	GracePeriod time.Duration
	// StaleFormingAge destroys rooms that were created but never joined.
	StaleFormingAge time.Duration
	MaxParticipants int
	ChatHistory     int
	// StrictProgress rejects submissions that skip ahead by more than one
	// question instead of flagging them.
	StrictProgress    bool
	FanoutConcurrency int
	JudgeTimeout      time.Duration
	JudgeBackoff      realtime.BackoffPolicy
}

// DefaultConfig returns the tuning the server ships with.
func DefaultConfig() Config {
	return Config{
		Deadline:          10 * time.Minute,
		GracePeriod:       2 * time.Minute,
		StaleFormingAge:   30 * time.Minute,
		MaxParticipants:   8,
		ChatHistory:       100,
		FanoutConcurrency: 8,
		JudgeTimeout:      5 * time.Second,
		JudgeBackoff:      realtime.DefaultBackoffPolicy(),
	}
}

// Manager owns the set of battles in progress. It implements
// realtime.FrameSink: every validated inbound frame lands here and is routed
// to the target room's processor queue.
type Manager struct {
	cfg         Config
	registry    *realtime.Registry
	entitlement EntitlementChecker
	judge       Judge
	store       ResultStore
	log         *zap.Logger
	timeNow     func() time.Time

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager wires the room manager with its external collaborators. A nil
// entitlement checker admits everyone; a nil judge finalizes from last-known
// progress; a nil store skips persistence.
func NewManager(cfg Config, registry *realtime.Registry, entitlement EntitlementChecker, judge Judge, store ResultStore) *Manager {
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = 8
	}
	if cfg.ChatHistory <= 0 {
		cfg.ChatHistory = 100
	}

	m := &Manager{
		cfg:         cfg,
		registry:    registry,
		entitlement: entitlement,
		judge:       judge,
		store:       store,
		log:         logger.WithModule("battle"),
		timeNow:     time.Now,
		rooms:       make(map[string]*Room),
	}

	if registry != nil {
		registry.OnDisconnect(m.MarkInactive)
	}
	return m
}

// Create registers a new room for the battle id. An empty id is assigned one.
func (m *Manager) Create(battleID string, questionCount int) (*Room, error) {
	if battleID == "" {
		battleID = uuid.NewString()
	}
	if questionCount <= 0 {
		return nil, appErrors.NewBadRequest("question count must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[battleID]; exists {
		return nil, appErrors.ErrBattleExists
	}

	room := newRoom(m, battleID, questionCount)
	m.rooms[battleID] = room
	metrics.ActiveBattles.Set(float64(len(m.rooms)))

	m.log.Info("room created", zap.String("battle_id", battleID), zap.Int("questions", questionCount))
	return room, nil
}

// Get returns the room for the battle id, or NotFound. Joining a battle id
// that was never created is surfaced to the caller, never silently ignored.
func (m *Manager) Get(battleID string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[battleID]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return room, nil
}

// Join adds the identity to the battle's room after the entitlement gate
// passes. A terminal battle rejects the join with BattleAlreadyEnded.
func (m *Manager) Join(ctx context.Context, battleID string, identity realtime.Identity) error {
	room, err := m.Get(battleID)
	if err != nil {
		return err
	}

	if m.entitlement != nil {
		if err := m.entitlement.CanJoin(ctx, identity, battleID); err != nil {
			return appErrors.ErrEntitlementDenied.WithInternal(err)
		}
	}

	return room.call(func() error { return room.join(identity) })
}

// Leave removes the identity's membership. Emptying a room before the battle
// starts destroys it immediately; afterwards the room is retained until
// finalization.
func (m *Manager) Leave(battleID, userID string) error {
	room, err := m.Get(battleID)
	if err != nil {
		return err
	}

	var destroy bool
	err = room.call(func() error {
		var leaveErr error
		destroy, leaveErr = room.leave(userID)
		return leaveErr
	})
	if err != nil {
		return err
	}

	if destroy {
		m.destroy(battleID)
	}
	return nil
}

// Members returns a snapshot of the room's member identities.
func (m *Manager) Members(battleID string) ([]realtime.Identity, error) {
	room, err := m.Get(battleID)
	if err != nil {
		return nil, err
	}

	var members []realtime.Identity
	err = room.call(func() error {
		members = room.identities()
		return nil
	})
	return members, err
}

// Start activates a battle through the explicit external start signal.
func (m *Manager) Start(battleID string) error {
	room, err := m.Get(battleID)
	if err != nil {
		return err
	}
	return room.call(func() error {
		if room.State() == StateCompleted {
			return appErrors.ErrBattleEnded
		}
		room.start()
		return nil
	})
}

// Abort cancels a battle before resolution, notifies all members and tears
// the room down. Nothing is judged or persisted.
func (m *Manager) Abort(battleID string) error {
	room, err := m.Get(battleID)
	if err != nil {
		return err
	}

	if err := room.call(room.abort); err != nil {
		return err
	}

	metrics.BattlesFinalized.WithLabelValues(ReasonAborted).Inc()
	m.destroy(battleID)
	return nil
}

// BattleSnapshot is the live progress view polled by the UI layer.
type BattleSnapshot struct {
	BattleID      string      `json:"battleId"`
	State         string      `json:"state"`
	QuestionCount int         `json:"questionCount"`
	Participants  []RankEntry `json:"participants"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// ProgressSnapshot returns the current progress and derived ranking for the
// battle. Reconnecting clients resync from this instead of replaying frames.
func (m *Manager) ProgressSnapshot(battleID string) (*BattleSnapshot, error) {
	room, err := m.Get(battleID)
	if err != nil {
		return nil, err
	}

	snapshot := &BattleSnapshot{
		BattleID:      battleID,
		QuestionCount: room.QuestionCount(),
		UpdatedAt:     m.timeNow(),
	}
	err = room.call(func() error {
		snapshot.State = room.State().String()
		snapshot.Participants = Rank(room.progress.Snapshot())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// MarkInactive reacts to transport loss and idle timeouts. Before a battle
// starts the reservation is released immediately; once started the member is
// only flagged inactive so their progress survives a reconnect.
func (m *Manager) MarkInactive(identity realtime.Identity) {
	m.mu.RLock()
	rooms := lo.Values(m.rooms)
	m.mu.RUnlock()

	for _, room := range rooms {
		r := room
		r.post(func() {
			if _, member := r.members[identity.UserID]; !member {
				return
			}

			if r.State() == StateForming {
				if destroy, err := r.leave(identity.UserID); err == nil && destroy {
					m.destroy(r.id)
				}
				return
			}

			if r.progress.MarkActive(identity.UserID, false) {
				r.broadcast(realtime.NewFrame(realtime.EventConnectionStatus, r.id, realtime.StatusPayload{
					Status: realtime.StatusDisconnected,
					UserID: identity.UserID,
				}))
			}
		})
	}
}

// HandleFrame implements realtime.FrameSink. Protocol violations are
// acknowledged back to the sender and dropped; they never terminate the
// connection or the room.
func (m *Manager) HandleFrame(from realtime.Identity, frame realtime.InboundFrame) {
	if !realtime.KnownInboundType(frame.Type) {
		metrics.FramesTotal.WithLabelValues("unknown", "rejected").Inc()
		m.ackError(from, frame.BattleID, appErrors.ErrUnknownMessageType)
		return
	}

	if frame.UserID != from.UserID {
		metrics.FramesTotal.WithLabelValues(frame.Type, "rejected").Inc()
		m.log.Warn("identity mismatch",
			zap.String("claimed", frame.UserID),
			zap.String("authenticated", from.UserID),
		)
		m.ackError(from, frame.BattleID, appErrors.ErrIdentityMismatch)
		return
	}

	var err error
	switch frame.Type {
	case realtime.TypeJoin:
		err = m.Join(context.Background(), frame.BattleID, from)
	case realtime.TypeLeave:
		err = m.Leave(frame.BattleID, from.UserID)
	default:
		var room *Room
		if room, err = m.Get(frame.BattleID); err == nil {
			err = room.dispatch(from, frame)
		}
	}

	if err != nil {
		metrics.FramesTotal.WithLabelValues(frame.Type, "rejected").Inc()
		m.ackError(from, frame.BattleID, appErrors.FromError(err))
		return
	}
	metrics.FramesTotal.WithLabelValues(frame.Type, "accepted").Inc()
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// SweepExpired destroys completed rooms whose grace period has elapsed and
// forming rooms that were never joined. Returns how many were removed.
func (m *Manager) SweepExpired() int {
	now := m.timeNow()

	m.mu.RLock()
	var expired []string
	for id, room := range m.rooms {
		switch room.State() {
		case StateCompleted:
			if completedAt := room.CompletedAt(); !completedAt.IsZero() && now.Sub(completedAt) > m.cfg.GracePeriod {
				expired = append(expired, id)
			}
		case StateForming:
			if room.MemberCount() == 0 && m.cfg.StaleFormingAge > 0 && now.Sub(room.CreatedAt()) > m.cfg.StaleFormingAge {
				expired = append(expired, id)
			}
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.destroy(id)
	}
	return len(expired)
}

func (m *Manager) destroy(battleID string) {
	m.mu.Lock()
	room, ok := m.rooms[battleID]
	if ok {
		delete(m.rooms, battleID)
	}
	metrics.ActiveBattles.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	if ok {
		room.shutdown()
		m.log.Info("room destroyed", zap.String("battle_id", battleID))
	}
}

// fanOut delivers a frame to each recipient's authoritative connection,
// dispatching concurrently with bounded parallelism so one slow socket
// cannot stall the room. Members without a live connection miss the frame;
// progress is resynced from the snapshot endpoint instead of replay.
func (m *Manager) fanOut(userIDs []string, frame realtime.OutboundFrame) {
	if m.registry == nil || len(userIDs) == 0 {
		return
	}

	start := time.Now()
	sem := make(chan struct{}, m.cfg.FanoutConcurrency)
	var wg sync.WaitGroup

	for _, userID := range userIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			m.registry.Send(id, frame)
		}(userID)
	}
	wg.Wait()

	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
}

func (m *Manager) ackError(to realtime.Identity, battleID string, appErr *appErrors.AppError) {
	if m.registry == nil || appErr == nil {
		return
	}
	m.registry.Send(to.UserID, realtime.NewFrame(realtime.EventConnectionStatus, battleID, realtime.StatusPayload{
		Status:  realtime.StatusError,
		Code:    appErr.Code,
		Message: appErr.Message,
	}))
}
