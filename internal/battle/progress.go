package battle

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	appErrors "github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
)

// Submission is one accepted answer submission.
type Submission struct {
	QuestionNumber int       `json:"questionNumber"`
	Answer         string    `json:"answer,omitempty"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// ParticipantProgress tracks one participant's position within a battle's
// question sequence. The current question number never decreases.
type ParticipantProgress struct {
	UserID          string    `json:"userId"`
	Username        string    `json:"username,omitempty"`
	Avatar          string    `json:"avatar,omitempty"`
	CurrentQuestion int       `json:"currentQuestion"`
	Completed       int       `json:"completed"`
	Score           int       `json:"score"`
	LastUpdate      time.Time `json:"lastUpdate"`
	SubmittedFinal  bool      `json:"submittedFinal"`
	SkippedAhead    bool      `json:"skippedAhead,omitempty"`
	Active          bool      `json:"active"`
	JoinedAt        time.Time `json:"joinedAt"`

	Submissions []Submission `json:"-"`
}

// RankEntry is the derived standing for one participant. It is recomputed
// from the full progress set on every update, never persisted incrementally.
type RankEntry struct {
	Rank            int    `json:"rank"`
	UserID          string `json:"userId"`
	Username        string `json:"username,omitempty"`
	Avatar          string `json:"avatar,omitempty"`
	CurrentQuestion int    `json:"currentQuestion"`
	Completed       int    `json:"completed"`
	Score           int    `json:"score"`
	IsLeading       bool   `json:"isLeading"`
	QuestionsBehind int    `json:"questionsBehind"`
	SubmittedFinal  bool   `json:"submittedFinal"`
	Active          bool   `json:"active"`
}

// SubmissionResult reports how a submission affected the stored progress.
type SubmissionResult struct {
	Progress ParticipantProgress
	Applied  bool
	Flagged  bool // question advanced by more than one
}

// Aggregator owns all ParticipantProgress records for one battle. It is not
// safe for concurrent use; the owning room serialises access through its
// processor goroutine.
type Aggregator struct {
	questionCount int
	strict        bool
	timeNow       func() time.Time
	records       map[string]*ParticipantProgress
}

// NewAggregator builds an aggregator for a battle with the given question
// count. When strict is set, submissions that skip ahead by more than one
// question are rejected instead of flagged.
func NewAggregator(questionCount int, strict bool) *Aggregator {
	return &Aggregator{
		questionCount: questionCount,
		strict:        strict,
		timeNow:       time.Now,
		records:       make(map[string]*ParticipantProgress),
	}
}

// Seed creates the progress record for a joining participant. Rejoining
// reactivates the existing record without resetting any progress.
func (a *Aggregator) Seed(identity realtime.Identity) ParticipantProgress {
	if record, ok := a.records[identity.UserID]; ok {
		record.Active = true
		return *record
	}

	now := a.timeNow()
	record := &ParticipantProgress{
		UserID:     identity.UserID,
		Username:   identity.Username,
		Avatar:     identity.Avatar,
		Active:     true,
		JoinedAt:   now,
		LastUpdate: now,
	}
	a.records[identity.UserID] = record
	return *record
}

// RecordSubmission applies a submission to the participant's progress.
// Duplicates and late retries (question number at or below the current one)
// are a no-op returning the unchanged state. A jump of more than one question
// is accepted but flagged, unless the aggregator runs in strict mode.
func (a *Aggregator) RecordSubmission(userID string, sub Submission, final bool) (SubmissionResult, error) {
	record, ok := a.records[userID]
	if !ok {
		return SubmissionResult{}, appErrors.ErrNotFound
	}

	if sub.QuestionNumber <= record.CurrentQuestion {
		return SubmissionResult{Progress: *record}, nil
	}

	// A question number past the battle's set can never be a legitimate
	// advance and would skew everyone else's standing for good.
	if a.questionCount > 0 && sub.QuestionNumber > a.questionCount {
		return SubmissionResult{Progress: *record}, appErrors.NewBadRequest("question number exceeds the battle's question count")
	}

	jump := sub.QuestionNumber > record.CurrentQuestion+1
	if jump && a.strict {
		return SubmissionResult{Progress: *record}, appErrors.ErrProgressJump
	}

	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = a.timeNow()
	}

	record.CurrentQuestion = sub.QuestionNumber
	record.Completed++
	record.LastUpdate = sub.SubmittedAt
	record.Submissions = append(record.Submissions, sub)
	if jump {
		record.SkippedAhead = true
	}
	if final || (a.questionCount > 0 && record.Completed >= a.questionCount) {
		record.SubmittedFinal = true
	}

	return SubmissionResult{Progress: *record, Applied: true, Flagged: jump}, nil
}

// Touch refreshes the activity timestamp without moving progress.
func (a *Aggregator) Touch(userID string) {
	if record, ok := a.records[userID]; ok {
		record.LastUpdate = a.timeNow()
	}
}

// MarkActive flips the liveness marker for the participant, preserving all
// progress. Returns false when the participant is unknown.
func (a *Aggregator) MarkActive(userID string, active bool) bool {
	record, ok := a.records[userID]
	if !ok {
		return false
	}
	record.Active = active
	return true
}

// Remove drops the participant's record entirely. Only used for leaves
// before the battle starts; post-start progress is retained.
func (a *Aggregator) Remove(userID string) {
	delete(a.records, userID)
}

// Get returns a copy of the participant's progress.
func (a *Aggregator) Get(userID string) (ParticipantProgress, bool) {
	record, ok := a.records[userID]
	if !ok {
		return ParticipantProgress{}, false
	}
	return *record, true
}

// AllFinal reports whether every one of the given participants has submitted
// their final answer. Vacuously false for an empty set.
func (a *Aggregator) AllFinal(userIDs []string) bool {
	if len(userIDs) == 0 {
		return false
	}
	for _, id := range userIDs {
		record, ok := a.records[id]
		if !ok || !record.SubmittedFinal {
			return false
		}
	}
	return true
}

// Snapshot returns copies of all progress records in a stable order.
func (a *Aggregator) Snapshot() []ParticipantProgress {
	out := lo.MapToSlice(a.records, func(_ string, record *ParticipantProgress) ParticipantProgress {
		return *record
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Rank orders participants by current question (desc), questions completed
// (desc) and last-update timestamp (asc, favouring whoever reached the state
// first). User id breaks exact timestamp ties so recomputing over the same
// input always yields the same output.
func Rank(records []ParticipantProgress) []RankEntry {
	sorted := make([]ParticipantProgress, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CurrentQuestion != b.CurrentQuestion {
			return a.CurrentQuestion > b.CurrentQuestion
		}
		if a.Completed != b.Completed {
			return a.Completed > b.Completed
		}
		if !a.LastUpdate.Equal(b.LastUpdate) {
			return a.LastUpdate.Before(b.LastUpdate)
		}
		return a.UserID < b.UserID
	})

	if len(sorted) == 0 {
		return nil
	}

	leader := sorted[0]
	return lo.Map(sorted, func(p ParticipantProgress, i int) RankEntry {
		behind := leader.CurrentQuestion - p.CurrentQuestion
		if behind < 0 {
			behind = 0
		}
		return RankEntry{
			Rank:            i + 1,
			UserID:          p.UserID,
			Username:        p.Username,
			Avatar:          p.Avatar,
			CurrentQuestion: p.CurrentQuestion,
			Completed:       p.Completed,
			Score:           p.Score,
			IsLeading:       i == 0 && len(sorted) > 1,
			QuestionsBehind: behind,
			SubmittedFinal:  p.SubmittedFinal,
			Active:          p.Active,
		}
	})
}
