package battle

import (
	"context"
	"time"

	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
)

// EntitlementChecker gates battle joins. The production implementation lives
// with the subscription service; the core only consumes the verdict.
type EntitlementChecker interface {
	CanJoin(ctx context.Context, identity realtime.Identity, battleID string) error
}

// EntitlementFunc adapts a plain function to the EntitlementChecker interface.
type EntitlementFunc func(ctx context.Context, identity realtime.Identity, battleID string) error

// CanJoin implements EntitlementChecker.
func (f EntitlementFunc) CanJoin(ctx context.Context, identity realtime.Identity, battleID string) error {
	return f(ctx, identity, battleID)
}

// Verdict is the judging service's answer for one participant.
type Verdict struct {
	Score   int `json:"score"`
	Correct int `json:"correct"`
}

// Judge evaluates a participant's submissions at finalization. It is an
// external black box; failures are retried and, after exhaustion, the battle
// finalizes with last-known progress marked provisional.
type Judge interface {
	Evaluate(ctx context.Context, battleID, userID string, submissions []Submission) (Verdict, error)
}

// Standing is one row of a battle's final standings.
type Standing struct {
	Rank            int    `json:"rank"`
	UserID          string `json:"userId"`
	Username        string `json:"username,omitempty"`
	Score           int    `json:"score"`
	Correct         int    `json:"correct"`
	CurrentQuestion int    `json:"currentQuestion"`
	Completed       int    `json:"completed"`
	SubmittedFinal  bool   `json:"submittedFinal"`
}

// FinalResult is the record handed to the persistence collaborator when a
// battle reaches its terminal state.
type FinalResult struct {
	BattleID      string     `json:"battleId"`
	QuestionCount int        `json:"questionCount"`
	Reason        string     `json:"reason"`
	Provisional   bool       `json:"provisional"`
	CompletedAt   time.Time  `json:"completedAt"`
	Standings     []Standing `json:"standings"`
}

// ResultStore persists finalized battle results. Schema ownership stays with
// the surrounding platform.
type ResultStore interface {
	SaveFinalResult(ctx context.Context, result FinalResult) error
}

// Terminal transition reasons recorded on the final result.
const (
	ReasonAllFinal = "all_final"
	ReasonDeadline = "deadline"
	ReasonAborted  = "aborted"
)
