package battle

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Darkvarin/Learnyzer-sub003/internal/realtime"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/metrics"
)

// finalize computes and emits a battle's terminal standings. It runs outside
// the room's processor goroutine so a slow judging collaborator blocks only
// this room's finalization; chat keeps flowing during the grace period and
// other rooms' traffic is unaffected.
func (m *Manager) finalize(room *Room, snapshot []ParticipantProgress, recipients []string, reason string) {
	ctx := context.Background()

	verdicts, provisional := m.collectVerdicts(ctx, room.ID(), snapshot)

	scored := make([]ParticipantProgress, len(snapshot))
	copy(scored, snapshot)
	for i := range scored {
		if verdict, ok := verdicts[scored[i].UserID]; ok {
			scored[i].Score = verdict.Score
		}
	}

	standings := lo.Map(Rank(scored), func(entry RankEntry, _ int) Standing {
		return Standing{
			Rank:            entry.Rank,
			UserID:          entry.UserID,
			Username:        entry.Username,
			Score:           entry.Score,
			Correct:         verdicts[entry.UserID].Correct,
			CurrentQuestion: entry.CurrentQuestion,
			Completed:       entry.Completed,
			SubmittedFinal:  entry.SubmittedFinal,
		}
	})

	result := FinalResult{
		BattleID:      room.ID(),
		QuestionCount: room.QuestionCount(),
		Reason:        reason,
		Provisional:   provisional,
		CompletedAt:   room.CompletedAt(),
		Standings:     standings,
	}

	if m.store != nil {
		if err := m.store.SaveFinalResult(ctx, result); err != nil {
			m.log.Error("persist final result",
				zap.String("battle_id", room.ID()),
				zap.Error(err),
			)
		}
	}

	m.fanOut(recipients, realtime.NewFrame(realtime.EventBattleCompleted, room.ID(), result))
	metrics.BattlesFinalized.WithLabelValues(reason).Inc()
}

// collectVerdicts asks the judging collaborator for each participant's score,
// retrying with backoff. Exhausted retries fall back to last-known progress
// and mark the whole result provisional rather than leaving participants
// stuck.
func (m *Manager) collectVerdicts(ctx context.Context, battleID string, snapshot []ParticipantProgress) (map[string]Verdict, bool) {
	verdicts := make(map[string]Verdict, len(snapshot))
	provisional := false

	for _, progress := range snapshot {
		if m.judge == nil {
			verdicts[progress.UserID] = Verdict{Score: progress.Score, Correct: progress.Completed}
			continue
		}

		verdict, err := m.evaluateWithRetry(ctx, battleID, progress)
		if err != nil {
			m.log.Warn("judging exhausted retries; using last-known progress",
				zap.String("battle_id", battleID),
				zap.String("user_id", progress.UserID),
				zap.Error(err),
			)
			verdict = Verdict{Score: progress.Score, Correct: progress.Completed}
			provisional = true
		}
		verdicts[progress.UserID] = verdict
	}

	return verdicts, provisional
}

func (m *Manager) evaluateWithRetry(ctx context.Context, battleID string, progress ParticipantProgress) (Verdict, error) {
	policy := m.cfg.JudgeBackoff

	for attempt := 1; ; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if m.cfg.JudgeTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, m.cfg.JudgeTimeout)
		}

		verdict, err := m.judge.Evaluate(callCtx, battleID, progress.UserID, progress.Submissions)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return verdict, nil
		}
		if policy.Exhausted(attempt) {
			return Verdict{}, err
		}

		select {
		case <-time.After(policy.Delay(attempt)):
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		}
	}
}
