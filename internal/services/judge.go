package services

import (
	"context"

	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
)

const pointsPerQuestion = 100

// CompletionJudge scores participants from their accepted submissions alone.
// It stands in for the platform's AI judging service when the server runs
// without one; every submission counts as correct.
type CompletionJudge struct{}

// NewCompletionJudge constructs the fallback judge.
func NewCompletionJudge() *CompletionJudge {
	return &CompletionJudge{}
}

// Evaluate implements battle.Judge.
func (j *CompletionJudge) Evaluate(_ context.Context, _, _ string, submissions []battle.Submission) (battle.Verdict, error) {
	return battle.Verdict{
		Score:   len(submissions) * pointsPerQuestion,
		Correct: len(submissions),
	}, nil
}
