package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"examprep-attempt-service/internal/app"
	"examprep-attempt-service/internal/domain"
	"examprep-attempt-service/internal/infra/memory"
)

// corruptStore simulates a persisted attempt that fails to parse, optionally
// salvaging the startedAt timestamp.
type corruptStore struct {
	app.AttemptStore
	salvaged domain.AttemptState
}

func (s *corruptStore) Get(context.Context, string, string) (domain.AttemptState, error) {
	return s.salvaged, domain.ErrCorruptState
}

func TestCorruptStateFallsBackToStartedAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.QuizDefinition{
		"quiz-1": threeQuestionQuiz(),
	}), 5*time.Minute)

	store := &corruptStore{
		AttemptStore: memory.NewAttemptStore(),
		salvaged:     domain.AttemptState{StartedAt: now.Add(-20 * time.Second)},
	}
	service := app.NewAttemptServiceWithClock(quizzes, store, memory.NewResultStore(), func() time.Time { return now })

	_, state, err := service.StartOrResume(ctx, "u1", "quiz-1")
	if err != nil {
		t.Fatalf("expected recovery from startedAt, got %v", err)
	}
	if state.RemainingTime != 40 {
		t.Fatalf("expected recomputed 40s, got %d", state.RemainingTime)
	}
	if state.Answers == nil {
		t.Fatalf("expected answers map to be reset")
	}
}

func TestCorruptStateWithoutStartedAtRejected(t *testing.T) {
	ctx := context.Background()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.QuizDefinition{
		"quiz-1": threeQuestionQuiz(),
	}), 5*time.Minute)

	store := &corruptStore{AttemptStore: memory.NewAttemptStore()}
	service := app.NewAttemptService(quizzes, store, memory.NewResultStore())

	_, _, err := service.StartOrResume(ctx, "u1", "quiz-1")
	if !errors.Is(err, domain.ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}
