package memory

import (
	"context"
	"sync"
	"time"

	"examprep-attempt-service/internal/app"
	"examprep-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore, keyed by
// (userID, quizID). Merge semantics match the Redis store: answer entries are
// merged key-by-key and remainingTime is replaced only when present.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[attemptKey]domain.AttemptState
}

type attemptKey struct {
	userID string
	quizID string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[attemptKey]domain.AttemptState)}
}

func (s *AttemptStore) Get(_ context.Context, userID, quizID string) (domain.AttemptState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.attempts[attemptKey{userID, quizID}]
	if !ok {
		return domain.AttemptState{}, domain.ErrAttemptNotFound
	}
	state.Answers = state.CloneAnswers()
	return state, nil
}

func (s *AttemptStore) Create(_ context.Context, state domain.AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{state.UserID, state.QuizID}
	if _, ok := s.attempts[key]; ok {
		// First write wins; a concurrent first-load already created it.
		return nil
	}
	state.Answers = state.CloneAnswers()
	s.attempts[key] = state
	return nil
}

func (s *AttemptStore) Merge(_ context.Context, userID, quizID string, patch app.AttemptPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{userID, quizID}
	state, ok := s.attempts[key]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if state.Completed {
		return domain.ErrAttemptCompleted
	}
	if state.Answers == nil {
		state.Answers = map[string]string{}
	} else {
		state.Answers = state.CloneAnswers()
	}
	for qid, oid := range patch.Answers {
		state.Answers[qid] = oid
	}
	if patch.RemainingTime != nil {
		state.RemainingTime = *patch.RemainingTime
	}
	s.attempts[key] = state
	return nil
}

func (s *AttemptStore) Finalize(_ context.Context, final domain.AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{final.UserID, final.QuizID}
	existing, ok := s.attempts[key]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if existing.Completed {
		return domain.ErrAlreadyFinalized
	}
	if final.SubmittedAt == nil {
		now := time.Now()
		final.SubmittedAt = &now
	}
	final.StartedAt = existing.StartedAt
	final.Answers = final.CloneAnswers()
	s.attempts[key] = final
	return nil
}
