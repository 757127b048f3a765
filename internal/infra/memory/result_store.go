package memory

import (
	"context"
	"sync"

	"examprep-attempt-service/internal/domain"
)

// ResultStore is an in-memory implementation of app.ResultStore. Writes are
// insert-if-absent so a duplicated finalize cannot overwrite the first result.
type ResultStore struct {
	mu      sync.RWMutex
	results map[attemptKey]domain.ResultRecord
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[attemptKey]domain.ResultRecord)}
}

func (s *ResultStore) Write(_ context.Context, record domain.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{record.UserID, record.QuizID}
	if _, ok := s.results[key]; ok {
		return nil
	}
	s.results[key] = record
	return nil
}

func (s *ResultStore) Get(_ context.Context, userID, quizID string) (domain.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.results[attemptKey{userID, quizID}]
	if !ok {
		return domain.ResultRecord{}, domain.ErrResultNotFound
	}
	return record, nil
}
