package app

import (
	"context"
	"errors"
	"time"

	"examprep-attempt-service/internal/domain"
)

// QuizRepository loads quiz definitions (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error)
}

// AttemptPatch is a partial update applied by merge: answer entries are merged
// key-by-key and RemainingTime is replaced only when non-nil, so concurrent
// metadata fields are never clobbered.
type AttemptPatch struct {
	Answers       map[string]string
	RemainingTime *int
}

// AttemptStore abstracts how attempt state is persisted (in-memory, Redis).
//
// Get may return a partially recovered state alongside ErrCorruptState when
// the persisted record fails to parse; callers decide whether StartedAt is
// enough to recompute the countdown. A state whose stored shape predates the
// remainingTime field is reported with RemainingTime == RemainingTimeUnknown.
type AttemptStore interface {
	Get(ctx context.Context, userID, quizID string) (domain.AttemptState, error)
	Create(ctx context.Context, state domain.AttemptState) error
	Merge(ctx context.Context, userID, quizID string, patch AttemptPatch) error
	// Finalize writes the terminal fields as one conditional write that
	// succeeds only if the attempt was not already completed; the loser of a
	// cross-session race receives ErrAlreadyFinalized.
	Finalize(ctx context.Context, state domain.AttemptState) error
}

// RemainingTimeUnknown marks a resumed attempt stored in the legacy
// startedAt-only shape; the countdown is recomputed from StartedAt on load.
const RemainingTimeUnknown = -1

// ResultStore persists immutable result records.
type ResultStore interface {
	// Write is insert-if-absent: a second write for the same key is a no-op.
	Write(ctx context.Context, record domain.ResultRecord) error
	Get(ctx context.Context, userID, quizID string) (domain.ResultRecord, error)
}

// AttemptService contains the attempt lifecycle use cases: load/resume,
// answer recording, and finalize/grade.
type AttemptService struct {
	quizzes  QuizRepository
	attempts AttemptStore
	results  ResultStore
	now      func() time.Time
}

func NewAttemptService(quizzes QuizRepository, attempts AttemptStore, results ResultStore) *AttemptService {
	return &AttemptService{quizzes: quizzes, attempts: attempts, results: results, now: time.Now}
}

// NewAttemptServiceWithClock is test-only for deterministic timestamps.
func NewAttemptServiceWithClock(quizzes QuizRepository, attempts AttemptStore, results ResultStore, now func() time.Time) *AttemptService {
	return &AttemptService{quizzes: quizzes, attempts: attempts, results: results, now: now}
}

// StartOrResume produces a ready-to-run attempt for (userID, quizID) along
// with its quiz definition.
//
// First-ever load creates the attempt with the full time budget and persists
// it immediately (the one "start" write). A resume performs zero writes: a
// stored remainingTime is used directly, a legacy startedAt-only record has
// remainingTime recomputed from elapsed time, and a corrupt record falls back
// to that same recomputation when StartedAt survived. The recomputed value is
// deliberately not clamped at zero here; the timer loop treats a non-positive
// countdown as an immediate expiry.
func (s *AttemptService) StartOrResume(ctx context.Context, userID, quizID string) (domain.QuizDefinition, domain.AttemptState, error) {
	if userID == "" {
		return domain.QuizDefinition{}, domain.AttemptState{}, domain.ErrUnauthorized
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizDefinition{}, domain.AttemptState{}, err
	}

	state, err := s.attempts.Get(ctx, userID, quizID)
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound):
		state = domain.AttemptState{
			UserID:        userID,
			QuizID:        quizID,
			Answers:       map[string]string{},
			RemainingTime: quiz.DurationMinutes * 60,
			StartedAt:     s.now(),
		}
		if err := s.attempts.Create(ctx, state); err != nil {
			return domain.QuizDefinition{}, domain.AttemptState{}, err
		}
		return quiz, state, nil

	case errors.Is(err, domain.ErrCorruptState):
		if state.StartedAt.IsZero() {
			return domain.QuizDefinition{}, domain.AttemptState{}, domain.ErrCorruptState
		}
		state.UserID = userID
		state.QuizID = quizID
		state.RemainingTime = s.recompute(quiz, state.StartedAt)
		if state.Answers == nil {
			state.Answers = map[string]string{}
		}
		return quiz, state, nil

	case err != nil:
		return domain.QuizDefinition{}, domain.AttemptState{}, err
	}

	if state.Completed {
		return domain.QuizDefinition{}, domain.AttemptState{}, domain.ErrAttemptCompleted
	}
	if state.RemainingTime == RemainingTimeUnknown {
		state.RemainingTime = s.recompute(quiz, state.StartedAt)
	}
	if state.Answers == nil {
		state.Answers = map[string]string{}
	}
	return quiz, state, nil
}

func (s *AttemptService) recompute(quiz domain.QuizDefinition, startedAt time.Time) int {
	elapsed := int(s.now().Sub(startedAt).Seconds())
	return quiz.DurationMinutes*60 - elapsed
}

// RecordAnswer merge-writes one answer selection together with the current
// countdown. Last-write-wins; no option validation happens at this layer.
func (s *AttemptService) RecordAnswer(ctx context.Context, userID, quizID, questionID, optionID string, remainingTime int) error {
	remaining := remainingTime
	return s.attempts.Merge(ctx, userID, quizID, AttemptPatch{
		Answers:       map[string]string{questionID: optionID},
		RemainingTime: &remaining,
	})
}

// PersistRemaining is the tick-driven safety-net write; it touches only the
// countdown so an idle attempt still resumes fairly after a reload.
func (s *AttemptService) PersistRemaining(ctx context.Context, userID, quizID string, remainingTime int) error {
	remaining := remainingTime
	return s.attempts.Merge(ctx, userID, quizID, AttemptPatch{RemainingTime: &remaining})
}

// Finalize grades the attempt and writes the terminal state and result record.
//
// The attempt write is conditional on completed having been false, so two
// sessions racing to finalize resolve to exactly one winner; the loser gets
// the winner's already-written result back. The result write is retried once
// before the error is surfaced, since losing it means a completed quiz never
// produces a visible result.
func (s *AttemptService) Finalize(ctx context.Context, quiz domain.QuizDefinition, userID string, answers map[string]string) (domain.ResultRecord, error) {
	now := s.now()
	record := Grade(quiz, answers, now)
	record.UserID = userID

	final := domain.AttemptState{
		UserID:        userID,
		QuizID:        quiz.ID,
		Answers:       record.Answers,
		RemainingTime: 0,
		Completed:     true,
		SubmittedAt:   &now,
	}
	if err := s.attempts.Finalize(ctx, final); err != nil {
		if errors.Is(err, domain.ErrAlreadyFinalized) {
			if existing, getErr := s.results.Get(ctx, userID, quiz.ID); getErr == nil {
				return existing, nil
			}
			return domain.ResultRecord{}, err
		}
		return domain.ResultRecord{}, err
	}

	if err := s.results.Write(ctx, record); err != nil {
		if err = s.results.Write(ctx, record); err != nil {
			return domain.ResultRecord{}, err
		}
	}
	return record, nil
}

// Quiz fetches a quiz definition without touching attempt state, for result
// review views.
func (s *AttemptService) Quiz(ctx context.Context, quizID string) (domain.QuizDefinition, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// Result returns the stored result record for a finished attempt.
func (s *AttemptService) Result(ctx context.Context, userID, quizID string) (domain.ResultRecord, error) {
	if userID == "" {
		return domain.ResultRecord{}, domain.ErrUnauthorized
	}
	return s.results.Get(ctx, userID, quizID)
}
