package app

import (
	"context"
	"log"
	"sync"
	"time"

	"examprep-attempt-service/internal/domain"
)

// Phase is the state of one running attempt session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseExpired
	PhaseSubmitted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseExpired:
		return "expired"
	case PhaseSubmitted:
		return "submitted"
	}
	return "unknown"
}

// defaultPersistInterval is the tick-driven safety-net write cadence; answer
// changes persist immediately regardless.
const defaultPersistInterval = 15 * time.Second

// AttemptSession is the countdown state machine for one client session of one
// attempt. The owner drives it: call Tick once per second from whatever loop
// schedules the session (the websocket handler runs a real ticker, tests call
// it directly). Answer and Submit arrive from the same owner, so the internal
// mutex only guards against the owner's reader/ticker goroutine pair, not
// cross-process races — those are resolved by the store's conditional
// finalize.
type AttemptSession struct {
	svc  *AttemptService
	quiz domain.QuizDefinition

	mu               sync.Mutex
	state            domain.AttemptState
	phase            Phase
	finalized        bool // at-most-once grading guard, local to this session
	result           domain.ResultRecord
	sincePersist     int
	persistEverySecs int

	onFinalize func(record domain.ResultRecord, expired bool)
}

// NewAttemptSession wraps a loaded attempt. persistInterval <= 0 selects the
// default cadence.
func NewAttemptSession(svc *AttemptService, quiz domain.QuizDefinition, state domain.AttemptState, persistInterval time.Duration) *AttemptSession {
	if persistInterval <= 0 {
		persistInterval = defaultPersistInterval
	}
	if state.Answers == nil {
		state.Answers = map[string]string{}
	}
	return &AttemptSession{
		svc:              svc,
		quiz:             quiz,
		state:            state,
		phase:            PhaseIdle,
		persistEverySecs: int(persistInterval / time.Second),
	}
}

// OnFinalize registers the callback fired exactly once when the session
// reaches a terminal phase. Must be set before Start.
func (s *AttemptSession) OnFinalize(fn func(record domain.ResultRecord, expired bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinalize = fn
}

// Start moves Idle to Running. An attempt resumed with no time left (legacy
// startedAt recomputation can go non-positive) expires immediately instead.
func (s *AttemptSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return nil
	}
	if s.state.Completed {
		s.mu.Unlock()
		return domain.ErrAttemptCompleted
	}
	if s.state.RemainingTime <= 0 {
		s.state.RemainingTime = 0
		return s.finalizeLocked(ctx, true)
	}
	s.phase = PhaseRunning
	s.mu.Unlock()
	return nil
}

// Tick advances the countdown by one second. On reaching zero the session
// expires and grades exactly once; otherwise it occasionally persists the
// countdown as a safety net against answer-less idle time. Persistence
// failures here are logged and swallowed so the countdown never stalls.
func (s *AttemptSession) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.phase != PhaseRunning {
		s.mu.Unlock()
		return
	}

	s.state.RemainingTime--
	if s.state.RemainingTime <= 0 {
		s.state.RemainingTime = 0
		if err := s.finalizeLocked(ctx, true); err != nil {
			log.Printf("attempt %s/%s: finalize on expiry: %v", s.state.UserID, s.state.QuizID, err)
		}
		return
	}

	s.sincePersist++
	if s.sincePersist < s.persistEverySecs {
		s.mu.Unlock()
		return
	}
	s.sincePersist = 0
	userID, quizID, remaining := s.state.UserID, s.state.QuizID, s.state.RemainingTime
	s.mu.Unlock()

	if err := s.svc.PersistRemaining(ctx, userID, quizID, remaining); err != nil {
		log.Printf("attempt %s/%s: persist remaining: %v", userID, quizID, err)
	}
}

// Answer records one selection: merge into the in-memory state, then persist
// the merge immediately. Re-selecting the same option is last-write-wins with
// no residual trace. Selections after a terminal phase are rejected.
func (s *AttemptSession) Answer(ctx context.Context, questionID, optionID string) error {
	s.mu.Lock()
	if s.phase == PhaseExpired || s.phase == PhaseSubmitted {
		s.mu.Unlock()
		return domain.ErrAttemptCompleted
	}
	s.state.Answers[questionID] = optionID
	userID, quizID, remaining := s.state.UserID, s.state.QuizID, s.state.RemainingTime
	s.mu.Unlock()

	if err := s.svc.RecordAnswer(ctx, userID, quizID, questionID, optionID, remaining); err != nil {
		// The next answer change retries implicitly; keep the countdown alive.
		log.Printf("attempt %s/%s: persist answer: %v", userID, quizID, err)
	}
	return nil
}

// Submit is the user-initiated terminal transition. The second trigger in the
// same session (timer expiry racing a click) is a no-op that returns the
// already-computed result.
func (s *AttemptSession) Submit(ctx context.Context) (domain.ResultRecord, error) {
	s.mu.Lock()
	if s.finalized {
		record := s.result
		s.mu.Unlock()
		return record, nil
	}
	s.state.RemainingTime = 0
	if err := s.finalizeLocked(ctx, false); err != nil {
		return domain.ResultRecord{}, err
	}
	s.mu.Lock()
	record := s.result
	s.mu.Unlock()
	return record, nil
}

// Stop halts the session without grading, for view teardown mid-attempt. The
// countdown value survives via the last persisted write and the attempt
// resumes from there.
func (s *AttemptSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseRunning || s.phase == PhaseIdle {
		s.phase = PhaseIdle
	}
}

// finalizeLocked is the single grading path for both expiry and submission.
// Caller holds the mutex; it is released here so the persistence calls do not
// run under the lock.
func (s *AttemptSession) finalizeLocked(ctx context.Context, expired bool) error {
	if s.finalized {
		s.mu.Unlock()
		return nil
	}
	s.finalized = true
	if expired {
		s.phase = PhaseExpired
	} else {
		s.phase = PhaseSubmitted
	}
	s.state.Completed = true
	answers := s.state.CloneAnswers()
	userID := s.state.UserID
	callback := s.onFinalize
	s.mu.Unlock()

	record, err := s.svc.Finalize(ctx, s.quiz, userID, answers)
	if err != nil {
		// A failed finalize did not grade anything: release the guard so a
		// user-driven retry can run it again. The store's conditional write
		// keeps a concurrent winner safe.
		s.mu.Lock()
		s.finalized = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.result = record
	s.mu.Unlock()

	if callback != nil {
		callback(record, expired)
	}
	return nil
}

// Phase reports the session's current state.
func (s *AttemptSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RemainingTime reports the in-memory countdown in seconds.
func (s *AttemptSession) RemainingTime() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RemainingTime
}

// AnswersSnapshot copies the current answers map.
func (s *AttemptSession) AnswersSnapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CloneAnswers()
}
