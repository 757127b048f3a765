package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"examprep-attempt-service/internal/app"
	"examprep-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AttemptStore persists attempt state in Redis as two hashes per attempt:
//
//	HSET attempt:{userID}:{quizID}         remainingTime startedAt completed submittedAt
//	HSET attempt:{userID}:{quizID}:answers {questionID} {optionID}
//
// Answer writes are merges by construction (HSET touches only the given
// fields), so a tick-driven remainingTime write can never clobber answers and
// vice versa. Finalize runs as a Lua script conditional on completed, making
// at-most-once grading a store-enforced invariant rather than a client-local
// flag: two tabs racing to finalize resolve to one winner.
type AttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, ttl: ttl}
}

// finalizeScript: KEYS[1]=meta, KEYS[2]=answers, ARGV[1]=submittedAt unix,
// ARGV[2..]=flattened final answers. Returns -1 when the attempt does not
// exist, 0 when it was already completed, 1 on success.
var finalizeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "completed") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "completed", "1", "submittedAt", ARGV[1], "remainingTime", "0")
redis.call("DEL", KEYS[2])
for i = 2, #ARGV - 1, 2 do
  redis.call("HSET", KEYS[2], ARGV[i], ARGV[i + 1])
end
return 1
`)

func (s *AttemptStore) Get(ctx context.Context, userID, quizID string) (domain.AttemptState, error) {
	meta, err := s.client.HGetAll(ctx, s.metaKey(userID, quizID)).Result()
	if err != nil {
		return domain.AttemptState{}, fmt.Errorf("load attempt meta: %w", err)
	}
	if len(meta) == 0 {
		return domain.AttemptState{}, domain.ErrAttemptNotFound
	}
	answers, err := s.client.HGetAll(ctx, s.answersKey(userID, quizID)).Result()
	if err != nil {
		return domain.AttemptState{}, fmt.Errorf("load attempt answers: %w", err)
	}

	state := domain.AttemptState{
		UserID:        userID,
		QuizID:        quizID,
		Answers:       answers,
		RemainingTime: app.RemainingTimeUnknown,
		Completed:     meta["completed"] == "1",
	}
	if raw, ok := meta["startedAt"]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			state.StartedAt = time.Unix(unix, 0)
		}
	}
	if raw, ok := meta["submittedAt"]; ok && raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			at := time.Unix(unix, 0)
			state.SubmittedAt = &at
		}
	}
	if raw, ok := meta["remainingTime"]; ok {
		remaining, err := strconv.Atoi(raw)
		if err != nil {
			// Salvage what parsed; the caller may recompute from startedAt.
			return state, domain.ErrCorruptState
		}
		state.RemainingTime = remaining
	}
	// A record carrying only startedAt is the legacy shape; RemainingTime
	// stays RemainingTimeUnknown and the caller recomputes.
	return state, nil
}

func (s *AttemptStore) Create(ctx context.Context, state domain.AttemptState) error {
	metaKey := s.metaKey(state.UserID, state.QuizID)

	// HSETNX on startedAt makes the "start" event first-write-wins; the rest
	// of the fields only follow when this session actually created the record.
	created, err := s.client.HSetNX(ctx, metaKey, "startedAt", strconv.FormatInt(state.StartedAt.Unix(), 10)).Result()
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	if !created {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, metaKey,
		"remainingTime", strconv.Itoa(state.RemainingTime),
		"completed", "0",
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, metaKey, s.ttl)
		pipe.Expire(ctx, s.answersKey(state.UserID, state.QuizID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Merge(ctx context.Context, userID, quizID string, patch app.AttemptPatch) error {
	metaKey := s.metaKey(userID, quizID)

	completed, err := s.client.HGet(ctx, metaKey, "completed").Result()
	if err == redis.Nil {
		return domain.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("merge attempt: %w", err)
	}
	if completed == "1" {
		return domain.ErrAttemptCompleted
	}

	pipe := s.client.Pipeline()
	if len(patch.Answers) > 0 {
		flat := make([]interface{}, 0, len(patch.Answers)*2)
		for qid, oid := range patch.Answers {
			flat = append(flat, qid, oid)
		}
		pipe.HSet(ctx, s.answersKey(userID, quizID), flat...)
	}
	if patch.RemainingTime != nil {
		pipe.HSet(ctx, metaKey, "remainingTime", strconv.Itoa(*patch.RemainingTime))
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, metaKey, s.ttl)
		pipe.Expire(ctx, s.answersKey(userID, quizID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("merge attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Finalize(ctx context.Context, final domain.AttemptState) error {
	submittedAt := time.Now()
	if final.SubmittedAt != nil {
		submittedAt = *final.SubmittedAt
	}
	args := make([]interface{}, 0, 1+len(final.Answers)*2)
	args = append(args, strconv.FormatInt(submittedAt.Unix(), 10))
	for qid, oid := range final.Answers {
		args = append(args, qid, oid)
	}

	keys := []string{s.metaKey(final.UserID, final.QuizID), s.answersKey(final.UserID, final.QuizID)}
	outcome, err := finalizeScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}
	switch outcome {
	case -1:
		return domain.ErrAttemptNotFound
	case 0:
		return domain.ErrAlreadyFinalized
	}
	return nil
}

func (s *AttemptStore) metaKey(userID, quizID string) string {
	return "attempt:" + userID + ":" + quizID
}

func (s *AttemptStore) answersKey(userID, quizID string) string {
	return "attempt:" + userID + ":" + quizID + ":answers"
}
