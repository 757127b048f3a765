package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"examprep-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultStore persists immutable result records. The insert is ON CONFLICT DO
// NOTHING on (user_id, quiz_id), so the at-most-once result invariant holds
// even if two sessions somehow both pass the attempt-level finalize guard.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) Write(ctx context.Context, record domain.ResultRecord) error {
	answers, err := json.Marshal(record.Answers)
	if err != nil {
		return fmt.Errorf("marshal result answers: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO results (user_id, quiz_id, score, total, answers, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, quiz_id) DO NOTHING`,
		record.UserID, record.QuizID, record.Score, record.Total, answers, record.GradedAt)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func (s *ResultStore) Get(ctx context.Context, userID, quizID string) (domain.ResultRecord, error) {
	record := domain.ResultRecord{UserID: userID, QuizID: quizID}
	var answers []byte
	var gradedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT score, total, answers, graded_at FROM results WHERE user_id=$1 AND quiz_id=$2`,
		userID, quizID).Scan(&record.Score, &record.Total, &answers, &gradedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ResultRecord{}, domain.ErrResultNotFound
	}
	if err != nil {
		return domain.ResultRecord{}, fmt.Errorf("load result: %w", err)
	}
	if err := json.Unmarshal(answers, &record.Answers); err != nil {
		return domain.ResultRecord{}, fmt.Errorf("unmarshal result answers: %w", err)
	}
	record.GradedAt = gradedAt
	return record, nil
}
