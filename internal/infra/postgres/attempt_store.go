package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizflow-service/internal/domain"
)

// AttemptStore persists completed-attempt records. Rows are insert-only.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) Create(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("marshal answers: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (id, quiz_id, user_id, result_node_id, answers, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`,
		attempt.ID, attempt.QuizID, attempt.UserID, attempt.ResultNodeID, answers, attempt.CreatedAt)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	return attempt, nil
}
