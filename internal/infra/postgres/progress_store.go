package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizflow-service/internal/domain"
)

// ProgressStore persists attempt snapshots in the quiz_progress table,
// upserted by progress_id.
type ProgressStore struct {
	pool *pgxpool.Pool
}

func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

const progressColumns = `quiz_id, COALESCE(user_id, ''), current_node_id,
	node_history, answers, text_inputs, progress_percentage, is_completed,
	COALESCE(result_node_id, ''), updated_at`

func (s *ProgressStore) Get(ctx context.Context, progressID string) (domain.Progress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT progress_id, `+progressColumns+` FROM quiz_progress WHERE progress_id=$1`,
		progressID)
	return scanProgress(row)
}

func (s *ProgressStore) GetByUser(ctx context.Context, quizID, userID string) (domain.Progress, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT progress_id, `+progressColumns+` FROM quiz_progress
		 WHERE quiz_id=$1 AND user_id=$2 AND NOT is_completed
		 ORDER BY updated_at DESC LIMIT 1`,
		quizID, userID)
	return scanProgress(row)
}

func (s *ProgressStore) Save(ctx context.Context, p domain.Progress) error {
	history, err := json.Marshal(p.NodeHistory)
	if err != nil {
		return fmt.Errorf("marshal node history: %w", err)
	}
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	inputs, err := json.Marshal(p.TextInputs)
	if err != nil {
		return fmt.Errorf("marshal text inputs: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_progress
			(progress_id, quiz_id, user_id, current_node_id, node_history,
			 answers, text_inputs, progress_percentage, is_completed,
			 result_node_id, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NULLIF($10, ''), now())
		 ON CONFLICT (progress_id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id,
			node_history = EXCLUDED.node_history,
			answers = EXCLUDED.answers,
			text_inputs = EXCLUDED.text_inputs,
			progress_percentage = EXCLUDED.progress_percentage,
			is_completed = EXCLUDED.is_completed,
			result_node_id = EXCLUDED.result_node_id,
			updated_at = now()`,
		p.ProgressID, p.QuizID, p.UserID, p.CurrentNodeID, history,
		answers, inputs, p.ProgressPercentage, p.IsCompleted, p.ResultNodeID)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *ProgressStore) MarkCompleted(ctx context.Context, progressID, resultNodeID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_progress
		 SET is_completed = true, result_node_id = NULLIF($2, ''), updated_at = now()
		 WHERE progress_id = $1`,
		progressID, resultNodeID)
	if err != nil {
		return fmt.Errorf("mark progress completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProgressNotFound
	}
	return nil
}

func scanProgress(row pgx.Row) (domain.Progress, error) {
	var (
		p       domain.Progress
		history []byte
		answers []byte
		inputs  []byte
	)
	err := row.Scan(&p.ProgressID, &p.QuizID, &p.UserID, &p.CurrentNodeID,
		&history, &answers, &inputs, &p.ProgressPercentage, &p.IsCompleted,
		&p.ResultNodeID, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("scan progress: %w", err)
	}
	if err := json.Unmarshal(history, &p.NodeHistory); err != nil {
		return domain.Progress{}, fmt.Errorf("unmarshal node history: %w", err)
	}
	if err := json.Unmarshal(answers, &p.Answers); err != nil {
		return domain.Progress{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	if err := json.Unmarshal(inputs, &p.TextInputs); err != nil {
		return domain.Progress{}, fmt.Errorf("unmarshal text inputs: %w", err)
	}
	return p, nil
}
