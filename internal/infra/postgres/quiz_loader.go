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

// QuizLoader loads quiz definitions (flow_data JSONB) from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var (
		title  string
		status string
		raw    []byte
	)
	err := l.pool.QueryRow(ctx,
		`SELECT title, status, flow_data FROM quizzes WHERE id=$1`, quizID,
	).Scan(&title, &status, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	var flowData domain.FlowData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &flowData); err != nil {
			return domain.Quiz{}, fmt.Errorf("unmarshal flow data: %w", err)
		}
	}
	return domain.Quiz{
		ID:     quizID,
		Title:  title,
		Status: status,
		Flow:   flowData,
	}, nil
}
