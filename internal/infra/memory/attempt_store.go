package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizflow-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts []domain.Attempt
	fail     error
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

// FailWith makes every Create return err. Test-only.
func (s *AttemptStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *AttemptStore) Create(_ context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return domain.Attempt{}, s.fail
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	s.attempts = append(s.attempts, attempt)
	return attempt, nil
}

// ByQuiz returns the recorded attempts for a quiz, newest last.
func (s *AttemptStore) ByQuiz(quizID string) []domain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attempt
	for _, a := range s.attempts {
		if a.QuizID == quizID {
			out = append(out, a)
		}
	}
	return out
}
