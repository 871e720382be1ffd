package memory

import (
	"context"
	"sync"
	"time"

	"quizflow-service/internal/domain"
)

// ProgressStore is an in-memory implementation of app.ProgressStore.
// Abandoned records are kept indefinitely, matching the contract.
type ProgressStore struct {
	mu       sync.RWMutex
	byID     map[string]domain.Progress
	byUser   map[string]string // (quizID, userID) -> progressID
	saves    int
	saveHook func(domain.Progress) error
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		byID:   make(map[string]domain.Progress),
		byUser: make(map[string]string),
	}
}

// SetSaveHook installs a hook invoked before every save; returning an
// error makes the save fail. Test-only.
func (s *ProgressStore) SetSaveHook(hook func(domain.Progress) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveHook = hook
}

// SaveCount reports how many saves succeeded. Test-only.
func (s *ProgressStore) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *ProgressStore) Get(_ context.Context, progressID string) (domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[progressID]
	if !ok {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	return cloneProgress(p), nil
}

func (s *ProgressStore) GetByUser(_ context.Context, quizID, userID string) (domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userKey(quizID, userID)]
	if !ok {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	p, ok := s.byID[id]
	if !ok {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	return cloneProgress(p), nil
}

func (s *ProgressStore) Save(_ context.Context, p domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveHook != nil {
		if err := s.saveHook(p); err != nil {
			return err
		}
	}
	p.UpdatedAt = time.Now()
	s.byID[p.ProgressID] = cloneProgress(p)
	if p.UserID != "" {
		s.byUser[userKey(p.QuizID, p.UserID)] = p.ProgressID
	}
	s.saves++
	return nil
}

func (s *ProgressStore) MarkCompleted(_ context.Context, progressID, resultNodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[progressID]
	if !ok {
		return domain.ErrProgressNotFound
	}
	p.IsCompleted = true
	p.ResultNodeID = resultNodeID
	p.UpdatedAt = time.Now()
	s.byID[progressID] = p
	return nil
}

func userKey(quizID, userID string) string {
	return quizID + "\x00" + userID
}

func cloneProgress(p domain.Progress) domain.Progress {
	p.NodeHistory = append([]string(nil), p.NodeHistory...)
	p.Answers = cloneMap(p.Answers)
	p.TextInputs = cloneMap(p.TextInputs)
	return p
}

func cloneMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
