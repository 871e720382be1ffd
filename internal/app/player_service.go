package app

import (
	"context"
	"errors"
	"time"

	"quizflow-service/internal/domain"
	"quizflow-service/internal/flow"
)

// QuizRepository loads quiz definitions (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ProgressStore persists in-flight attempt snapshots, upserted by
// progress_id and additionally discoverable by (quiz_id, user_id) when the
// respondent is identified.
type ProgressStore interface {
	Get(ctx context.Context, progressID string) (domain.Progress, error)
	GetByUser(ctx context.Context, quizID, userID string) (domain.Progress, error)
	Save(ctx context.Context, progress domain.Progress) error
	MarkCompleted(ctx context.Context, progressID, resultNodeID string) error
}

// AttemptStore persists immutable completed-attempt records, assigning the
// id and timestamp.
type AttemptStore interface {
	Create(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error)
}

// PlayerService opens traversal sessions over quiz flow graphs.
type PlayerService struct {
	quizzes   QuizRepository
	progress  ProgressStore
	attempts  AttemptStore
	saveDelay time.Duration
}

// NewPlayerService wires the traversal engine to its collaborators.
// saveDelay is the debounce window for progress persistence.
func NewPlayerService(quizzes QuizRepository, progress ProgressStore, attempts AttemptStore, saveDelay time.Duration) *PlayerService {
	if saveDelay <= 0 {
		saveDelay = time.Second
	}
	return &PlayerService{
		quizzes:   quizzes,
		progress:  progress,
		attempts:  attempts,
		saveDelay: saveDelay,
	}
}

// PendingResume carries a previously persisted snapshot the respondent may
// resume from. Returned by Open instead of being stashed in ambient state;
// pass it to PlayerSession.Resume to continue, or ignore it and Start.
type PendingResume struct {
	Progress domain.Progress
}

// ProgressPercent is the saved completion percentage, for the resume prompt.
func (p *PendingResume) ProgressPercent() float64 {
	return p.Progress.ProgressPercentage
}

// Open fetches the quiz definition once and looks up resumable progress.
// The graph is never re-fetched mid-attempt. progressID is the client-held
// key, if any; userID scopes the lookup for identified respondents whose
// progress must be discoverable without a client-held id. A completed
// snapshot is not resumable and yields no PendingResume.
//
// Unpublished quizzes are not found for anonymous respondents; their
// author (any identified caller) may still preview them.
func (s *PlayerService) Open(ctx context.Context, quizID, userID, progressID string) (*PlayerSession, *PendingResume, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	if quiz.Status != domain.StatusPublished && userID == "" {
		return nil, nil, domain.ErrQuizNotFound
	}
	if err := flow.Validate(quiz.Flow.Nodes, quiz.Flow.Edges); err != nil {
		return nil, nil, err
	}

	session := &PlayerSession{
		quiz:       quiz,
		userID:     userID,
		progress:   s.progress,
		attempts:   s.attempts,
		saver:      newProgressSaver(s.progress, s.saveDelay),
		answers:    make(map[string]string),
		textInputs: make(map[string]string),
	}

	pending, err := s.findResumable(ctx, quizID, userID, progressID)
	if err != nil {
		return nil, nil, err
	}
	return session, pending, nil
}

func (s *PlayerService) findResumable(ctx context.Context, quizID, userID, progressID string) (*PendingResume, error) {
	lookup := func(get func() (domain.Progress, error)) (*PendingResume, error) {
		saved, err := get()
		if errors.Is(err, domain.ErrProgressNotFound) {
			return nil, nil
		}
		if err != nil {
			// A failed lookup must not block starting fresh.
			return nil, nil
		}
		if saved.QuizID != quizID || saved.IsCompleted {
			return nil, nil
		}
		return &PendingResume{Progress: saved}, nil
	}

	if progressID != "" {
		if pending, err := lookup(func() (domain.Progress, error) {
			return s.progress.Get(ctx, progressID)
		}); pending != nil || err != nil {
			return pending, err
		}
	}
	if userID != "" {
		return lookup(func() (domain.Progress, error) {
			return s.progress.GetByUser(ctx, quizID, userID)
		})
	}
	return nil, nil
}
