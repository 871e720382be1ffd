package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizflow-service/internal/domain"
)

// ProgressStore keeps attempt snapshots as JSON values:
//
//	SET progress:{progressID}                      {snapshot}
//	SET progress:quiz:{quizID}:user:{userID}       {progressID}
//
// The second key makes a logged-in respondent's progress discoverable
// without a client-held id. A non-zero ttl gives abandoned records an
// expiry; zero keeps them forever, which is the contract's default.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	return &ProgressStore{client: client, ttl: ttl}
}

func (s *ProgressStore) Get(ctx context.Context, progressID string) (domain.Progress, error) {
	return s.load(ctx, s.progressKey(progressID))
}

func (s *ProgressStore) GetByUser(ctx context.Context, quizID, userID string) (domain.Progress, error) {
	progressID, err := s.client.Get(ctx, s.userKey(quizID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("lookup progress by user: %w", err)
	}
	return s.load(ctx, s.progressKey(progressID))
}

func (s *ProgressStore) Save(ctx context.Context, p domain.Progress) error {
	p.UpdatedAt = time.Now()
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress %s: %w", p.ProgressID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.progressKey(p.ProgressID), raw, s.ttl)
	if p.UserID != "" {
		pipe.Set(ctx, s.userKey(p.QuizID, p.UserID), p.ProgressID, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save progress %s: %w", p.ProgressID, err)
	}
	return nil
}

func (s *ProgressStore) MarkCompleted(ctx context.Context, progressID, resultNodeID string) error {
	p, err := s.Get(ctx, progressID)
	if err != nil {
		return err
	}
	p.IsCompleted = true
	p.ResultNodeID = resultNodeID
	return s.Save(ctx, p)
}

func (s *ProgressStore) load(ctx context.Context, key string) (domain.Progress, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("load progress: %w", err)
	}
	var p domain.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Progress{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	return p, nil
}

func (s *ProgressStore) progressKey(progressID string) string {
	return "progress:" + progressID
}

func (s *ProgressStore) userKey(quizID, userID string) string {
	return "progress:quiz:" + quizID + ":user:" + userID
}
