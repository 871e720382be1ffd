package app

import (
	"context"
	"log"
	"sync"
	"time"

	"quizflow-service/internal/domain"
)

const saveTimeout = 5 * time.Second

// progressSaver coalesces rapid successive snapshots into a single write.
// Each Schedule cancels the pending timer and replaces the pending
// snapshot, so only the latest state reaches the store. Failed writes are
// logged, kept as pending, and retried on the next debounce or Flush;
// persistence is best-effort and never blocks traversal.
type progressSaver struct {
	store ProgressStore
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending *domain.Progress
	notify  func(err error)
}

func newProgressSaver(store ProgressStore, delay time.Duration) *progressSaver {
	return &progressSaver{store: store, delay: delay}
}

// setNotify registers a callback invoked after every write attempt.
func (s *progressSaver) setNotify(fn func(err error)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// Schedule stages a snapshot for writing after the debounce window. A
// newer snapshot arriving before the window elapses supersedes it.
func (s *progressSaver) Schedule(snapshot domain.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &snapshot
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.fire)
}

// Cancel drops the pending snapshot without writing it.
func (s *progressSaver) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}

// Flush writes the pending snapshot immediately, if any.
func (s *progressSaver) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	snapshot := s.pending
	s.pending = nil
	s.mu.Unlock()

	if snapshot == nil {
		return nil
	}
	return s.store.Save(ctx, *snapshot)
}

func (s *progressSaver) fire() {
	s.mu.Lock()
	snapshot := s.pending
	s.pending = nil
	s.timer = nil
	notify := s.notify
	s.mu.Unlock()

	if snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	err := s.store.Save(ctx, *snapshot)
	if err != nil {
		log.Printf("save progress %s: %v", snapshot.ProgressID, err)
		s.mu.Lock()
		if s.pending == nil {
			s.pending = snapshot
		}
		s.mu.Unlock()
	}
	if notify != nil {
		notify(err)
	}
}
