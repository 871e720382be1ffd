package app

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"quizflow-service/internal/domain"
	"quizflow-service/internal/flow"
)

// PlayerSession is the mutable traversal state of one attempt. It moves
// through three states: new (no progress id yet), in progress, and
// finished (a dead end or a result node; the latter also finalizes the
// attempt). One respondent drives one session; the mutex exists because
// the debounced saver fires on its own goroutine.
//
// The in-memory state is the source of truth for the running session.
// Persistence is optimistic: every accepted transition schedules a
// debounced save and traversal never waits for it.
type PlayerSession struct {
	quiz     domain.Quiz
	userID   string
	progress ProgressStore
	attempts AttemptStore
	saver    *progressSaver

	mu            sync.Mutex
	progressID    string
	currentNodeID string
	history       []string
	answers       map[string]string
	textInputs    map[string]string
	percent       float64
	finished      bool
	resultNodeID  string
	finalized     bool
}

// AdvanceResult reports the outcome of one accepted transition.
type AdvanceResult struct {
	// Node is the new current node; nil when the flow dead-ended.
	Node *domain.FlowNode
	// Percent is the recomputed completion percentage.
	Percent float64
	// Finished is true for any terminal outcome, dead ends included.
	Finished bool
	// Completed is true only when a result node was reached.
	Completed bool
	// Attempt is the completed-attempt record, set when Completed and the
	// record write succeeded.
	Attempt *domain.Attempt
}

// Start seeds a fresh attempt: picks the start node, generates a progress
// id, and initializes the history.
func (s *PlayerSession) Start() (domain.FlowNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := flow.StartNode(s.quiz.Flow.Nodes, s.quiz.Flow.Edges)
	if !ok {
		return domain.FlowNode{}, domain.ErrEmptyFlow
	}
	s.seedLocked(start)
	return start, nil
}

// Resume rehydrates the session from a previously persisted snapshot. The
// saved state is taken as-is, not re-derived from the graph.
func (s *PlayerSession) Resume(pending *PendingResume) (domain.FlowNode, error) {
	if pending == nil {
		return s.Start()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := pending.Progress
	s.progressID = saved.ProgressID
	s.currentNodeID = saved.CurrentNodeID
	s.history = append([]string(nil), saved.NodeHistory...)
	s.answers = copyMap(saved.Answers)
	s.textInputs = copyMap(saved.TextInputs)
	s.percent = saved.ProgressPercentage
	s.finished = false
	s.resultNodeID = ""
	s.finalized = false

	node, ok := flow.FindNode(s.quiz.Flow.Nodes, saved.CurrentNodeID)
	if !ok {
		return domain.FlowNode{}, domain.ErrMalformedGraph
	}
	return node, nil
}

// Restart abandons the current attempt and re-seeds from a start node
// under a fresh progress id. The prior attempt's persisted record is left
// in storage untouched.
func (s *PlayerSession) Restart() (domain.FlowNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saver.Cancel()
	start, ok := flow.StartNode(s.quiz.Flow.Nodes, s.quiz.Flow.Edges)
	if !ok {
		return domain.FlowNode{}, domain.ErrEmptyFlow
	}
	s.seedLocked(start)
	return start, nil
}

func (s *PlayerSession) seedLocked(start domain.FlowNode) {
	s.progressID = uuid.NewString()
	s.currentNodeID = start.ID
	s.history = []string{start.ID}
	s.answers = make(map[string]string)
	s.textInputs = make(map[string]string)
	s.finished = false
	s.resultNodeID = ""
	s.finalized = false
	s.recomputeLocked()
}

// Advance submits an answer for the current node and moves to the next
// one. answer is the chosen option id for question nodes, the typed value
// for text inputs, and ignored for message nodes. Validation rejections
// (ErrAnswerRequired, ErrInputRequired) leave the state untouched so the
// caller can re-prompt.
//
// On reaching a result node the attempt is finalized exactly once: the
// final snapshot and completion marker are persisted best-effort, then the
// immutable attempt record is written. Only the attempt-write error is
// surfaced; the session still ends up completed.
func (s *PlayerSession) Advance(ctx context.Context, answer string) (AdvanceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progressID == "" {
		return AdvanceResult{}, domain.ErrNotStarted
	}
	if s.finished {
		return AdvanceResult{}, domain.ErrAttemptFinished
	}

	current, ok := flow.FindNode(s.quiz.Flow.Nodes, s.currentNodeID)
	if !ok {
		s.finished = true
		return AdvanceResult{Finished: true, Percent: s.percent}, nil
	}

	tr, err := flow.ResolveNext(current, answer, s.quiz.Flow.Nodes, s.quiz.Flow.Edges)
	if err != nil {
		return AdvanceResult{}, err
	}

	if flow.IsQuestionNode(current) {
		s.answers[current.ID] = answer
		if current.Type == domain.NodeTextInput {
			s.textInputs[current.ID] = answer
		}
	}

	if tr.Terminal {
		s.finished = true
		s.recomputeLocked()
		s.scheduleSaveLocked()
		return AdvanceResult{Finished: true, Percent: s.percent}, nil
	}

	s.history = append(s.history, tr.NextNodeID)
	s.currentNodeID = tr.NextNodeID

	next, ok := flow.FindNode(s.quiz.Flow.Nodes, tr.NextNodeID)
	if !ok {
		s.finished = true
		s.scheduleSaveLocked()
		return AdvanceResult{Finished: true, Percent: s.percent}, nil
	}

	if next.Type == domain.NodeResult {
		s.finished = true
		s.resultNodeID = next.ID
		s.percent = 100
		attempt, err := s.finalizeLocked(ctx)
		return AdvanceResult{
			Node:      &next,
			Percent:   s.percent,
			Finished:  true,
			Completed: true,
			Attempt:   attempt,
		}, err
	}

	s.recomputeLocked()
	s.scheduleSaveLocked()
	return AdvanceResult{Node: &next, Percent: s.percent}, nil
}

// GoBack pops the most recent history entry and makes the prior node
// current again. A no-op at the first node or once the attempt finished.
func (s *PlayerSession) GoBack() (domain.FlowNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || len(s.history) <= 1 {
		return domain.FlowNode{}, false
	}
	s.history = s.history[:len(s.history)-1]
	s.currentNodeID = s.history[len(s.history)-1]
	s.recomputeLocked()
	s.scheduleSaveLocked()

	node, ok := flow.FindNode(s.quiz.Flow.Nodes, s.currentNodeID)
	return node, ok
}

// finalizeLocked runs the one-shot completion sequence. The finalized flag
// guards it so re-entries into the finished state never re-fire it. The
// progress writes are best-effort; the attempt write is the one reportable
// persistence failure of the engine, since analytics depends on it.
func (s *PlayerSession) finalizeLocked(ctx context.Context) (*domain.Attempt, error) {
	if s.finalized {
		return nil, nil
	}
	s.finalized = true

	s.saver.Cancel()
	if err := s.progress.Save(ctx, s.snapshotLocked()); err != nil {
		log.Printf("save final progress %s: %v", s.progressID, err)
	}
	if err := s.progress.MarkCompleted(ctx, s.progressID, s.resultNodeID); err != nil {
		log.Printf("mark progress %s completed: %v", s.progressID, err)
	}

	attempt, err := s.attempts.Create(ctx, domain.Attempt{
		QuizID:       s.quiz.ID,
		UserID:       s.userID,
		ResultNodeID: s.resultNodeID,
		Answers:      copyMap(s.answers),
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (s *PlayerSession) recomputeLocked() {
	nodes, edges := s.quiz.Flow.Nodes, s.quiz.Flow.Edges
	predicted := flow.PredictPath(s.history, s.currentNodeID, nodes, edges)
	total := flow.CountQuestions(predicted, nodes)
	answered := flow.CountAnswered(s.history, s.answers, nodes)
	s.percent = flow.ProgressPercent(answered, total)
}

// scheduleSaveLocked stages a debounced write of the current snapshot.
// Nothing is persisted while the attempt still sits on its start node.
func (s *PlayerSession) scheduleSaveLocked() {
	if len(s.history) <= 1 {
		return
	}
	s.saver.Schedule(s.snapshotLocked())
}

func (s *PlayerSession) snapshotLocked() domain.Progress {
	return domain.Progress{
		ProgressID:         s.progressID,
		QuizID:             s.quiz.ID,
		UserID:             s.userID,
		CurrentNodeID:      s.currentNodeID,
		NodeHistory:        append([]string(nil), s.history...),
		Answers:            copyMap(s.answers),
		TextInputs:         copyMap(s.textInputs),
		ProgressPercentage: s.percent,
		IsCompleted:        s.resultNodeID != "",
		ResultNodeID:       s.resultNodeID,
	}
}

// Snapshot returns the persistable view of the current state.
func (s *PlayerSession) Snapshot() domain.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CurrentNode returns the node the respondent is on.
func (s *PlayerSession) CurrentNode() (domain.FlowNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentNodeID == "" {
		return domain.FlowNode{}, false
	}
	return flow.FindNode(s.quiz.Flow.Nodes, s.currentNodeID)
}

// Result returns the reached result node, if any.
func (s *PlayerSession) Result() (domain.FlowNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultNodeID == "" {
		return domain.FlowNode{}, false
	}
	return flow.FindNode(s.quiz.Flow.Nodes, s.resultNodeID)
}

// ProgressPercent returns the current completion percentage.
func (s *PlayerSession) ProgressPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent
}

// ProgressID returns the persistence key of this attempt.
func (s *PlayerSession) ProgressID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressID
}

// Completed reports whether a result node was reached.
func (s *PlayerSession) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultNodeID != ""
}

// Finished reports whether the attempt reached any terminal state.
func (s *PlayerSession) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// SetSaveListener registers a callback fired after every debounced write
// attempt, with the write error if it failed.
func (s *PlayerSession) SetSaveListener(fn func(err error)) {
	s.saver.setNotify(fn)
}

// Close flushes any pending debounced save. Call on disconnect.
func (s *PlayerSession) Close(ctx context.Context) error {
	return s.saver.Flush(ctx)
}

func copyMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
