package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizflow-service/internal/domain"
	"quizflow-service/internal/infra/memory"
)

// basicQuiz is a message into an option question with a condition behind
// it: answer "x" routes to r1, anything else falls through to r2.
func basicQuiz() domain.Quiz {
	return domain.Quiz{
		ID:     "quiz-1",
		Title:  "Basic",
		Status: domain.StatusPublished,
		Flow: domain.FlowData{
			Nodes: []domain.FlowNode{
				{ID: "m1", Type: domain.NodeMessage, Data: domain.MessageData{Text: "welcome"}},
				{ID: "q1", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{
					Options: []domain.Option{{ID: "x", Text: "left"}, {ID: "y", Text: "right"}},
				}},
				{ID: "c1", Type: domain.NodeCondition, Data: domain.ConditionData{
					Conditions: []domain.Condition{{SourceID: "q1", OptionID: "x", TargetID: "r1"}},
				}},
				{ID: "r1", Type: domain.NodeResult},
				{ID: "r2", Type: domain.NodeResult},
			},
			Edges: []domain.FlowEdge{
				{ID: "e1", Source: "m1", Target: "q1"},
				{ID: "e2", Source: "q1", Target: "c1"},
				{ID: "e3", Source: "c1", Target: "r2"},
			},
		},
	}
}

type fixture struct {
	service  *PlayerService
	progress *memory.ProgressStore
	attempts *memory.AttemptStore
}

func newFixture(t *testing.T, quizzes map[string]domain.Quiz, saveDelay time.Duration) *fixture {
	t.Helper()
	repo := memory.NewQuizRepository(memory.NewStaticQuizLoader(quizzes), time.Minute)
	progress := memory.NewProgressStore()
	attempts := memory.NewAttemptStore()
	return &fixture{
		service:  NewPlayerService(repo, progress, attempts, saveDelay),
		progress: progress,
		attempts: attempts,
	}
}

func (f *fixture) open(t *testing.T, quizID, userID, progressID string) (*PlayerSession, *PendingResume) {
	t.Helper()
	session, pending, err := f.service.Open(context.Background(), quizID, userID, progressID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return session, pending
}

func TestFullTraversalRecordsAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 10*time.Millisecond)
	session, pending := f.open(t, "quiz-1", "user-1", "")
	if pending != nil {
		t.Fatalf("unexpected pending resume %+v", pending)
	}

	start, err := session.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.ID != "m1" {
		t.Fatalf("start = %s, want m1", start.ID)
	}
	if pct := session.ProgressPercent(); pct != 0 {
		t.Fatalf("initial percent = %v, want 0", pct)
	}

	res, err := session.Advance(ctx, "")
	if err != nil {
		t.Fatalf("advance past message: %v", err)
	}
	if res.Node == nil || res.Node.ID != "q1" || res.Finished {
		t.Fatalf("expected q1, got %+v", res)
	}
	// Message nodes do not count toward progress; still 0 before q1 is
	// answered.
	if res.Percent != 0 {
		t.Fatalf("percent at q1 = %v, want 0", res.Percent)
	}
	if got := len(session.Snapshot().NodeHistory); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}

	res, err = session.Advance(ctx, "x")
	if err != nil {
		t.Fatalf("advance with answer: %v", err)
	}
	if !res.Completed || res.Node == nil || res.Node.ID != "r1" {
		t.Fatalf("expected completion at r1, got %+v", res)
	}
	if res.Percent != 100 {
		t.Fatalf("completion percent = %v, want 100", res.Percent)
	}
	if res.Attempt == nil || res.Attempt.ID == "" {
		t.Fatalf("expected recorded attempt, got %+v", res.Attempt)
	}
	if res.Attempt.ResultNodeID != "r1" || res.Attempt.Answers["q1"] != "x" {
		t.Fatalf("attempt payload wrong: %+v", res.Attempt)
	}

	recorded := f.attempts.ByQuiz("quiz-1")
	if len(recorded) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(recorded))
	}

	saved, err := f.progress.Get(ctx, session.ProgressID())
	if err != nil {
		t.Fatalf("get final progress: %v", err)
	}
	if !saved.IsCompleted || saved.ResultNodeID != "r1" {
		t.Fatalf("final progress not completed: %+v", saved)
	}
}

func TestAdvanceAfterFinishIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 10*time.Millisecond)
	session, _ := f.open(t, "quiz-1", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := session.Advance(ctx, "y"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := session.Advance(ctx, "y"); !errors.Is(err, domain.ErrAttemptFinished) {
		t.Fatalf("expected ErrAttemptFinished, got %v", err)
	}
	if got := len(f.attempts.ByQuiz("quiz-1")); got != 1 {
		t.Fatalf("attempt count = %d, want 1", got)
	}
}

func TestAdvanceWithoutStart(t *testing.T) {
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 10*time.Millisecond)
	session, _ := f.open(t, "quiz-1", "", "")

	if _, err := session.Advance(context.Background(), "x"); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestValidationRejectionLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 10*time.Millisecond)
	session, _ := f.open(t, "quiz-1", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	before := session.Snapshot()

	if _, err := session.Advance(ctx, ""); !errors.Is(err, domain.ErrAnswerRequired) {
		t.Fatalf("expected ErrAnswerRequired, got %v", err)
	}

	after := session.Snapshot()
	if after.CurrentNodeID != before.CurrentNodeID || len(after.NodeHistory) != len(before.NodeHistory) || len(after.Answers) != len(before.Answers) {
		t.Fatalf("state changed on rejected answer: before %+v after %+v", before, after)
	}
}

func TestGoBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 10*time.Millisecond)
	session, _ := f.open(t, "quiz-1", "", "")

	start, _ := session.Start()
	if _, ok := session.GoBack(); ok {
		t.Fatalf("go back at start node should be a no-op")
	}

	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	node, ok := session.GoBack()
	if !ok || node.ID != start.ID {
		t.Fatalf("expected back to %s, got %s ok=%v", start.ID, node.ID, ok)
	}

	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := session.Advance(ctx, "x"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, ok := session.GoBack(); ok {
		t.Fatalf("go back after completion should be a no-op")
	}
}

func TestRestartKeepsPriorRecordAndRotatesID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, time.Millisecond)
	session, _ := f.open(t, "quiz-1", "user-1", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	firstID := session.ProgressID()
	if err := session.Close(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	node, err := session.Restart()
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if node.ID != "m1" {
		t.Fatalf("restart start = %s, want m1", node.ID)
	}
	if session.ProgressID() == firstID {
		t.Fatalf("restart must rotate the progress id")
	}
	if session.ProgressPercent() != 0 {
		t.Fatalf("restart percent = %v, want 0", session.ProgressPercent())
	}

	// The abandoned attempt's snapshot stays in storage.
	if _, err := f.progress.Get(ctx, firstID); err != nil {
		t.Fatalf("prior snapshot gone: %v", err)
	}
}

func TestResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, time.Millisecond)

	first, pending := f.open(t, "quiz-1", "user-1", "")
	if pending != nil {
		t.Fatalf("unexpected pending on first open")
	}
	if _, err := first.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	progressID := first.ProgressID()

	// By client-held progress id.
	second, pending := f.open(t, "quiz-1", "", progressID)
	if pending == nil {
		t.Fatalf("expected pending resume by progress id")
	}
	node, err := second.Resume(pending)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if node.ID != "q1" || second.ProgressID() != progressID {
		t.Fatalf("resumed at %s id %s, want q1 %s", node.ID, second.ProgressID(), progressID)
	}

	// By user, without a client-held id.
	_, pending = f.open(t, "quiz-1", "user-1", "")
	if pending == nil || pending.Progress.ProgressID != progressID {
		t.Fatalf("expected pending resume by user, got %+v", pending)
	}
	if pending.ProgressPercent() != pending.Progress.ProgressPercentage {
		t.Fatalf("resume prompt percent mismatch")
	}
}

func TestCompletedSnapshotIsNotResumable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 50*time.Millisecond)

	session, _ := f.open(t, "quiz-1", "user-1", "")
	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := session.Advance(ctx, "x"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	_, pending := f.open(t, "quiz-1", "user-1", session.ProgressID())
	if pending != nil {
		t.Fatalf("completed snapshot offered for resume: %+v", pending.Progress)
	}
}

func TestUnpublishedQuizHiddenFromAnonymous(t *testing.T) {
	quiz := basicQuiz()
	quiz.Status = domain.StatusDraft
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": quiz}, time.Millisecond)

	if _, _, err := f.service.Open(context.Background(), "quiz-1", "", ""); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound for anonymous, got %v", err)
	}
	if _, _, err := f.service.Open(context.Background(), "quiz-1", "author-1", ""); err != nil {
		t.Fatalf("identified preview refused: %v", err)
	}
}

func TestOpenValidatesGraph(t *testing.T) {
	quiz := basicQuiz()
	quiz.Flow.Edges = append(quiz.Flow.Edges, domain.FlowEdge{ID: "bad", Source: "q1", Target: "ghost"})
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": quiz}, time.Millisecond)

	if _, _, err := f.service.Open(context.Background(), "quiz-1", "", ""); !errors.Is(err, domain.ErrMalformedGraph) {
		t.Fatalf("expected ErrMalformedGraph, got %v", err)
	}
}

func TestDebounceCoalescesSaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 40*time.Millisecond)
	session, _ := f.open(t, "quiz-1", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, ok := session.GoBack(); !ok {
		t.Fatalf("go back failed")
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if got := f.progress.SaveCount(); got != 1 {
		t.Fatalf("save count = %d, want 1 coalesced write", got)
	}

	saved, err := f.progress.Get(ctx, session.ProgressID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if saved.CurrentNodeID != "q1" {
		t.Fatalf("persisted node = %s, want latest q1", saved.CurrentNodeID)
	}
}

func TestStartOnlyStateIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, time.Millisecond)
	session, _ := f.open(t, "quiz-1", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := f.progress.SaveCount(); got != 0 {
		t.Fatalf("save count = %d, want 0 before first transition", got)
	}
}

func TestSaveFailureDoesNotBlockTraversal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, 5*time.Millisecond)
	f.progress.SetSaveHook(func(domain.Progress) error { return errors.New("store down") })

	session, _ := f.open(t, "quiz-1", "", "")
	notified := make(chan error, 4)
	session.SetSaveListener(func(err error) { notified <- err })

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance must not surface save failures: %v", err)
	}

	select {
	case err := <-notified:
		if err == nil {
			t.Fatalf("expected failure notification")
		}
	case <-time.After(time.Second):
		t.Fatalf("no save notification")
	}

	// The snapshot stays pending; once the store recovers, Flush lands it.
	f.progress.SetSaveHook(nil)
	if err := session.Close(ctx); err != nil {
		t.Fatalf("flush after recovery: %v", err)
	}
	if _, err := f.progress.Get(ctx, session.ProgressID()); err != nil {
		t.Fatalf("snapshot not retried: %v", err)
	}
}

func TestAttemptWriteFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-1": basicQuiz()}, time.Millisecond)
	storeErr := errors.New("attempts unavailable")
	f.attempts.FailWith(storeErr)

	session, _ := f.open(t, "quiz-1", "", "")
	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}

	res, err := session.Advance(ctx, "x")
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected surfaced attempt error, got %v", err)
	}
	if !res.Completed || res.Attempt != nil {
		t.Fatalf("completion state wrong on failed attempt write: %+v", res)
	}
	if !session.Completed() {
		t.Fatalf("session must still end up completed")
	}
	// Finalization is one-shot even when the attempt write failed.
	if _, err := session.Advance(ctx, "x"); !errors.Is(err, domain.ErrAttemptFinished) {
		t.Fatalf("expected ErrAttemptFinished, got %v", err)
	}
}

func TestDeadEndFinishesWithoutResult(t *testing.T) {
	quiz := domain.Quiz{
		ID:     "quiz-dead",
		Status: domain.StatusPublished,
		Flow: domain.FlowData{
			Nodes: []domain.FlowNode{
				{ID: "m1", Type: domain.NodeMessage},
				{ID: "q1", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{
					Options: []domain.Option{{ID: "a", Text: "only"}},
				}},
			},
			Edges: []domain.FlowEdge{{ID: "e1", Source: "m1", Target: "q1"}},
		},
	}
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-dead": quiz}, time.Millisecond)
	session, _ := f.open(t, "quiz-dead", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}

	res, err := session.Advance(ctx, "a")
	if err != nil {
		t.Fatalf("advance at dead end: %v", err)
	}
	if !res.Finished || res.Completed || res.Node != nil {
		t.Fatalf("expected finished-without-result, got %+v", res)
	}
	if session.Completed() {
		t.Fatalf("dead end must not count as completed")
	}
	if got := len(f.attempts.ByQuiz("quiz-dead")); got != 0 {
		t.Fatalf("dead end recorded an attempt")
	}
}

func TestProgressCanDropAfterConditionReroute(t *testing.T) {
	// The default route is short; answer "x" reroutes through three extra
	// questions, growing the predicted denominator.
	quiz := domain.Quiz{
		ID:     "quiz-branch",
		Status: domain.StatusPublished,
		Flow: domain.FlowData{
			Nodes: []domain.FlowNode{
				{ID: "q0", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{Options: []domain.Option{{ID: "o", Text: "go"}}}},
				{ID: "q1", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{Options: []domain.Option{{ID: "x", Text: "long"}, {ID: "y", Text: "short"}}}},
				{ID: "c1", Type: domain.NodeCondition, Data: domain.ConditionData{
					Conditions: []domain.Condition{{SourceID: "q1", OptionID: "x", TargetID: "q2"}},
				}},
				{ID: "q2", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{Options: []domain.Option{{ID: "o", Text: "go"}}}},
				{ID: "q3", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{Options: []domain.Option{{ID: "o", Text: "go"}}}},
				{ID: "q4", Type: domain.NodeOptionQuestion, Data: domain.OptionQuestionData{Options: []domain.Option{{ID: "o", Text: "go"}}}},
				{ID: "r1", Type: domain.NodeResult},
				{ID: "r2", Type: domain.NodeResult},
			},
			Edges: []domain.FlowEdge{
				{ID: "e1", Source: "q0", Target: "q1"},
				{ID: "e2", Source: "q1", Target: "c1"},
				{ID: "e3", Source: "c1", Target: "r2"},
				{ID: "e4", Source: "q2", Target: "q3"},
				{ID: "e5", Source: "q3", Target: "q4"},
				{ID: "e6", Source: "q4", Target: "r1"},
			},
		},
	}
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-branch": quiz}, time.Millisecond)
	session, _ := f.open(t, "quiz-branch", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := session.Advance(ctx, "o")
	if err != nil {
		t.Fatalf("advance q0: %v", err)
	}
	before := res.Percent
	if before != 50 {
		t.Fatalf("percent at q1 = %v, want 50", before)
	}

	res, err = session.Advance(ctx, "x")
	if err != nil {
		t.Fatalf("advance q1: %v", err)
	}
	if res.Node == nil || res.Node.ID != "q2" {
		t.Fatalf("expected reroute to q2, got %+v", res)
	}
	if res.Percent >= before {
		t.Fatalf("percent did not drop after reroute: %v -> %v", before, res.Percent)
	}
}

func TestConditionAfterMessageNeverEntersHistory(t *testing.T) {
	quiz := domain.Quiz{
		ID:     "quiz-cond",
		Status: domain.StatusPublished,
		Flow: domain.FlowData{
			Nodes: []domain.FlowNode{
				{ID: "m1", Type: domain.NodeMessage},
				{ID: "c1", Type: domain.NodeCondition, Data: domain.ConditionData{
					Conditions: []domain.Condition{{SourceID: "q9", OptionID: "a", TargetID: "r2"}},
				}},
				{ID: "r1", Type: domain.NodeResult},
				{ID: "r2", Type: domain.NodeResult},
			},
			Edges: []domain.FlowEdge{
				{ID: "e1", Source: "m1", Target: "c1"},
				{ID: "e2", Source: "c1", Target: "r1"},
			},
		},
	}
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-cond": quiz}, time.Millisecond)
	session, _ := f.open(t, "quiz-cond", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := session.Advance(ctx, "")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !res.Completed || res.Node == nil || res.Node.ID != "r1" {
		t.Fatalf("expected completion at r1 past the condition, got %+v", res)
	}

	for _, id := range session.Snapshot().NodeHistory {
		if id == "c1" {
			t.Fatalf("condition node recorded in history: %v", session.Snapshot().NodeHistory)
		}
	}
}

func TestTextInputRecordedSeparately(t *testing.T) {
	quiz := domain.Quiz{
		ID:     "quiz-text",
		Status: domain.StatusPublished,
		Flow: domain.FlowData{
			Nodes: []domain.FlowNode{
				{ID: "t1", Type: domain.NodeTextInput, Data: domain.TextInputData{Label: "name", Required: true}},
				{ID: "r1", Type: domain.NodeResult},
			},
			Edges: []domain.FlowEdge{{ID: "e1", Source: "t1", Target: "r1"}},
		},
	}
	ctx := context.Background()
	f := newFixture(t, map[string]domain.Quiz{"quiz-text": quiz}, time.Millisecond)
	session, _ := f.open(t, "quiz-text", "", "")

	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Advance(ctx, "  "); !errors.Is(err, domain.ErrInputRequired) {
		t.Fatalf("expected ErrInputRequired, got %v", err)
	}

	res, err := session.Advance(ctx, "Ada")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !res.Completed {
		t.Fatalf("expected completion, got %+v", res)
	}
	snap := session.Snapshot()
	if snap.Answers["t1"] != "Ada" || snap.TextInputs["t1"] != "Ada" {
		t.Fatalf("text answer not recorded in both maps: %+v", snap)
	}
}

func TestEmptyFlow(t *testing.T) {
	quiz := domain.Quiz{ID: "quiz-empty", Status: domain.StatusPublished}
	f := newFixture(t, map[string]domain.Quiz{"quiz-empty": quiz}, time.Millisecond)
	session, _ := f.open(t, "quiz-empty", "", "")

	if _, err := session.Start(); !errors.Is(err, domain.ErrEmptyFlow) {
		t.Fatalf("expected ErrEmptyFlow, got %v", err)
	}
}
