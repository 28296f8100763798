package qa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"finqa-api/internal/application/dialogue"
	"finqa-api/internal/domain/entity"
	wfmodel "finqa-api/internal/workflow/model"
	apperrors "finqa-api/pkg/errors"
)

type stubUnderstander struct {
	mu       sync.Mutex
	contexts []*entity.QuestionContext
	err      error
}

func (s *stubUnderstander) Understand(_ context.Context, q string, qctx *entity.QuestionContext) (*entity.Understanding, error) {
	s.mu.Lock()
	s.contexts = append(s.contexts, qctx)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return entity.NewUnderstanding(q, nil, nil), nil
}

type stubQueries struct {
	sql string
	err error
}

func (s stubQueries) Generate(context.Context, *entity.Understanding) (string, error) {
	return s.sql, s.err
}

type stubExecutor struct {
	result *entity.QueryResult
	err    error
	limits []int
}

func (s *stubExecutor) Execute(_ context.Context, _ string, rowLimit int) (*entity.QueryResult, error) {
	s.limits = append(s.limits, rowLimit)
	return s.result, s.err
}

// scriptedAnswers 依次返回预设回答，用尽后重复最后一个
type scriptedAnswers struct {
	answers []string
	calls   int
}

func (s *scriptedAnswers) Generate(context.Context, *wfmodel.AnswerInput) (string, error) {
	i := min(s.calls, len(s.answers)-1)
	s.calls++
	return s.answers[i], nil
}

type countingStore struct {
	*dialogue.Store
	gets int
}

func (c *countingStore) GetContext(ctx context.Context, questionID string) (*entity.QuestionContext, error) {
	c.gets++
	return c.Store.GetContext(ctx, questionID)
}

type memRecords struct {
	records []*entity.QuestionRecord
	err     error
}

func (m *memRecords) Create(_ context.Context, r *entity.QuestionRecord) error {
	if m.err != nil {
		return m.err
	}
	r.ID = "rec-1"
	m.records = append(m.records, r)
	return nil
}

type fixture struct {
	store   *countingStore
	und     *stubUnderstander
	exec    *stubExecutor
	answers *scriptedAnswers
	records *memRecords
	orch    *Orchestrator
}

func newFixture(cfg Config, answers ...string) *fixture {
	f := &fixture{
		store:   &countingStore{Store: dialogue.NewStore(dialogue.Config{})},
		und:     &stubUnderstander{},
		exec:    &stubExecutor{result: &entity.QueryResult{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}}},
		answers: &scriptedAnswers{answers: answers},
		records: &memRecords{},
	}
	f.orch = NewOrchestrator(cfg, f.store, f.und, stubQueries{sql: "SELECT 1"}, f.exec, f.answers, WithRecordSink(f.records))
	return f
}

func TestProcessQuestionDoneStripsSentinel(t *testing.T) {
	f := newFixture(Config{PersistFinal: true}, "partial info<|FINISH|>trailing")

	out, err := f.orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Answer != "partial info" {
		t.Fatalf("answer = %q", out.Answer)
	}
	if out.State != StateDone || out.Iterations != 1 {
		t.Fatalf("state = %s iterations = %d", out.State, out.Iterations)
	}
	if out.SQL != "SELECT 1" || out.RowCount != 1 {
		t.Fatalf("sql = %q rows = %d", out.SQL, out.RowCount)
	}
	if f.exec.limits[0] != DefaultRowLimit {
		t.Fatalf("row limit = %d", f.exec.limits[0])
	}

	turns, _ := f.store.Turns(context.Background(), "d1")
	if len(turns) != 1 || turns[0].AnswerText != "partial info" {
		t.Fatalf("persisted turns = %+v", turns)
	}
	if len(f.records.records) != 1 || f.records.records[0].State != entity.QuestionStateDone || out.RecordID != "rec-1" {
		t.Fatalf("record = %+v", f.records.records)
	}
}

func TestProcessQuestionAbortsAtMaxIteration(t *testing.T) {
	f := newFixture(Config{}, "first", "second", "third", "fourth")

	out, err := f.orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Answer != "third" || out.State != StateAborted || out.Iterations != 3 {
		t.Fatalf("outcome = %+v", out)
	}
	if f.answers.calls != 3 {
		t.Fatalf("answer calls = %d", f.answers.calls)
	}
	turns, _ := f.store.Turns(context.Background(), "d1")
	if len(turns) != 3 {
		t.Fatalf("persist policy should store every partial answer, got %d", len(turns))
	}
	// 第三次迭代的上下文包含前两次的中间回答
	last := f.und.contexts[2]
	if len(last.History) != 4 || last.History[3].Content != "second" {
		t.Fatalf("third iteration history = %+v", last.History)
	}
}

func TestProcessQuestionRefinesUntilSentinel(t *testing.T) {
	f := newFixture(Config{MaxIteration: 5}, "need more", "done now<|FINISH|>")

	out, err := f.orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Answer != "done now" || out.Iterations != 2 || out.State != StateDone {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestProcessQuestionScratchPolicy(t *testing.T) {
	f := newFixture(Config{HistoryPolicy: HistoryScratch}, "a", "b", "c")

	out, err := f.orch.ProcessQuestion(context.Background(), "d2-1", "q")
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.State != StateAborted {
		t.Fatalf("state = %s", out.State)
	}
	turns, _ := f.store.Turns(context.Background(), "d2")
	if len(turns) != 0 {
		t.Fatalf("scratch policy must not persist partial answers, got %d", len(turns))
	}
	if h := f.und.contexts[2].History; len(h) != 4 || h[1].Content != "a" {
		t.Fatalf("scratch answers should still feed later iterations: %+v", h)
	}
}

func TestProcessQuestionCallerContextSkipsStore(t *testing.T) {
	f := newFixture(Config{}, "x", "y<|FINISH|>")
	supplied := &entity.QuestionContext{History: []entity.Message{
		{Role: entity.RoleHuman, Content: "earlier"},
		{Role: entity.RoleAssistant, Content: "reply"},
	}}

	out, err := f.orch.ProcessQuestion(context.Background(), "d3-1", "q", WithContext(supplied))
	if err != nil {
		t.Fatalf("ProcessQuestion: %v", err)
	}
	if out.Answer != "y" {
		t.Fatalf("answer = %q", out.Answer)
	}
	if f.store.gets != 0 {
		t.Fatalf("store read %d times", f.store.gets)
	}
	if f.store.Len() != 0 {
		t.Fatalf("caller context must not write to the store")
	}
	if h := f.und.contexts[1].History; len(h) != 4 || h[0].Content != "earlier" || h[3].Content != "x" {
		t.Fatalf("second iteration history = %+v", h)
	}
	if len(supplied.History) != 2 {
		t.Fatalf("caller context mutated: %+v", supplied.History)
	}
}

func TestProcessQuestionExecutionError(t *testing.T) {
	f := newFixture(Config{}, "unused")
	f.exec.err = errors.New("table missing")

	out, err := f.orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if !apperrors.IsCode(err, apperrors.CodeExecutionError) {
		t.Fatalf("err = %v", err)
	}
	if out.State != StateFailed || f.answers.calls != 0 {
		t.Fatalf("outcome = %+v calls = %d", out, f.answers.calls)
	}
	if len(f.records.records) != 1 || f.records.records[0].State != entity.QuestionStateFailed ||
		!strings.Contains(f.records.records[0].ErrorMessage, "table missing") {
		t.Fatalf("record = %+v", f.records.records)
	}
}

func TestProcessQuestionEmptyQuery(t *testing.T) {
	f := newFixture(Config{}, "unused")
	f.orch.queries = stubQueries{sql: "  "}

	_, err := f.orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if !apperrors.IsCode(err, apperrors.CodeGenerationError) {
		t.Fatalf("err = %v", err)
	}
	if len(f.exec.limits) != 0 {
		t.Fatalf("executor should not run")
	}
}

func TestProcessQuestionUnderstandError(t *testing.T) {
	f := newFixture(Config{}, "unused")
	f.und.err = apperrors.ErrIndexNotReady

	_, err := f.orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if !errors.Is(err, apperrors.ErrIndexNotReady) {
		t.Fatalf("err = %v", err)
	}

	f.und.err = errors.New("boom")
	_, err = f.orch.ProcessQuestion(context.Background(), "d1-2", "q")
	if !apperrors.IsCode(err, apperrors.CodeGenerationError) {
		t.Fatalf("err = %v", err)
	}
}

func TestProcessQuestionInvalidDialogueID(t *testing.T) {
	f := newFixture(Config{}, "unused")

	_, err := f.orch.ProcessQuestion(context.Background(), "-1", "q")
	if !apperrors.IsCode(err, apperrors.CodeContextError) {
		t.Fatalf("err = %v", err)
	}
}

func TestProcessQuestionRecordFailureIgnored(t *testing.T) {
	f := newFixture(Config{}, "ok<|FINISH|>")
	f.records.err = errors.New("db down")

	out, err := f.orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if err != nil || out.Answer != "ok" || out.RecordID != "" {
		t.Fatalf("out = %+v err = %v", out, err)
	}
}

func TestProcessQuestionPersistFinalDisabled(t *testing.T) {
	f := newFixture(Config{}, "ok<|FINISH|>")

	if _, err := f.orch.ProcessQuestion(context.Background(), "d9-1", "q"); err != nil {
		t.Fatal(err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("final answer should not be stored")
	}
}

func TestStripSentinel(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"abc<|FINISH|>", "abc", true},
		{"<|FINISH|>", "", true},
		{"a<|FINISH|>b<|FINISH|>", "a", true},
		{"  padded answer \n<|FINISH|>tail", "  padded answer \n", true},
		{"no marker", "no marker", false},
	}
	for _, c := range cases {
		got, ok := StripSentinel(c.in, DefaultSentinel)
		if got != c.want || ok != c.ok {
			t.Errorf("StripSentinel(%q) = %q, %v", c.in, got, ok)
		}
	}
}

func TestParseHistoryPolicy(t *testing.T) {
	if p, err := ParseHistoryPolicy(""); err != nil || p != HistoryPersist {
		t.Fatalf("default = %v %v", p, err)
	}
	if p, err := ParseHistoryPolicy("Scratch"); err != nil || p != HistoryScratch {
		t.Fatalf("scratch = %v %v", p, err)
	}
	if _, err := ParseHistoryPolicy("nope"); err == nil {
		t.Fatal("expected error")
	}
}

// slowAnswers 统计同时进行中的回答生成数量
type slowAnswers struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *slowAnswers) Generate(_ context.Context, in *wfmodel.AnswerInput) (string, error) {
	s.mu.Lock()
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	s.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return "done" + in.Sentinel, nil
}

func TestSameDialogueQuestionsRunSequentially(t *testing.T) {
	und := &stubUnderstander{}
	answers := &slowAnswers{}
	orch := NewOrchestrator(Config{PersistFinal: true}, dialogue.NewStore(dialogue.Config{}), und,
		stubQueries{sql: "SELECT 1"}, lockedExecutor{}, answers, WithDialogueLock(dialogue.NewKeyedMutex()))

	var wg sync.WaitGroup
	for _, id := range []string{"d1-1", "d1-2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.ProcessQuestion(context.Background(), id, "q"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if answers.peak != 1 {
		t.Fatalf("same dialogue processed concurrently, peak = %d", answers.peak)
	}
	lens := []int{len(und.contexts[0].History), len(und.contexts[1].History)}
	if lens[0] != 0 || lens[1] != 2 {
		t.Fatalf("second question should see the first answer, history lengths = %v", lens)
	}
}

type lockedExecutor struct{}

func (lockedExecutor) Execute(context.Context, string, int) (*entity.QueryResult, error) {
	return &entity.QueryResult{}, nil
}

type refusingLocker struct{}

func (refusingLocker) Lock(context.Context, string) (func(), error) {
	return nil, context.DeadlineExceeded
}

func TestDialogueLockFailureIsContextError(t *testing.T) {
	und := &stubUnderstander{}
	orch := NewOrchestrator(Config{}, dialogue.NewStore(dialogue.Config{}), und,
		stubQueries{sql: "SELECT 1"}, lockedExecutor{}, &slowAnswers{}, WithDialogueLock(refusingLocker{}))

	out, err := orch.ProcessQuestion(context.Background(), "d1-1", "q")
	if !apperrors.IsCode(err, apperrors.CodeContextError) {
		t.Fatalf("err = %v", err)
	}
	if out.State != StateFailed || len(und.contexts) != 0 {
		t.Fatalf("state = %s, understand calls = %d", out.State, len(und.contexts))
	}

	// 调用方自带上下文时不读写存储，也不需要锁
	if _, err := orch.ProcessQuestion(context.Background(), "d1-2", "q", WithContext(&entity.QuestionContext{})); err != nil {
		t.Fatalf("caller context should bypass lock: %v", err)
	}
}
