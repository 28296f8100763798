package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"finqa-api/internal/application/catalog"
	"finqa-api/internal/application/dialogue"
	"finqa-api/internal/application/qa"
	"finqa-api/internal/config"
	"finqa-api/internal/domain/entity"
	"finqa-api/internal/domain/repository"
	"finqa-api/internal/infrastructure/messaging"
	"finqa-api/internal/interfaces/http/handler"
	apperrors "finqa-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProcessor struct {
	err      error
	lastID   string
	lastOpts int
}

func (p *stubProcessor) ProcessQuestion(_ context.Context, questionID, text string, opts ...qa.ProcessOption) (*qa.Outcome, error) {
	p.lastID = questionID
	p.lastOpts = len(opts)
	if p.err != nil {
		return &qa.Outcome{QuestionID: questionID, State: qa.StateFailed}, p.err
	}
	return &qa.Outcome{
		QuestionID: questionID,
		DialogueID: dialogue.DialogueID(questionID),
		Answer:     "答:" + text,
		State:      qa.StateDone,
		Iterations: 1,
		SQL:        "SELECT 1",
	}, nil
}

type stubRecords struct {
	items []*entity.QuestionRecord
}

func (s *stubRecords) Create(context.Context, *entity.QuestionRecord) error { return nil }
func (s *stubRecords) GetByID(context.Context, string) (*entity.QuestionRecord, error) {
	return nil, apperrors.ErrRecordNotFound
}
func (s *stubRecords) ListByQuestionID(_ context.Context, questionID string, p repository.Pagination) (*repository.PagedResult[*entity.QuestionRecord], error) {
	var out []*entity.QuestionRecord
	for _, r := range s.items {
		if r.QuestionID == questionID {
			out = append(out, r)
		}
	}
	return repository.NewPagedResult(out, int64(len(out)), p), nil
}
func (s *stubRecords) ListByDialogue(_ context.Context, dialogueID string, p repository.Pagination) (*repository.PagedResult[*entity.QuestionRecord], error) {
	var out []*entity.QuestionRecord
	for _, r := range s.items {
		if r.DialogueID == dialogueID {
			out = append(out, r)
		}
	}
	return repository.NewPagedResult(out, int64(len(out)), p), nil
}

type stubRetriever struct {
	hits []entity.RetrievalHit
	err  error
}

func (s *stubRetriever) Retrieve(context.Context, string, int, float64) ([]entity.RetrievalHit, error) {
	return s.hits, s.err
}

type stubPublisher struct {
	job *messaging.QuestionJob
	err error
}

func (s *stubPublisher) PublishQuestionJob(_ context.Context, job *messaging.QuestionJob) (string, error) {
	s.job = job
	return "1700000000000-0", s.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type fixture struct {
	proc      *stubProcessor
	store     *dialogue.Store
	retriever *stubRetriever
	publisher *stubPublisher
	records   *stubRecords
}

func newTestRouter(t *testing.T, f *fixture, mutate func(*config.Config, *Handlers)) *gin.Engine {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"

	cat := catalog.New([]entity.CatalogEntry{
		{CanonicalID: "stock.quote", DisplayNameLocal: "股票.行情", DisplayNameExternal: "stock.quote"},
		{CanonicalID: "fund.nav", DisplayNameLocal: "基金.净值", DisplayNameExternal: "fund.nav"},
	})

	h := Handlers{
		Health:   handler.NewHealthHandler("test"),
		Question: handler.NewQuestionHandler(f.proc, f.records),
		Dialogue: handler.NewDialogueHandler(f.store),
		Catalog:  handler.NewCatalogHandler(catalog.NewSearcher(f.retriever, catalog.NewResolver(cat, nil))),
		Job:      handler.NewJobHandler(f.publisher),
	}
	if mutate != nil {
		mutate(cfg, &h)
	}
	return New(cfg, h, nil).Engine()
}

func newFixture() *fixture {
	return &fixture{
		proc:      &stubProcessor{},
		store:     dialogue.NewStore(dialogue.Config{}),
		retriever: &stubRetriever{},
		publisher: &stubPublisher{},
		records:   &stubRecords{},
	}
}

func do(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		ErrorCode string `json:"error_code"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

func TestAskQuestion(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodPost, "/v1/questions", map[string]any{"question_id": "d1-0", "question": "茅台市值"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Answer     string `json:"answer"`
		State      string `json:"state"`
		DialogueID string `json:"dialogue_id"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "答:茅台市值" || resp.State != "DONE" || resp.DialogueID != "d1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if f.proc.lastOpts != 0 {
		t.Fatalf("no context supplied, got %d options", f.proc.lastOpts)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestAskQuestionGeneratesID(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodPost, "/v1/questions", map[string]any{
		"question": "q",
		"context":  map[string]any{"history": []map[string]string{{"role": "human", "content": "hi"}, {"role": "assistant", "content": "hello"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if !strings.HasSuffix(f.proc.lastID, "-0") || strings.Count(f.proc.lastID, "-") != 1 {
		t.Fatalf("unexpected generated id %q", f.proc.lastID)
	}
	if f.proc.lastOpts != 1 {
		t.Fatalf("expected caller context option, got %d", f.proc.lastOpts)
	}
}

func TestAskQuestionErrors(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodPost, "/v1/questions", map[string]any{"question_id": "d1-0"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing question: status %d", w.Code)
	}

	w = do(engine, http.MethodPost, "/v1/questions", map[string]any{
		"question": "q",
		"context":  map[string]any{"history": []map[string]string{{"role": "robot", "content": "x"}}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad role: status %d", w.Code)
	}

	f.proc.err = apperrors.ExecutionError(errors.New("syntax error"), "query execution failed")
	w = do(engine, http.MethodPost, "/v1/questions", map[string]any{"question_id": "d1-1", "question": "q"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("execution error: status %d", w.Code)
	}
	if env := decode(t, w); env.Error == nil || env.Error.ErrorCode != string(apperrors.CodeExecutionError) {
		t.Fatalf("unexpected error body %s", w.Body.String())
	}

	f.proc.err = errors.New("plain")
	w = do(engine, http.MethodPost, "/v1/questions", map[string]any{"question_id": "d1-2", "question": "q"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("plain error: status %d", w.Code)
	}
}

func TestListRecords(t *testing.T) {
	f := newFixture()
	f.records.items = []*entity.QuestionRecord{
		{ID: "r1", DialogueID: "d1", QuestionID: "d1-0", Question: "q", State: entity.QuestionStateDone},
		{ID: "r2", DialogueID: "d1", QuestionID: "d1-1", Question: "q2", State: entity.QuestionStateAborted},
	}
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodGet, "/v1/questions/d1-0/records?page=1&page_size=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var items []map[string]any
	if err := json.Unmarshal(decode(t, w).Data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0]["id"] != "r1" {
		t.Fatalf("unexpected items %v", items)
	}

	disabled := newTestRouter(t, newFixture(), func(_ *config.Config, h *Handlers) {
		h.Question = handler.NewQuestionHandler(&stubProcessor{}, nil)
	})
	if w := do(disabled, http.MethodGet, "/v1/questions/d1-0/records", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("records disabled: status %d", w.Code)
	}
}

func TestListDialogueRecords(t *testing.T) {
	f := newFixture()
	f.records.items = []*entity.QuestionRecord{
		{ID: "r1", DialogueID: "d1", QuestionID: "d1-0", Question: "q", State: entity.QuestionStateDone},
		{ID: "r2", DialogueID: "d1", QuestionID: "d1-1", Question: "q2", State: entity.QuestionStateAborted},
		{ID: "r3", DialogueID: "d2", QuestionID: "d2-0", Question: "q3", State: entity.QuestionStateDone},
	}
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodGet, "/v1/dialogues/d1/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var items []map[string]any
	if err := json.Unmarshal(decode(t, w).Data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0]["id"] != "r1" || items[1]["id"] != "r2" {
		t.Fatalf("unexpected items %v", items)
	}

	disabled := newTestRouter(t, newFixture(), func(_ *config.Config, h *Handlers) {
		h.Question = handler.NewQuestionHandler(&stubProcessor{}, nil)
	})
	if w := do(disabled, http.MethodGet, "/v1/dialogues/d1/records", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("records disabled: status %d", w.Code)
	}
}

func TestDialogueContext(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.store.AppendTurn(ctx, "d7-0", "q0", "a0"); err != nil {
		t.Fatal(err)
	}
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodGet, "/v1/dialogues/d7/context", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DialogueID string `json:"dialogue_id"`
		History    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"history"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.DialogueID != "d7" || len(resp.History) != 2 || resp.History[0].Role != "human" || resp.History[1].Content != "a0" {
		t.Fatalf("unexpected context %+v", resp)
	}

	w = do(engine, http.MethodGet, "/v1/dialogues/unknown/context", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown dialogue: status %d", w.Code)
	}
}

func TestCatalogSearch(t *testing.T) {
	f := newFixture()
	f.retriever.hits = []entity.RetrievalHit{{Position: 1, Score: 0.9}, {Position: 0, Score: 0.7}, {Position: 1, Score: 0.6}}
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodPost, "/v1/catalog/search", map[string]any{"text": "基金净值"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Matches []struct {
			CanonicalID string  `json:"canonical_id"`
			Score       float64 `json:"score"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 2 || resp.Matches[0].CanonicalID != "fund.nav" || resp.Matches[0].Score != 0.9 {
		t.Fatalf("unexpected matches %+v", resp.Matches)
	}

	f.retriever.err = apperrors.ErrIndexNotReady
	if w := do(engine, http.MethodPost, "/v1/catalog/search", map[string]any{"text": "x"}); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("index not ready: status %d", w.Code)
	}

	f.retriever.err = nil
	f.retriever.hits = []entity.RetrievalHit{{Position: 9, Score: 1}}
	if w := do(engine, http.MethodPost, "/v1/catalog/search", map[string]any{"text": "x"}); w.Code != http.StatusInternalServerError {
		t.Fatalf("out of range hit: status %d", w.Code)
	}
}

func TestSubmitJob(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(t, f, nil)

	w := do(engine, http.MethodPost, "/v1/jobs/questions", map[string]any{
		"dialogue_id": "d9",
		"questions":   []map[string]string{{"question": "q0"}, {"question_id": "custom", "question": "q1"}},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	job := f.publisher.job
	if job == nil || job.DialogueID != "d9" || len(job.Questions) != 2 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Questions[0].QuestionID != "d9-0" || job.Questions[1].QuestionID != "custom" {
		t.Fatalf("unexpected question ids %+v", job.Questions)
	}

	if w := do(engine, http.MethodPost, "/v1/jobs/questions", map[string]any{"questions": []any{}}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty job: status %d", w.Code)
	}

	f.publisher.err = errors.New("redis down")
	if w := do(engine, http.MethodPost, "/v1/jobs/questions", map[string]any{"questions": []map[string]string{{"question": "q"}}}); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("publish failure: status %d", w.Code)
	}
}

func TestReadiness(t *testing.T) {
	f := newFixture()
	fail := handler.CheckFunc(func(context.Context) error { return errors.New("down") })
	ok := handler.CheckFunc(func(context.Context) error { return nil })

	degraded := newTestRouter(t, f, func(_ *config.Config, h *Handlers) {
		h.Health = handler.NewHealthHandler("test",
			handler.Dependency{Name: "redis", Checker: ok, Required: true},
			handler.Dependency{Name: "milvus", Checker: fail},
		)
	})
	if w := do(degraded, http.MethodGet, "/ready", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Fatalf("optional failure: %d %s", w.Code, w.Body.String())
	}

	down := newTestRouter(t, f, func(_ *config.Config, h *Handlers) {
		h.Health = handler.NewHealthHandler("test", handler.Dependency{Name: "postgres", Checker: fail, Required: true})
	})
	if w := do(down, http.MethodGet, "/ready", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("required failure: status %d", w.Code)
	}
	if w := do(down, http.MethodGet, "/live", nil); w.Code != http.StatusOK {
		t.Fatalf("live: status %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture()
	cfg := &config.Config{}
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.RequestsPerMinute = 1
	engine := New(cfg, Handlers{
		Health:   handler.NewHealthHandler("test"),
		Question: handler.NewQuestionHandler(f.proc, nil),
	}, denyAll{}).Engine()

	if w := do(engine, http.MethodPost, "/v1/questions", map[string]any{"question": "q"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d", w.Code)
	}
	if w := do(engine, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health should bypass rate limit, got %d", w.Code)
	}
}
