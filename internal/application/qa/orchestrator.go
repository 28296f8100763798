package qa

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/application/dialogue"
	"finqa-api/internal/domain/entity"
	wfmodel "finqa-api/internal/workflow/model"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
	"finqa-api/pkg/tracer"
)

// Orchestrator 驱动单个问题的精化循环，可被并发调用
//
// 除对话存储外不持有可变共享状态。配置了对话锁时，同一对话的问题端到端串行，
// 不同对话互不阻塞；对话存储自身的锁不跨外部调用持有。
type Orchestrator struct {
	cfg Config

	store      ContextStore
	understand Understander
	queries    QueryGenerator
	executor   QueryExecutor
	answers    AnswerSynthesizer
	records    RecordSink
	locker     dialogue.Locker
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithRecordSink 每次处理结束写入审计记录
func WithRecordSink(sink RecordSink) Option {
	return func(o *Orchestrator) {
		o.records = sink
	}
}

// WithDialogueLock 同一对话的问题按获得锁的顺序逐个处理
func WithDialogueLock(locker dialogue.Locker) Option {
	return func(o *Orchestrator) {
		o.locker = locker
	}
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg Config, store ContextStore, understand Understander, queries QueryGenerator, executor QueryExecutor, answers AnswerSynthesizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg.withDefaults(),
		store:      store,
		understand: understand,
		queries:    queries,
		executor:   executor,
		answers:    answers,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config 生效配置
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// ProcessQuestion 处理一个问题
//
// 返回最终回答（DONE）、达到迭代上限时的最近一次回答（ABORTED）或类型化错误。
func (o *Orchestrator) ProcessQuestion(ctx context.Context, questionID, questionText string, opts ...ProcessOption) (*Outcome, error) {
	var po processOptions
	for _, opt := range opts {
		opt(&po)
	}

	dialogueID := dialogue.DialogueID(questionID)
	ctx = logger.WithContext(ctx, logger.QuestionIDKey, questionID)
	ctx = logger.WithContext(ctx, logger.DialogueIDKey, dialogueID)
	ctx, span := tracer.Start(ctx, "qa.ProcessQuestion",
		trace.WithAttributes(
			attribute.String("qa.question_id", questionID),
			attribute.String("qa.dialogue_id", dialogueID),
			attribute.Bool("qa.caller_context", po.qctx != nil),
		))

	start := time.Now()
	out := &Outcome{QuestionID: questionID, DialogueID: dialogueID}
	st := &IterationState{State: StateFetchContext}

	err := o.serialized(ctx, dialogueID, po.qctx, func() error {
		return o.loop(ctx, questionID, questionText, po.qctx, st, out)
	})
	out.Iterations = st.IterationCount
	out.Duration = time.Since(start)
	if err != nil {
		st.State = StateFailed
	}
	out.State = st.State

	metrics.QuestionsTotal.WithLabelValues(string(out.State)).Inc()
	metrics.QuestionDuration.Observe(out.Duration.Seconds())
	metrics.QuestionIterations.Observe(float64(st.IterationCount))
	span.SetAttributes(
		attribute.String("qa.state", string(out.State)),
		attribute.Int("qa.iterations", st.IterationCount),
	)

	o.record(ctx, questionText, out, err)
	tracer.EndWithError(span, err)

	if err != nil {
		logger.Error(ctx, "question processing failed", err,
			"iterations", st.IterationCount,
			"duration_ms", out.Duration.Milliseconds(),
		)
		return out, err
	}

	if strings.TrimSpace(out.Answer) == "" {
		logger.Warn(ctx, "question produced an empty answer",
			"state", string(out.State),
			"iterations", st.IterationCount,
			"sql", out.SQL,
			"row_count", out.RowCount,
		)
	}
	logger.Info(ctx, "question processed",
		"state", string(out.State),
		"iterations", st.IterationCount,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

// serialized 持有对话锁执行 fn；调用方自带上下文时不读写存储，无需加锁
func (o *Orchestrator) serialized(ctx context.Context, dialogueID string, supplied *entity.QuestionContext, fn func() error) error {
	if o.locker == nil || supplied != nil {
		return fn()
	}
	start := time.Now()
	unlock, err := o.locker.Lock(ctx, dialogueID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeContextError, "failed to acquire dialogue lock")
	}
	defer unlock()
	if wait := time.Since(start); wait > time.Second {
		logger.Info(ctx, "waited for dialogue lock", "wait_ms", wait.Milliseconds())
	}
	return fn()
}

func (o *Orchestrator) loop(ctx context.Context, questionID, questionText string, supplied *entity.QuestionContext, st *IterationState, out *Outcome) error {
	// 本问题产生的中间回答，仅在 scratch 策略或调用方上下文下叠加到上下文中
	var partial []entity.DialogueTurn

	for !st.Terminated {
		st.State = StateFetchContext
		qctx, err := o.fetchContext(ctx, questionID, supplied, partial)
		if err != nil {
			return err
		}

		st.State = StateUnderstand
		u, err := timed(ctx, "understand", func(ctx context.Context) (*entity.Understanding, error) {
			return o.understand.Understand(ctx, questionText, qctx)
		})
		if err != nil {
			return asGenerationError(err, "question understanding failed")
		}
		out.Understanding = u

		st.State = StateGenerateQuery
		query, err := timed(ctx, "generate_query", func(ctx context.Context) (string, error) {
			return o.queries.Generate(ctx, u)
		})
		if err != nil {
			return asGenerationError(err, "query generation failed")
		}
		query = strings.TrimSpace(query)
		if query == "" {
			return apperrors.New(apperrors.CodeGenerationError, "generated query is empty")
		}
		out.SQL = query

		st.State = StateExecute
		result, err := timed(ctx, "execute", func(ctx context.Context) (*entity.QueryResult, error) {
			return o.executor.Execute(ctx, query, o.cfg.RowLimit)
		})
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeExecutionError) {
				return err
			}
			return apperrors.ExecutionError(err, "query execution failed")
		}
		if result == nil {
			result = &entity.QueryResult{}
		}
		out.RowCount = result.RowCount()

		st.State = StateSynthesizeAnswer
		answer, err := timed(ctx, "synthesize_answer", func(ctx context.Context) (string, error) {
			return o.answers.Generate(ctx, &wfmodel.AnswerInput{
				Understanding: u,
				SQL:           query,
				Result:        result,
				Sentinel:      o.cfg.Sentinel,
			})
		})
		if err != nil {
			return asGenerationError(err, "answer synthesis failed")
		}

		st.State = StateCheckCompletion
		st.LastAnswer = answer
		st.IterationCount++

		if final, ok := StripSentinel(answer, o.cfg.Sentinel); ok {
			st.LastAnswer = final
			st.State = StateDone
			st.Terminated = true
			out.Answer = final
			if o.cfg.PersistFinal && supplied == nil {
				o.appendTurn(ctx, questionID, questionText, final)
			}
			return nil
		}

		turn := entity.DialogueTurn{QuestionID: questionID, QuestionText: questionText, AnswerText: answer, CreatedAt: time.Now()}
		switch {
		case supplied != nil, o.cfg.HistoryPolicy == HistoryScratch:
			partial = append(partial, turn)
		default:
			o.appendTurn(ctx, questionID, questionText, answer)
		}
		logger.Debug(ctx, "answer incomplete, refining",
			"iteration", st.IterationCount,
			"max_iteration", o.cfg.MaxIteration,
		)

		if st.IterationCount >= o.cfg.MaxIteration {
			st.State = StateAborted
			st.Terminated = true
			out.Answer = answer
			logger.Warn(ctx, "max iteration reached without completion, returning latest answer",
				"max_iteration", o.cfg.MaxIteration,
			)
		}
	}
	return nil
}

// fetchContext 调用方上下文优先且不读取存储；两种来源都会叠加本问题的中间回答
func (o *Orchestrator) fetchContext(ctx context.Context, questionID string, supplied *entity.QuestionContext, partial []entity.DialogueTurn) (*entity.QuestionContext, error) {
	if supplied != nil {
		return supplied.WithTurns(partial...), nil
	}
	start := time.Now()
	qctx, err := o.store.GetContext(ctx, questionID)
	metrics.StageDuration.WithLabelValues("fetch_context").Observe(time.Since(start).Seconds())
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeContextError, "fetch dialogue context failed")
	}
	if len(partial) > 0 {
		qctx = qctx.WithTurns(partial...)
	}
	return qctx, nil
}

func (o *Orchestrator) appendTurn(ctx context.Context, questionID, questionText, answer string) {
	if err := o.store.AppendTurn(ctx, questionID, questionText, answer); err != nil {
		// 写入失败不影响本次回答，但后续问题将看不到这一轮
		logger.Error(ctx, "failed to append dialogue turn", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, questionText string, out *Outcome, procErr error) {
	if o.records == nil {
		return
	}
	rec := entity.NewQuestionRecord(out.DialogueID, out.QuestionID, questionText)
	rec.SQL = out.SQL
	rec.Answer = out.Answer
	rec.State = out.State.RecordState()
	rec.Iterations = out.Iterations
	rec.DurationMs = out.Duration.Milliseconds()
	if out.Understanding != nil {
		rec.RewrittenQuestion = out.Understanding.RewrittenQuestion
		ids := make([]string, 0, len(out.Understanding.RelevantTables))
		for _, t := range out.Understanding.RelevantTables {
			ids = append(ids, t.CanonicalID)
		}
		if b, err := json.Marshal(ids); err == nil {
			rec.Tables = b
		}
	}
	if procErr != nil {
		rec.ErrorMessage = procErr.Error()
	}
	if err := o.records.Create(ctx, rec); err != nil {
		logger.Error(ctx, "failed to persist question record", err)
		return
	}
	out.RecordID = rec.ID
}

// StripSentinel 答案含完成标记时返回标记之前的原文（标记及其后内容丢弃，其余不做改动）
func StripSentinel(answer, sentinel string) (string, bool) {
	before, _, found := strings.Cut(answer, sentinel)
	return before, found
}

func timed[T any](ctx context.Context, stage string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "qa."+stage)
	start := time.Now()
	v, err := fn(ctx)
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	tracer.EndWithError(span, err)
	return v, err
}

func asGenerationError(err error, msg string) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.GenerationError(err, msg)
}
