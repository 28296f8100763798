// Package qa 实现问题处理的迭代式精化编排
package qa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finqa-api/internal/domain/entity"
	wfmodel "finqa-api/internal/workflow/model"
)

// State 编排状态
type State string

const (
	StateFetchContext     State = "FETCH_CONTEXT"
	StateUnderstand       State = "UNDERSTAND"
	StateGenerateQuery    State = "GENERATE_QUERY"
	StateExecute          State = "EXECUTE"
	StateSynthesizeAnswer State = "SYNTHESIZE_ANSWER"
	StateCheckCompletion  State = "CHECK_COMPLETION"
	StateDone             State = "DONE"
	StateAborted          State = "ABORTED"
	StateFailed           State = "FAILED"
)

// RecordState 映射为审计记录状态
func (s State) RecordState() entity.QuestionState {
	switch s {
	case StateDone:
		return entity.QuestionStateDone
	case StateAborted:
		return entity.QuestionStateAborted
	default:
		return entity.QuestionStateFailed
	}
}

const (
	DefaultMaxIteration = 3
	DefaultSentinel     = "<|FINISH|>"
	DefaultRowLimit     = 15
)

// HistoryPolicy 中间（未完成）回答的写入策略
type HistoryPolicy string

const (
	// HistoryPersist 中间回答写入对话存储，后续问题可见
	HistoryPersist HistoryPolicy = "persist"
	// HistoryScratch 中间回答仅在本问题的后续迭代中可见
	HistoryScratch HistoryPolicy = "scratch"
)

// ParseHistoryPolicy 解析配置值，空值取默认
func ParseHistoryPolicy(s string) (HistoryPolicy, error) {
	switch HistoryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", HistoryPersist:
		return HistoryPersist, nil
	case HistoryScratch:
		return HistoryScratch, nil
	default:
		return "", fmt.Errorf("unknown history policy: %q", s)
	}
}

// Config 编排配置
type Config struct {
	MaxIteration  int
	Sentinel      string
	HistoryPolicy HistoryPolicy
	// PersistFinal 完成时把去掉标记后的最终回答写入对话存储
	PersistFinal bool
	RowLimit     int
}

func (c Config) withDefaults() Config {
	if c.MaxIteration <= 0 {
		c.MaxIteration = DefaultMaxIteration
	}
	if c.Sentinel == "" {
		c.Sentinel = DefaultSentinel
	}
	if c.HistoryPolicy == "" {
		c.HistoryPolicy = HistoryPersist
	}
	if c.RowLimit <= 0 {
		c.RowLimit = DefaultRowLimit
	}
	return c
}

// IterationState 单次问题处理内的迭代状态，处理结束即丢弃
type IterationState struct {
	IterationCount int
	LastAnswer     string
	Terminated     bool
	State          State
}

// Outcome 问题处理结果
type Outcome struct {
	QuestionID    string                `json:"question_id"`
	DialogueID    string                `json:"dialogue_id"`
	Answer        string                `json:"answer"`
	State         State                 `json:"state"`
	Iterations    int                   `json:"iterations"`
	SQL           string                `json:"sql,omitempty"`
	RowCount      int                   `json:"row_count"`
	Understanding *entity.Understanding `json:"understanding,omitempty"`
	RecordID      string                `json:"record_id,omitempty"`
	Duration      time.Duration         `json:"-"`
}

// ContextStore 对话上下文存储
type ContextStore interface {
	GetContext(ctx context.Context, questionID string) (*entity.QuestionContext, error)
	AppendTurn(ctx context.Context, questionID, questionText, answerText string) error
}

// Understander 产出问题理解
type Understander interface {
	Understand(ctx context.Context, question string, qctx *entity.QuestionContext) (*entity.Understanding, error)
}

// QueryGenerator 由问题理解生成查询
type QueryGenerator interface {
	Generate(ctx context.Context, u *entity.Understanding) (string, error)
}

// QueryExecutor 执行查询
type QueryExecutor interface {
	Execute(ctx context.Context, query string, rowLimit int) (*entity.QueryResult, error)
}

// AnswerSynthesizer 由查询结果生成回答
type AnswerSynthesizer interface {
	Generate(ctx context.Context, in *wfmodel.AnswerInput) (string, error)
}

// RecordSink 审计记录写入
type RecordSink interface {
	Create(ctx context.Context, record *entity.QuestionRecord) error
}

type processOptions struct {
	qctx *entity.QuestionContext
}

// ProcessOption 单次处理选项
type ProcessOption func(*processOptions)

// WithContext 使用调用方提供的上下文，跳过对话存储读取
func WithContext(qctx *entity.QuestionContext) ProcessOption {
	return func(o *processOptions) {
		if qctx != nil {
			o.qctx = qctx.Clone()
		}
	}
}
