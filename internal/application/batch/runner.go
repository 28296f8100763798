// Package batch 批量处理问题文件：同一组内顺序执行并累积上下文，不同组并发执行
package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"finqa-api/internal/application/dialogue"
	"finqa-api/internal/application/qa"
	"finqa-api/internal/domain/entity"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
)

const (
	DefaultMaxWorkers = 8

	// FailedAnswerPrefix 处理失败的问题以此前缀写入答案
	FailedAnswerPrefix = "处理失败: "
)

// Question 组内的单个问题
type Question struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// Group 一组连续对话的问题
type Group struct {
	TID  string     `json:"tid"`
	Team []Question `json:"team"`
}

// Processor 单问题处理
type Processor interface {
	ProcessQuestion(ctx context.Context, questionID, questionText string, opts ...qa.ProcessOption) (*qa.Outcome, error)
}

// Runner 批量运行器
type Runner struct {
	processor     Processor
	maxWorkers    int
	contextWindow int
}

// NewRunner 创建批量运行器；组内累积的上下文只保留最近 contextWindow 轮
func NewRunner(processor Processor, maxWorkers, contextWindow int) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if contextWindow <= 0 {
		contextWindow = dialogue.DefaultContextWindow
	}
	return &Runner{processor: processor, maxWorkers: maxWorkers, contextWindow: contextWindow}
}

// Run 处理全部分组，返回与输入顺序一致、已填入答案的副本
//
// 单个问题失败只影响该问题的答案；仅 ctx 取消时返回错误。
func (r *Runner) Run(ctx context.Context, groups []Group) ([]Group, error) {
	out := make([]Group, len(groups))
	sem := semaphore.NewWeighted(int64(r.maxWorkers))
	g, gctx := errgroup.WithContext(ctx)

	for i := range groups {
		if err := sem.Acquire(gctx, 1); err != nil {
			for j := i; j < len(groups); j++ {
				out[j] = failedGroup(groups[j], err)
			}
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			metrics.BatchInFlight.Inc()
			defer metrics.BatchInFlight.Dec()

			res, err := r.runGroup(gctx, groups[i])
			out[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}

// runGroup 组内按顺序处理；每个问题使用此前问答累积的上下文
func (r *Runner) runGroup(ctx context.Context, group Group) (Group, error) {
	ctx = logger.WithContext(ctx, logger.DialogueIDKey, group.TID)
	res := Group{TID: group.TID, Team: make([]Question, len(group.Team))}
	qctx := &entity.QuestionContext{Metadata: entity.ContextMetadata{DialogueID: group.TID}}

	for i, q := range group.Team {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(group.Team); j++ {
				res.Team[j] = failed(group.Team[j], err)
			}
			return res, err
		}

		outcome, err := r.processor.ProcessQuestion(ctx, q.ID, q.Question, qa.WithContext(qctx))
		if err != nil {
			logger.Error(ctx, "batch question failed", err, "question_id", q.ID)
			res.Team[i] = failed(q, err)
			continue
		}
		res.Team[i] = Question{ID: q.ID, Question: q.Question, Answer: outcome.Answer}
		qctx = qctx.WithTurns(entity.DialogueTurn{QuestionID: q.ID, QuestionText: q.Question, AnswerText: outcome.Answer}).
			LastTurns(r.contextWindow)
	}
	logger.Info(ctx, "batch group processed", "questions", len(group.Team))
	return res, nil
}

func failedGroup(group Group, err error) Group {
	res := Group{TID: group.TID, Team: make([]Question, len(group.Team))}
	for i, q := range group.Team {
		res.Team[i] = failed(q, err)
	}
	return res
}

func failed(q Question, err error) Question {
	return Question{ID: q.ID, Question: q.Question, Answer: FailedAnswerPrefix + err.Error()}
}

// ReadGroups 解析问题文件
func ReadGroups(r io.Reader) ([]Group, error) {
	var groups []Group
	if err := json.NewDecoder(r).Decode(&groups); err != nil {
		return nil, fmt.Errorf("decode question file: %w", err)
	}
	return groups, nil
}

// LoadFile 读取问题文件
func LoadFile(path string) ([]Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open question file: %w", err)
	}
	defer f.Close()
	return ReadGroups(f)
}

// WriteResults 将结果写入 dir/results_<timestamp>.json，返回文件路径
func WriteResults(dir string, groups []Group, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, "results_"+now.Format("20060102_150405")+".json")
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(groups); err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
