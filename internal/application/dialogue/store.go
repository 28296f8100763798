// Package dialogue 维护按会话划分的有界问答历史，并生成窗口化的上下文视图
package dialogue

import (
	"context"
	"strings"
	"sync"
	"time"

	"finqa-api/internal/domain/entity"
	"finqa-api/internal/domain/repository"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
)

const (
	// IDSeparator question_id 中分隔 dialogue_id 的保留字符
	IDSeparator = "-"

	DefaultMaxHistory    = 100
	DefaultContextWindow = 5
)

// Config 存储配置
type Config struct {
	MaxHistory    int
	ContextWindow int
}

// DialogueID 取 question_id 中第一个分隔符之前的部分
func DialogueID(questionID string) string {
	id, _, _ := strings.Cut(questionID, IDSeparator)
	return id
}

// Store 对话上下文存储
//
// 不同 dialogue_id 的读写互不阻塞；同一 dialogue_id 的追加串行执行。
type Store struct {
	cfg    Config
	mirror repository.DialogueTurnRepository
	now    func() time.Time

	mu    sync.RWMutex
	slots map[string]*slot
}

type slot struct {
	mu       sync.Mutex
	dialogue entity.Dialogue
	hydrated bool
}

// Option 存储选项
type Option func(*Store)

// WithMirror 使用外部镜像持久化对话，重启后按需恢复
func WithMirror(mirror repository.DialogueTurnRepository) Option {
	return func(s *Store) {
		s.mirror = mirror
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore 创建对话上下文存储
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	s := &Store{
		cfg:   cfg,
		now:   time.Now,
		slots: make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetContext 返回 question_id 所属会话最近 context_window 轮的上下文；未知会话返回空上下文
func (s *Store) GetContext(ctx context.Context, questionID string) (*entity.QuestionContext, error) {
	dialogueID := DialogueID(questionID)
	if dialogueID == "" {
		return nil, apperrors.New(apperrors.CodeContextError, "empty dialogue id").WithDetail(questionID)
	}

	sl := s.lookup(dialogueID, s.mirror != nil)
	if sl == nil {
		return emptyContext(dialogueID, questionID), nil
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if err := s.hydrateLocked(ctx, dialogueID, sl); err != nil {
		return nil, err
	}
	return s.project(sl.dialogue.Turns, dialogueID, questionID), nil
}

// AppendTurn 追加一轮问答；超过 max_history 时从头部丢弃最旧的轮次
func (s *Store) AppendTurn(ctx context.Context, questionID, questionText, answerText string) error {
	dialogueID := DialogueID(questionID)
	if dialogueID == "" {
		return apperrors.New(apperrors.CodeContextError, "empty dialogue id").WithDetail(questionID)
	}

	sl := s.lookup(dialogueID, true)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := s.hydrateLocked(ctx, dialogueID, sl); err != nil {
		return err
	}

	turn := entity.DialogueTurn{
		QuestionID:   questionID,
		QuestionText: questionText,
		AnswerText:   answerText,
		CreatedAt:    s.now(),
	}
	turns := append(sl.dialogue.Turns, turn)
	if over := len(turns) - s.cfg.MaxHistory; over > 0 {
		trimmed := make([]entity.DialogueTurn, s.cfg.MaxHistory)
		copy(trimmed, turns[over:])
		turns = trimmed
	}
	sl.dialogue.Turns = turns
	metrics.DialogueTurnsAppended.Inc()

	if s.mirror != nil {
		if err := s.mirror.Append(ctx, dialogueID, turn, s.cfg.MaxHistory); err != nil {
			logger.Error(ctx, "failed to mirror dialogue turn", err,
				"dialogue_id", dialogueID,
				"question_id", questionID,
			)
		}
	}
	return nil
}

// Turns 返回会话全部轮次的副本
func (s *Store) Turns(ctx context.Context, dialogueID string) ([]entity.DialogueTurn, error) {
	sl := s.lookup(dialogueID, s.mirror != nil)
	if sl == nil {
		return []entity.DialogueTurn{}, nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if err := s.hydrateLocked(ctx, dialogueID, sl); err != nil {
		return nil, err
	}
	return append([]entity.DialogueTurn{}, sl.dialogue.Turns...), nil
}

// Len 当前持有的会话数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// ContextWindow 窗口大小
func (s *Store) ContextWindow() int {
	return s.cfg.ContextWindow
}

func (s *Store) lookup(dialogueID string, create bool) *slot {
	s.mu.RLock()
	sl, ok := s.slots[dialogueID]
	s.mu.RUnlock()
	if ok || !create {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[dialogueID]; ok {
		return sl
	}
	sl = &slot{dialogue: entity.Dialogue{DialogueID: dialogueID}}
	// 无镜像时新建的会话无需恢复
	sl.hydrated = s.mirror == nil
	s.slots[dialogueID] = sl
	metrics.DialoguesActive.Set(float64(len(s.slots)))
	return sl
}

// hydrateLocked 首次访问时从镜像恢复历史，调用方须持有 sl.mu
func (s *Store) hydrateLocked(ctx context.Context, dialogueID string, sl *slot) error {
	if sl.hydrated || s.mirror == nil {
		return nil
	}
	turns, err := s.mirror.List(ctx, dialogueID, s.cfg.MaxHistory)
	if err != nil {
		// 镜像不可用时该会话退化为纯内存
		logger.Warn(ctx, "dialogue mirror unavailable, using in-memory history",
			"dialogue_id", dialogueID,
			"error", err.Error(),
		)
		sl.hydrated = true
		return nil
	}
	for _, t := range turns {
		if DialogueID(t.QuestionID) != dialogueID {
			return apperrors.New(apperrors.CodeContextError, "mirrored turn belongs to another dialogue").
				WithDetail("dialogue_id=" + dialogueID + " question_id=" + t.QuestionID)
		}
	}
	// 镜像中的轮次早于本进程内追加的轮次
	sl.dialogue.Turns = append(turns, sl.dialogue.Turns...)
	if over := len(sl.dialogue.Turns) - s.cfg.MaxHistory; over > 0 {
		sl.dialogue.Turns = append([]entity.DialogueTurn(nil), sl.dialogue.Turns[over:]...)
	}
	sl.hydrated = true
	return nil
}

func (s *Store) project(turns []entity.DialogueTurn, dialogueID, questionID string) *entity.QuestionContext {
	qc := emptyContext(dialogueID, questionID)
	qc.Metadata.TurnCount = len(turns)

	start := len(turns) - s.cfg.ContextWindow
	if start < 0 {
		start = 0
	}
	window := turns[start:]
	qc.History = make([]entity.Message, 0, 2*len(window))
	for _, t := range window {
		qc.History = append(qc.History,
			entity.Message{Role: entity.RoleForIndex(len(qc.History)), Content: t.QuestionText},
			entity.Message{Role: entity.RoleForIndex(len(qc.History) + 1), Content: t.AnswerText},
		)
	}
	return qc
}

func emptyContext(dialogueID, questionID string) *entity.QuestionContext {
	return &entity.QuestionContext{
		History: []entity.Message{},
		Metadata: entity.ContextMetadata{
			DialogueID: dialogueID,
			QuestionID: questionID,
		},
	}
}
