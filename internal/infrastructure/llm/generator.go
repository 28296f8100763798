package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"finqa-api/internal/domain/entity"
	"finqa-api/internal/domain/service"
	"finqa-api/internal/workflow/node"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/retry"
)

// ModelSource 按名称获取 ChatModel
type ModelSource interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

// Generator 以 system / 历史 / user 消息调用 ChatModel
//
// 每个提供商按重试策略调用，耗尽后切换到回退链中的下一个。
type Generator struct {
	models    ModelSource
	providers []string
	policy    retry.Policy
}

// NewGenerator 创建生成器；providers 为空时只使用默认提供商
func NewGenerator(models ModelSource, providers []string, policy retry.Policy) *Generator {
	if len(providers) == 0 {
		providers = []string{""}
	}
	if policy.Retryable == nil {
		policy.Retryable = func(err error) bool {
			return retry.IsRetryable(err) || node.IsRetryableLLMError(err)
		}
	}
	return &Generator{models: models, providers: providers, policy: policy}
}

// Complete 返回模型输出文本，失败返回 GenerationError
func (g *Generator) Complete(ctx context.Context, systemPrompt, userPrompt string, history []entity.Message) (string, error) {
	msgs := BuildMessages(systemPrompt, userPrompt, history)

	var errs []error
	for _, provider := range g.providers {
		pctx := service.WithProvider(ctx, provider)
		out, err := g.completeWith(pctx, provider, msgs)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", apperrors.GenerationError(err, "generation cancelled")
		}
		logger.Warn(pctx, "llm provider failed",
			"provider", provider,
			"stage", service.StageFromContext(ctx),
			"error", err.Error(),
		)
		errs = append(errs, err)
	}
	return "", apperrors.GenerationError(errors.Join(errs...), "generative service failed")
}

func (g *Generator) completeWith(ctx context.Context, provider string, msgs []*schema.Message) (string, error) {
	chatModel, err := g.models.Get(ctx, provider)
	if err != nil {
		return "", err
	}
	op := "llm." + service.StageFromContext(ctx)
	return retry.Do(ctx, g.policy, op, func(ctx context.Context) (string, error) {
		out, err := chatModel.Generate(ctx, msgs)
		if err != nil {
			return "", err
		}
		if out == nil {
			return "", errors.New("llm returned nil message")
		}
		return out.Content, nil
	})
}

// BuildMessages 组装 system、历史与 user 消息；空的 system 被省略
func BuildMessages(systemPrompt, userPrompt string, history []entity.Message) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, schema.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case entity.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		case entity.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(m.Content))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, schema.UserMessage(userPrompt))
	return msgs
}
