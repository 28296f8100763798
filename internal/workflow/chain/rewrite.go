package chain

import (
	"context"
	"fmt"
	"strings"

	"finqa-api/internal/domain/entity"
	llmctx "finqa-api/internal/domain/service"
	workflowport "finqa-api/internal/workflow/port"
	workflowprompt "finqa-api/internal/workflow/prompt"
	"finqa-api/pkg/logger"
)

// RewriteChain 结合对话上下文改写追问
type RewriteChain struct {
	gen workflowport.TextGenerator
}

func NewRewriteChain(gen workflowport.TextGenerator) *RewriteChain {
	return &RewriteChain{gen: gen}
}

// Rewrite 上下文为空时原样返回问题，不调用模型
func (c *RewriteChain) Rewrite(ctx context.Context, question string, qctx *entity.QuestionContext) (string, error) {
	if qctx.Empty() {
		return question, nil
	}
	if c == nil || c.gen == nil {
		return "", fmt.Errorf("text generator not configured")
	}

	system, user, err := qaPromptRegistry.Render(ctx, workflowprompt.PromptRewriteV1, map[string]any{
		"question": strings.TrimSpace(question),
	})
	if err != nil {
		return "", err
	}
	out, err := c.gen.Complete(llmctx.WithStage(ctx, llmctx.StageRewrite), system, user, qctx.History)
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(out)
	if rewritten == "" {
		logger.Warn(ctx, "empty rewrite output, keeping original question")
		return question, nil
	}
	return rewritten, nil
}
