package chain

import (
	"context"
	"fmt"
	"strings"

	"finqa-api/internal/domain/entity"
	llmctx "finqa-api/internal/domain/service"
	"finqa-api/internal/workflow/node"
	workflowport "finqa-api/internal/workflow/port"
	workflowprompt "finqa-api/internal/workflow/prompt"
)

// SQLChain 根据问题理解生成查询语句
type SQLChain struct {
	gen workflowport.TextGenerator
}

func NewSQLChain(gen workflowport.TextGenerator) *SQLChain {
	return &SQLChain{gen: gen}
}

// Generate 返回去除代码块围栏后的查询语句，可能为空，由调用方判定
func (c *SQLChain) Generate(ctx context.Context, u *entity.Understanding) (string, error) {
	if c == nil || c.gen == nil {
		return "", fmt.Errorf("text generator not configured")
	}
	if u == nil {
		return "", fmt.Errorf("understanding is nil")
	}

	system, user, err := qaPromptRegistry.Render(ctx, workflowprompt.PromptSQLV1, map[string]any{
		"question":      strings.TrimSpace(u.RewrittenQuestion),
		"table_info":    node.BuildTableInfoBlock(u.RelevantTables),
		"understanding": node.BuildUnderstandingBlock(u),
	})
	if err != nil {
		return "", err
	}
	out, err := c.gen.Complete(llmctx.WithStage(ctx, llmctx.StageSQL), system, user, nil)
	if err != nil {
		return "", err
	}
	return node.ExtractSQL(out), nil
}
