package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	llmctx "finqa-api/internal/domain/service"
	wfmodel "finqa-api/internal/workflow/model"
	"finqa-api/internal/workflow/node"
	workflowport "finqa-api/internal/workflow/port"
	workflowprompt "finqa-api/internal/workflow/prompt"
	"finqa-api/pkg/logger"
)

// AnswerChain 根据查询结果生成自然语言回答
type AnswerChain struct {
	gen workflowport.TextGenerator
}

func NewAnswerChain(gen workflowport.TextGenerator) *AnswerChain {
	return &AnswerChain{gen: gen}
}

// Generate 返回 RESPONSE 段落（保留完成标记）；缺少该段落时返回完整输出
func (c *AnswerChain) Generate(ctx context.Context, in *wfmodel.AnswerInput) (string, error) {
	if c == nil || c.gen == nil {
		return "", fmt.Errorf("text generator not configured")
	}
	if in == nil || in.Understanding == nil {
		return "", fmt.Errorf("answer input is incomplete")
	}

	rows := []map[string]any{}
	if in.Result != nil && in.Result.Rows != nil {
		rows = in.Result.Rows
	}
	resultJSON, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode query result: %w", err)
	}

	system, user, err := qaPromptRegistry.Render(ctx, workflowprompt.PromptAnswerV1, map[string]any{
		"question":     strings.TrimSpace(in.Understanding.RewrittenQuestion),
		"result_json":  node.TruncateByRunes(string(resultJSON), maxResultJSONRunes),
		"sql":          strings.TrimSpace(in.SQL),
		"data_summary": node.SummarizeResult(in.Result),
		"sentinel":     in.Sentinel,
	})
	if err != nil {
		return "", err
	}
	out, err := c.gen.Complete(llmctx.WithStage(ctx, llmctx.StageAnswer), system, user, nil)
	if err != nil {
		return "", err
	}

	content := strings.TrimSpace(out)
	if resp, ok := node.ExtractSection(content, "RESPONSE:"); ok {
		return resp, nil
	}
	logger.Warn(ctx, "no RESPONSE section in answer output, using full text",
		"output_runes", len([]rune(content)),
	)
	return content, nil
}
