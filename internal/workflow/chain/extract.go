package chain

import (
	"context"
	"fmt"
	"strings"

	"finqa-api/internal/domain/entity"
	llmctx "finqa-api/internal/domain/service"
	wfmodel "finqa-api/internal/workflow/model"
	"finqa-api/internal/workflow/node"
	workflowport "finqa-api/internal/workflow/port"
	workflowprompt "finqa-api/internal/workflow/prompt"
	"finqa-api/pkg/logger"
)

// ExtractChain 表选择与实体抽取
type ExtractChain struct {
	gen workflowport.TextGenerator
}

func NewExtractChain(gen workflowport.TextGenerator) *ExtractChain {
	return &ExtractChain{gen: gen}
}

type extractionPayload struct {
	RequiredTables []struct {
		TableName *string `json:"table_name"`
		Necessity string  `json:"necessity"`
		Reason    string  `json:"reason"`
	} `json:"required_tables"`
	Entities struct {
		MainEntity []struct {
			Value      any      `json:"value"`
			Confidence *float64 `json:"confidence"`
		} `json:"main_entity"`
	} `json:"entities"`
}

// Extract 输出无法解析时返回空结果并记录日志，不视为失败
func (c *ExtractChain) Extract(ctx context.Context, question string, tables []entity.CatalogEntry) (*wfmodel.Extraction, error) {
	if c == nil || c.gen == nil {
		return nil, fmt.Errorf("text generator not configured")
	}

	system, user, err := qaPromptRegistry.Render(ctx, workflowprompt.PromptExtractV1, map[string]any{
		"question":   strings.TrimSpace(question),
		"table_info": node.BuildTableInfoBlock(tables),
	})
	if err != nil {
		return nil, err
	}
	out, err := c.gen.Complete(llmctx.WithStage(ctx, llmctx.StageExtract), system, user, nil)
	if err != nil {
		return nil, err
	}

	var payload extractionPayload
	if err := node.DecodeJSONObject(out, &payload); err != nil {
		logger.Warn(ctx, "unparseable extraction output, continuing without entities",
			"error", err.Error(),
			"output", node.TruncateByRunes(out, 200),
		)
		return &wfmodel.Extraction{}, nil
	}
	return payload.toExtraction(), nil
}

func (p extractionPayload) toExtraction() *wfmodel.Extraction {
	res := &wfmodel.Extraction{}
	seen := map[string]struct{}{}
	for _, t := range p.RequiredTables {
		if t.TableName == nil {
			continue
		}
		id := entity.CanonicalTableID(*t.TableName)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			res.RequiredTables = append(res.RequiredTables, id)
		}
		res.Entities = append(res.Entities, entity.Entity{CanonicalTableID: id, Confidence: 1})
	}
	for _, e := range p.Entities.MainEntity {
		value := entityValue(e.Value)
		if value == "" {
			continue
		}
		conf := 1.0
		if e.Confidence != nil {
			conf = *e.Confidence
		}
		res.Entities = append(res.Entities, entity.Entity{Value: value, Confidence: conf})
	}
	return res
}

func entityValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
