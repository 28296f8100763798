package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"finqa-api/internal/domain/entity"
	"finqa-api/pkg/logger"
)

// Tools MCP 工具处理器
type Tools struct {
	deps Deps
}

type AskQuestionInput struct {
	QuestionID string `json:"question_id,omitempty" jsonschema:"Question id in the form <dialogue>-<n>; omit to start a new dialogue"`
	Question   string `json:"question" jsonschema:"The question in natural language"`
}

type SearchCatalogInput struct {
	Text      string   `json:"text" jsonschema:"Text to match against table names and descriptions"`
	K         int      `json:"k,omitempty" jsonschema:"Number of candidates before threshold filtering"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"Minimum similarity score in [0,1]"`
}

type GetDialogueContextInput struct {
	DialogueID string `json:"dialogue_id" jsonschema:"Dialogue id (the part of a question id before the first dash)"`
}

type scoredEntry struct {
	CanonicalID      string  `json:"canonical_id"`
	DisplayNameLocal string  `json:"display_name_local"`
	Description      string  `json:"description,omitempty"`
	Score            float64 `json:"score"`
}

type askOutput struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	State      string `json:"state"`
	Iterations int    `json:"iterations"`
	SQL        string `json:"sql,omitempty"`
}

func (t *Tools) AskQuestion(ctx context.Context, _ *mcp.CallToolRequest, input AskQuestionInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Question) == "" {
		return toolError("question is required"), nil, nil
	}
	questionID := input.QuestionID
	if questionID == "" {
		questionID = strings.ReplaceAll(uuid.NewString(), "-", "") + "-0"
	}

	outcome, err := t.deps.Processor.ProcessQuestion(ctx, questionID, input.Question)
	if err != nil {
		logger.Warn(ctx, "mcp ask_question failed", "question_id", questionID, "error", err)
		return toolError("Failed to answer question: %v", err), nil, nil
	}

	return toolJSON(askOutput{
		QuestionID: outcome.QuestionID,
		Answer:     outcome.Answer,
		State:      string(outcome.State),
		Iterations: outcome.Iterations,
		SQL:        outcome.SQL,
	})
}

func (t *Tools) SearchCatalog(ctx context.Context, _ *mcp.CallToolRequest, input SearchCatalogInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Text) == "" {
		return toolError("text is required"), nil, nil
	}
	threshold := -1.0
	if input.Threshold != nil {
		threshold = *input.Threshold
	}

	entries, err := t.deps.Catalog.Search(ctx, input.Text, input.K, threshold)
	if err != nil {
		return toolError("Failed to search catalog: %v", err), nil, nil
	}
	out := make([]scoredEntry, 0, len(entries))
	for _, m := range entries {
		out = append(out, scoredEntry{
			CanonicalID:      m.Entry.CanonicalID,
			DisplayNameLocal: m.Entry.DisplayNameLocal,
			Description:      m.Entry.Description,
			Score:            m.Score,
		})
	}
	return toolJSON(out)
}

func (t *Tools) GetDialogueContext(ctx context.Context, _ *mcp.CallToolRequest, input GetDialogueContextInput) (*mcp.CallToolResult, any, error) {
	if input.DialogueID == "" {
		return toolError("dialogue_id is required"), nil, nil
	}
	qctx, err := t.deps.Dialogues.GetContext(ctx, input.DialogueID)
	if err != nil {
		return toolError("Failed to read dialogue: %v", err), nil, nil
	}
	if qctx.History == nil {
		qctx.History = []entity.Message{}
	}
	return toolJSON(qctx)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
