// Package mcpserver 以 MCP 工具的形式暴露问答、库表检索与对话上下文
package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"finqa-api/internal/application/catalog"
	"finqa-api/internal/application/qa"
	"finqa-api/internal/domain/entity"
)

// Processor 单问题处理
type Processor interface {
	ProcessQuestion(ctx context.Context, questionID, questionText string, opts ...qa.ProcessOption) (*qa.Outcome, error)
}

// CatalogSearcher 文本到库表（含分数）
type CatalogSearcher interface {
	Search(ctx context.Context, text string, k int, threshold float64) ([]catalog.Match, error)
}

// ContextReader 对话上下文窗口
type ContextReader interface {
	GetContext(ctx context.Context, questionID string) (*entity.QuestionContext, error)
}

// Deps 工具依赖；为 nil 的依赖对应的工具不注册
type Deps struct {
	Processor Processor
	Catalog   CatalogSearcher
	Dialogues ContextReader
}

// New 创建注册了全部可用工具的 MCP server
func New(name, version string, deps Deps) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	t := &Tools{deps: deps}

	if deps.Processor != nil {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "ask_question",
			Description: "Answer a financial question in natural language by generating and executing SQL against the data warehouse. Questions sharing a dialogue prefix (<dialogue>-<n>) see earlier answers.",
		}, t.AskQuestion)
	}

	if deps.Catalog != nil {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "search_catalog",
			Description: "Find the warehouse tables most relevant to a piece of text, ranked by similarity score",
		}, t.SearchCatalog)
	}

	if deps.Dialogues != nil {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "get_dialogue_context",
			Description: "Return the recent question/answer history of a dialogue",
		}, t.GetDialogueContext)
	}

	return srv
}
