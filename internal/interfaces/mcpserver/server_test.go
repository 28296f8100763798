package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"finqa-api/internal/application/catalog"
	"finqa-api/internal/application/dialogue"
	"finqa-api/internal/application/qa"
	"finqa-api/internal/domain/entity"
)

type echoProcessor struct {
	lastID string
	err    error
}

func (p *echoProcessor) ProcessQuestion(_ context.Context, questionID, text string, _ ...qa.ProcessOption) (*qa.Outcome, error) {
	p.lastID = questionID
	if p.err != nil {
		return nil, p.err
	}
	return &qa.Outcome{QuestionID: questionID, Answer: "答:" + text, State: qa.StateDone, Iterations: 1, SQL: "SELECT 1"}, nil
}

type fixedSearcher struct{}

func (fixedSearcher) Search(context.Context, string, int, float64) ([]catalog.Match, error) {
	return []catalog.Match{{Entry: entity.CatalogEntry{CanonicalID: "fund.nav", DisplayNameLocal: "基金.净值"}, Score: 0.8}}, nil
}

func connect(t *testing.T, deps Deps) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv := New("finqa-test", "0.0.1", deps)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session := connect(t, Deps{Processor: &echoProcessor{}, Catalog: fixedSearcher{}, Dialogues: dialogue.NewStore(dialogue.Config{})})

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"ask_question", "search_catalog", "get_dialogue_context"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestOnlyConfiguredToolsRegistered(t *testing.T) {
	session := connect(t, Deps{Catalog: fixedSearcher{}})

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "search_catalog" {
		t.Fatalf("unexpected tools %+v", result.Tools)
	}
}

func TestAskQuestion(t *testing.T) {
	proc := &echoProcessor{}
	session := connect(t, Deps{Processor: proc})

	text, isErr := callTool(t, session, "ask_question", map[string]any{"question_id": "d1-0", "question": "净值"})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	var out struct {
		Answer string `json:"answer"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	if out.Answer != "答:净值" || out.State != "DONE" {
		t.Fatalf("unexpected output %+v", out)
	}

	callTool(t, session, "ask_question", map[string]any{"question": "new"})
	if !strings.HasSuffix(proc.lastID, "-0") || strings.Count(proc.lastID, "-") != 1 {
		t.Fatalf("unexpected generated id %q", proc.lastID)
	}

	if _, isErr := callTool(t, session, "ask_question", map[string]any{"question": " "}); !isErr {
		t.Fatal("blank question should be a tool error")
	}

	proc.err = errors.New("generation failed")
	if text, isErr := callTool(t, session, "ask_question", map[string]any{"question": "q"}); !isErr || !strings.Contains(text, "generation failed") {
		t.Fatalf("expected tool error, got %v %s", isErr, text)
	}
}

func TestSearchCatalogAndDialogue(t *testing.T) {
	store := dialogue.NewStore(dialogue.Config{})
	if err := store.AppendTurn(context.Background(), "d2-0", "q", "a"); err != nil {
		t.Fatal(err)
	}
	session := connect(t, Deps{Catalog: fixedSearcher{}, Dialogues: store})

	text, isErr := callTool(t, session, "search_catalog", map[string]any{"text": "基金"})
	if isErr || !strings.Contains(text, "fund.nav") {
		t.Fatalf("unexpected search result %v %s", isErr, text)
	}

	text, isErr = callTool(t, session, "get_dialogue_context", map[string]any{"dialogue_id": "d2"})
	if isErr {
		t.Fatalf("unexpected tool error: %s", text)
	}
	var qctx entity.QuestionContext
	if err := json.Unmarshal([]byte(text), &qctx); err != nil {
		t.Fatal(err)
	}
	if len(qctx.History) != 2 || qctx.Metadata.DialogueID != "d2" {
		t.Fatalf("unexpected context %+v", qctx)
	}
}
