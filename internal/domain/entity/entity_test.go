package entity

import "testing"

func TestNewUnderstandingDropsInvalidEntities(t *testing.T) {
	u := NewUnderstanding("q", []Entity{
		{CanonicalTableID: "a.b", Confidence: 1.4},
		{},
		{Value: "平安银行", Confidence: -1},
	}, nil)

	if len(u.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(u.Entities))
	}
	if u.Entities[0].Confidence != 1 || u.Entities[1].Confidence != 0 {
		t.Fatalf("confidence not clamped: %+v", u.Entities)
	}
	if u.RelevantTables == nil {
		t.Fatalf("relevant tables should be non-nil")
	}
}

func TestWithDisplayKeepsOriginal(t *testing.T) {
	e := CatalogEntry{CanonicalID: "x.y", DisplayNameLocal: "旧", DisplayNameExternal: "x.y", Description: "d", Fields: []Field{{Name: "f"}}}
	got := e.WithDisplay("新", "", "")
	if got.DisplayNameLocal != "新" || got.DisplayNameExternal != "x.y" || got.Description != "d" {
		t.Fatalf("unexpected %+v", got)
	}
	if got := e.WithDisplay("", "X.Y_V2", ""); got.DisplayNameExternal != "X.Y_V2" || got.DisplayNameLocal != "旧" {
		t.Fatalf("external name not refreshed: %+v", got)
	}
	got.Fields[0].Name = "changed"
	if e.Fields[0].Name != "f" {
		t.Fatalf("fields share backing array")
	}
}

func TestQuestionContextWithTurns(t *testing.T) {
	base := &QuestionContext{Metadata: ContextMetadata{DialogueID: "d"}}
	out := base.WithTurns(DialogueTurn{QuestionText: "q1", AnswerText: "a1"})
	if !base.Empty() {
		t.Fatalf("base mutated")
	}
	if len(out.History) != 2 || out.History[0].Role != RoleHuman || out.History[1].Role != RoleAssistant {
		t.Fatalf("history = %+v", out.History)
	}
	if out.Metadata.TurnCount != 1 {
		t.Fatalf("turn count = %d", out.Metadata.TurnCount)
	}
}
