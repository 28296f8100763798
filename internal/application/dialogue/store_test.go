package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
)

type fakeMirror struct {
	mu      sync.Mutex
	turns   map[string][]entity.DialogueTurn
	listErr error
	appends int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{turns: make(map[string][]entity.DialogueTurn)}
}

func (m *fakeMirror) Append(_ context.Context, dialogueID string, turn entity.DialogueTurn, maxTurns int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	ts := append(m.turns[dialogueID], turn)
	if len(ts) > maxTurns {
		ts = ts[len(ts)-maxTurns:]
	}
	m.turns[dialogueID] = ts
	return nil
}

func (m *fakeMirror) List(_ context.Context, dialogueID string, limit int) ([]entity.DialogueTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	ts := m.turns[dialogueID]
	if limit > 0 && len(ts) > limit {
		ts = ts[len(ts)-limit:]
	}
	return append([]entity.DialogueTurn(nil), ts...), nil
}

func TestDialogueID(t *testing.T) {
	cases := map[string]string{
		"tttt----1-1-1": "tttt",
		"abc":           "abc",
		"a-b":           "a",
		"-x":            "",
	}
	for in, want := range cases {
		if got := DialogueID(in); got != want {
			t.Errorf("DialogueID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetContextUnknownDialogueIsEmpty(t *testing.T) {
	s := NewStore(Config{})
	qc, err := s.GetContext(context.Background(), "nobody-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !qc.Empty() || qc.Metadata.DialogueID != "nobody" || qc.Metadata.TurnCount != 0 {
		t.Fatalf("unexpected context %+v", qc)
	}
	if s.Len() != 0 {
		t.Fatalf("reading an unknown dialogue must not create it")
	}
}

func TestGetContextReturnsMostRecentWindowInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{ContextWindow: 5, MaxHistory: 100})
	for i := 0; i < 8; i++ {
		if err := s.AppendTurn(ctx, fmt.Sprintf("d-%d", i), fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	qc, err := s.GetContext(ctx, "d-9")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(qc.History) != 10 {
		t.Fatalf("history messages = %d, want 10 (5 turns)", len(qc.History))
	}
	for i := 0; i < 5; i++ {
		q, a := qc.History[2*i], qc.History[2*i+1]
		if q.Role != entity.RoleHuman || q.Content != fmt.Sprintf("q%d", i+3) {
			t.Errorf("message %d = %+v", 2*i, q)
		}
		if a.Role != entity.RoleAssistant || a.Content != fmt.Sprintf("a%d", i+3) {
			t.Errorf("message %d = %+v", 2*i+1, a)
		}
	}
	if qc.Metadata.TurnCount != 8 || qc.Metadata.QuestionID != "d-9" {
		t.Fatalf("metadata = %+v", qc.Metadata)
	}
}

func TestAppendTurnTrimsOldestBeyondMaxHistory(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{ContextWindow: 2, MaxHistory: 3})
	for i := 0; i < 5; i++ {
		_ = s.AppendTurn(ctx, "d-1", fmt.Sprintf("q%d", i), "a")
	}
	turns, err := s.Turns(ctx, "d")
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[0].QuestionText != "q2" || turns[2].QuestionText != "q4" {
		t.Fatalf("unexpected retained turns: %+v", turns)
	}
}

func TestDialoguesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{})
	_ = s.AppendTurn(ctx, "A-1", "question for A", "answer for A")

	qc, err := s.GetContext(ctx, "B-1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if !qc.Empty() {
		t.Fatalf("dialogue B sees A's turns: %+v", qc.History)
	}
	qa, _ := s.GetContext(ctx, "A-2")
	if len(qa.History) != 2 {
		t.Fatalf("dialogue A history = %d messages", len(qa.History))
	}
}

func TestEmptyDialogueIDIsContextError(t *testing.T) {
	s := NewStore(Config{})
	err := s.AppendTurn(context.Background(), "-oops", "q", "a")
	if !errors.Is(err, apperrors.ErrContextError) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestConcurrentAppendsKeepPerDialogueOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore(Config{MaxHistory: 1000, ContextWindow: 1000})

	const dialogues, perDialogue = 16, 50
	var wg sync.WaitGroup
	for d := 0; d < dialogues; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			for i := 0; i < perDialogue; i++ {
				qid := fmt.Sprintf("conv%d-%d", d, i)
				if err := s.AppendTurn(ctx, qid, fmt.Sprint(i), "a"); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(d)
	}
	wg.Wait()

	for d := 0; d < dialogues; d++ {
		turns, _ := s.Turns(ctx, fmt.Sprintf("conv%d", d))
		if len(turns) != perDialogue {
			t.Fatalf("dialogue %d has %d turns", d, len(turns))
		}
		for i, turn := range turns {
			if turn.QuestionText != fmt.Sprint(i) {
				t.Fatalf("dialogue %d out of order at %d: %q", d, i, turn.QuestionText)
			}
		}
	}
}

func TestMirrorHydratesAfterRestart(t *testing.T) {
	ctx := context.Background()
	mirror := newFakeMirror()

	first := NewStore(Config{}, WithMirror(mirror))
	_ = first.AppendTurn(ctx, "d-1", "q1", "a1")
	_ = first.AppendTurn(ctx, "d-2", "q2", "a2")

	restarted := NewStore(Config{}, WithMirror(mirror))
	qc, err := restarted.GetContext(ctx, "d-3")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(qc.History) != 4 || qc.History[2].Content != "q2" {
		t.Fatalf("hydrated history = %+v", qc.History)
	}

	_ = restarted.AppendTurn(ctx, "d-3", "q3", "a3")
	turns, _ := restarted.Turns(ctx, "d")
	if len(turns) != 3 || turns[2].QuestionText != "q3" {
		t.Fatalf("turns after hydrate+append = %+v", turns)
	}
}

func TestMirrorWithForeignTurnIsContextError(t *testing.T) {
	mirror := newFakeMirror()
	mirror.turns["d"] = []entity.DialogueTurn{{QuestionID: "other-1"}}

	s := NewStore(Config{}, WithMirror(mirror))
	_, err := s.GetContext(context.Background(), "d-1")
	if !apperrors.IsCode(err, apperrors.CodeContextError) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestMirrorListFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	mirror := newFakeMirror()
	mirror.listErr = errors.New("connection refused")

	s := NewStore(Config{}, WithMirror(mirror))
	if err := s.AppendTurn(ctx, "d-1", "q", "a"); err != nil {
		t.Fatalf("append should not fail: %v", err)
	}
	qc, err := s.GetContext(ctx, "d-2")
	if err != nil || len(qc.History) != 2 {
		t.Fatalf("history=%v err=%v", qc, err)
	}
}
