package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/retry"
)

type fakeChatModel struct {
	errs  []error
	reply string
	calls int
	last  []*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.last = input
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

type fakeSource map[string]model.BaseChatModel

func (s fakeSource) Get(_ context.Context, name string) (model.BaseChatModel, error) {
	m, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return m, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Backoff{Initial: time.Second, Max: time.Second, Multiplier: 2},
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestCompleteBuildsMessages(t *testing.T) {
	m := &fakeChatModel{reply: "ok"}
	g := NewGenerator(fakeSource{"a": m}, []string{"a"}, fastPolicy())

	history := []entity.Message{
		{Role: entity.RoleHuman, Content: "q1"},
		{Role: entity.RoleAssistant, Content: "a1"},
	}
	out, err := g.Complete(context.Background(), "sys", "user", history)
	if err != nil || out != "ok" {
		t.Fatalf("Complete = %q, %v", out, err)
	}
	wantRoles := []schema.RoleType{schema.System, schema.User, schema.Assistant, schema.User}
	if len(m.last) != len(wantRoles) {
		t.Fatalf("messages = %d", len(m.last))
	}
	for i, r := range wantRoles {
		if m.last[i].Role != r {
			t.Errorf("message %d role = %s, want %s", i, m.last[i].Role, r)
		}
	}
	if m.last[3].Content != "user" {
		t.Fatalf("last content = %q", m.last[3].Content)
	}
}

func TestBuildMessagesOmitsEmptySystem(t *testing.T) {
	msgs := BuildMessages("  ", "u", nil)
	if len(msgs) != 1 || msgs[0].Role != schema.User {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	m := &fakeChatModel{reply: "ok", errs: []error{errors.New("status 429: rate limit"), errors.New("502 bad gateway")}}
	g := NewGenerator(fakeSource{"a": m}, []string{"a"}, fastPolicy())

	out, err := g.Complete(context.Background(), "", "u", nil)
	if err != nil || out != "ok" || m.calls != 3 {
		t.Fatalf("out = %q err = %v calls = %d", out, err, m.calls)
	}
}

func TestCompleteDoesNotRetryPermanentErrors(t *testing.T) {
	m := &fakeChatModel{errs: []error{errors.New("invalid api key")}}
	g := NewGenerator(fakeSource{"a": m}, []string{"a"}, fastPolicy())

	_, err := g.Complete(context.Background(), "", "u", nil)
	if !apperrors.IsCode(err, apperrors.CodeGenerationError) {
		t.Fatalf("err = %v", err)
	}
	if m.calls != 1 {
		t.Fatalf("calls = %d", m.calls)
	}
}

func TestCompleteFallsBackToNextProvider(t *testing.T) {
	bad := &fakeChatModel{errs: []error{errors.New("503"), errors.New("503"), errors.New("503")}}
	good := &fakeChatModel{reply: "from b"}
	g := NewGenerator(fakeSource{"a": bad, "b": good}, []string{"a", "b"}, fastPolicy())

	out, err := g.Complete(context.Background(), "", "u", nil)
	if err != nil || out != "from b" {
		t.Fatalf("out = %q err = %v", out, err)
	}
	if bad.calls != 3 || good.calls != 1 {
		t.Fatalf("calls a=%d b=%d", bad.calls, good.calls)
	}
}

func TestCompleteUnknownProvider(t *testing.T) {
	g := NewGenerator(fakeSource{}, []string{"missing"}, fastPolicy())
	if _, err := g.Complete(context.Background(), "", "u", nil); !apperrors.IsCode(err, apperrors.CodeGenerationError) {
		t.Fatalf("err = %v", err)
	}
}
