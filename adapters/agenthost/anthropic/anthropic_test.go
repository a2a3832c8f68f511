package anthropic

import (
	"context"
	"testing"

	"github.com/dshills/workflow-core/adapters/agenthost"
)

type fakeClient struct {
	callCount int
	out       agenthost.ChatOut
	err       error
	lastSys   string
}

func (f *fakeClient) createMessage(_ context.Context, system string, _ []agenthost.Message, _ []agenthost.ToolSpec) (agenthost.ChatOut, error) {
	f.callCount++
	f.lastSys = system
	return f.out, f.err
}

func TestChatModelExtractsSystemPromptAndCallsClient(t *testing.T) {
	fc := &fakeClient{out: agenthost.ChatOut{Text: "hi"}}
	m := &ChatModel{client: fc, modelName: "claude-sonnet-4-5-20250929"}

	messages := []agenthost.Message{
		{Role: agenthost.RoleSystem, Content: "be terse"},
		{Role: agenthost.RoleUser, Content: "hello"},
	}

	out, err := m.Chat(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "hi" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if fc.callCount != 1 {
		t.Fatalf("expected 1 call, got %d", fc.callCount)
	}
	if fc.lastSys != "be terse" {
		t.Fatalf("expected system prompt extracted, got %q", fc.lastSys)
	}
}

func TestChatModelRejectsCancelledContext(t *testing.T) {
	fc := &fakeClient{}
	m := &ChatModel{client: fc}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Chat(ctx, nil, nil); err == nil {
		t.Fatalf("expected context error")
	}
	if fc.callCount != 0 {
		t.Fatalf("expected client not called after cancellation, got %d calls", fc.callCount)
	}
}
