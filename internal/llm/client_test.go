package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubClient struct {
	name  string
	reply string
	err   error
	calls int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Complete(context.Context, []Message) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestNewClientAutoWithoutKeysUsesMock(t *testing.T) {
	c, err := NewClient(context.Background(), Config{Provider: "auto"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.Name() != "mock" {
		t.Fatalf("Name() = %q, want mock", c.Name())
	}
}

func TestNewClientExplicitProviderRequiresKey(t *testing.T) {
	for _, provider := range []string{"groq", "gemini"} {
		_, err := NewClient(context.Background(), Config{Provider: provider})
		if !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("NewClient(%s) error = %v, want ErrNotConfigured", provider, err)
		}
	}
	if _, err := NewClient(context.Background(), Config{Provider: "oracle"}); err == nil {
		t.Fatalf("NewClient(oracle) error = nil, want unsupported provider")
	}
}

func TestFallbackClientUsesSecondaryOnFailure(t *testing.T) {
	primary := &stubClient{name: "groq", err: errors.New("boom")}
	secondary := &stubClient{name: "gemini", reply: "respuesta"}
	c := NewFallbackClient(primary, secondary)

	reply, err := c.Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "respuesta" || secondary.calls != 1 {
		t.Fatalf("reply = %q calls = %d, want fallback reply", reply, secondary.calls)
	}
}

func TestFallbackClientKeepsCancellation(t *testing.T) {
	primary := &stubClient{name: "groq", err: context.Canceled}
	secondary := &stubClient{name: "gemini", reply: "respuesta"}
	c := NewFallbackClient(primary, secondary)

	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Complete() error = %v, want context.Canceled", err)
	}
	if secondary.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0", secondary.calls)
	}
}

func TestMockClientEchoesLastUserMessage(t *testing.T) {
	reply, err := NewMockClient().Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "x"},
		{Role: RoleUser, Content: "hola"},
		{Role: RoleAssistant, Content: "buenas"},
		{Role: RoleUser, Content: "que hora es"},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(reply, "que hora es") || !strings.Contains(reply, "2 mensajes") {
		t.Fatalf("reply = %q, want echo of last user message and count", reply)
	}
}

func TestToGeminiContentsSplitsSystem(t *testing.T) {
	system, contents := toGeminiContents([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "hola"},
		{Role: RoleAssistant, Content: "buenas"},
	})
	if system != "a" {
		t.Fatalf("system = %q, want a", system)
	}
	if len(contents) != 2 || contents[1].Role != "model" {
		t.Fatalf("contents = %+v, want user then model", contents)
	}
}
