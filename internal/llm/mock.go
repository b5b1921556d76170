package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient provides deterministic local replies when no provider is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Name() string { return "mock" }

func (c *MockClient) Complete(ctx context.Context, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	var last string
	turns := 0
	for _, m := range messages {
		if m.Role == RoleUser {
			last = strings.TrimSpace(m.Content)
			turns++
		}
	}
	if last == "" {
		return "Te escucho.", nil
	}
	if turns > 1 {
		return fmt.Sprintf("He oído: %s. Llevamos %d mensajes.", last, turns), nil
	}
	return fmt.Sprintf("He oído: %s.", last), nil
}
