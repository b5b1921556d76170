package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackClient asks the primary client first and the fallback on failure.
type FallbackClient struct {
	primary  Client
	fallback Client
}

func NewFallbackClient(primary, fallback Client) *FallbackClient {
	return &FallbackClient{primary: primary, fallback: fallback}
}

func (c *FallbackClient) Name() string {
	return c.primary.Name() + "+" + c.fallback.Name()
}

func (c *FallbackClient) Complete(ctx context.Context, messages []Message) (string, error) {
	reply, err := c.primary.Complete(ctx, messages)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	fallbackReply, fallbackErr := c.fallback.Complete(ctx, messages)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary llm error: %w; fallback llm error: %v", err, fallbackErr)
	}
	return fallbackReply, nil
}
