package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ent0n29/anubis/internal/reliability"
)

const groqMaxAttempts = 3

// GroqClient talks to Groq's OpenAI-compatible chat completions API.
type GroqClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewGroqClient(apiKey, baseURL, model string, timeout time.Duration) *GroqClient {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = "llama-3.1-8b-instant"
	}
	return &GroqClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

func (c *GroqClient) Name() string { return "groq" }

func (c *GroqClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var reply string
	err := reliability.Retry(ctx, groqMaxAttempts, 200*time.Millisecond, 2*time.Second, func(int) error {
		callCtx, cancel := withTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			return classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyReply
		}
		reply = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("groq chat completion: %w", err)
	}
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// classifyOpenAIError turns SDK errors into status errors so retries can tell
// throttling apart from bad requests.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &reliability.StatusError{Provider: "groq", Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &reliability.StatusError{Provider: "groq", Status: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
