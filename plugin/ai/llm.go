package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// LLMService is the chat completion service interface.
type LLMService interface {
	// Complete performs a single-turn completion.
	Complete(ctx context.Context, system, user string) (string, error)
}

type llmService struct {
	client  *openai.Client
	model   string
	retries int
}

// NewLLMService creates a new LLMService.
func NewLLMService(cfg *Config) (LLMService, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &llmService{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.ChatModel,
		retries: cfg.MaxRetries,
	}, nil
}

func (s *llmService) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	var result string
	err := doWithRetry(ctx, s.retries, func() error {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// ParseJSONObject extracts a JSON object from a completion and unmarshals it
// into target. Model output wrapped in code fences or surrounded by prose is
// tolerated. Non-conforming output yields ok=false, never an error: callers
// must treat it as "no result".
func ParseJSONObject(raw string, target any) bool {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return false
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), target); err != nil {
		slog.Debug("discarding non-conforming completion", "error", err)
		return false
	}
	return true
}

// doWithRetry executes fn with exponential backoff.
func doWithRetry(ctx context.Context, retries int, fn func() error) error {
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < retries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("semantic service request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
