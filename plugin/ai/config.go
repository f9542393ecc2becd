// Package ai provides the semantic analysis services used by the chronicle
// engine: text embedding and structured chat completion.
package ai

import (
	"errors"

	"github.com/lifeink/chronicle/internal/profile"
)

// Config represents semantic service configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	Dimensions     int
	MaxRetries     int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		EmbeddingModel: "text-embedding-3-small",
		ChatModel:      "gpt-4o-mini",
		Dimensions:     1536,
		MaxRetries:     3,
	}
}

// NewConfigFromProfile creates semantic service config from the profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		BaseURL:        p.AIBaseURL,
		APIKey:         p.AIAPIKey,
		EmbeddingModel: p.AIEmbeddingModel,
		ChatModel:      p.AIChatModel,
		Dimensions:     p.EmbeddingDimensions,
		MaxRetries:     p.AIMaxRetries,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("semantic service API key is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("embedding model is required")
	}
	if c.ChatModel == "" {
		return errors.New("chat model is required")
	}
	if c.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	return nil
}
