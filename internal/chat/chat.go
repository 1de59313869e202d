// Package chat forwards learner questions to an OpenAI-compatible chat
// completion API under a fixed tutor persona.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("chat API key not configured")

// DefaultSubjects are the subjects the tutor persona covers.
var DefaultSubjects = []string{"mathematics", "science", "social studies"}

// Config configures the upstream chat completion endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Subjects    []string
}

// DefaultConfig returns the settings the tutor runs with out of the box.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o",
		MaxTokens:   1500,
		Temperature: 0.3,
		Subjects:    DefaultSubjects,
	}
}

// Request is one learner message, optionally with an image URL or data URL.
type Request struct {
	Message  string `json:"message"`
	Image    string `json:"image,omitempty"`
	Language string `json:"-"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api *openai.Client
	cfg Config
}

// New creates a chat client. A client without an API key is valid but
// every Reply fails with ErrNotConfigured.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if len(cfg.Subjects) == 0 {
		cfg.Subjects = def.Subjects
	}
	c := &Client{cfg: cfg}
	if cfg.APIKey != "" {
		config := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		c.api = openai.NewClientWithConfig(config)
	}
	return c
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.api != nil
}

// Reply makes one chat completion round trip and returns the tutor's answer.
func (c *Client) Reply(ctx context.Context, req Request) (string, error) {
	if c.api == nil {
		return "", ErrNotConfigured
	}
	msg := sanitizeMessage(req.Message)
	if msg == "" && req.Image == "" {
		return "", errors.New("message or image is required")
	}

	system, err := BuildSystemPrompt(PromptData{Subjects: c.cfg.Subjects, Language: req.Language})
	if err != nil {
		return "", fmt.Errorf("build system prompt: %w", err)
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg}
	if req.Image != "" {
		if msg == "" {
			msg = DefaultImagePrompt
		}
		user = openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: msg},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: req.Image}},
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			user,
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	slog.Debug("chat reply", "model", resp.Model, "prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens, "image", req.Image != "")
	return resp.Choices[0].Message.Content, nil
}
