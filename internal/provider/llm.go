// Package provider wraps the external collaborators of the acquisition
// engine: the chat-completion LLM, the NER model service, and the
// address-parsing backend. Every call takes a context, carries an explicit
// timeout, and reports transport failures as ErrEngineUnavailable so the
// orchestrator can fall through to the next engine instead of crashing.
package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"omniacore/internal/config"
	"omniacore/internal/logging"
	"omniacore/internal/types"
)

// LLMClient defines the interface for LLM providers.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeminiClient implements LLMClient on Google's GenAI API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	maxTokens   int32
	temperature float32
}

// NewGeminiClient creates a Gemini-backed LLM client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := int32(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		timeout:     timeout,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction. The call is
// bounded by the configured timeout; a timeout or cancellation surfaces as
// ErrEngineUnavailable, never as a hang.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryProvider, "llm.complete")
	defer timer.StopWithThreshold(5 * time.Second)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		MaxOutputTokens: c.maxTokens,
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), genCfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("llm call aborted: %v: %w", ctx.Err(), types.ErrEngineUnavailable)
		}
		return "", fmt.Errorf("llm call failed: %v: %w", err, types.ErrEngineUnavailable)
	}
	// A response that lands after cancellation must not advance the caller.
	if ctx.Err() != nil {
		return "", fmt.Errorf("llm call aborted: %v: %w", ctx.Err(), types.ErrEngineUnavailable)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("llm returned empty completion: %w", types.ErrNoMatch)
	}
	return text, nil
}
