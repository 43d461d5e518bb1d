package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds connection and retry settings for the decision oracle
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// MaxAttempts bounds retries of transient API failures before the
	// caller sees an error
	MaxAttempts  int
	InitialDelay time.Duration
}

// Oracle implements port.DecisionOracle using the OpenAI chat API
type Oracle struct {
	client  *openai.Client
	prompts *PromptConfig
	model   string
	retrier retry.Retry[string]
	logger  *zap.Logger
}

// NewOracle creates an OpenAI-backed decision oracle
func NewOracle(cfg Config, prompts *PromptConfig, logger *zap.Logger) *Oracle {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Oracle{
		client:  openai.NewClientWithConfig(clientCfg),
		prompts: prompts,
		model:   cfg.Model,
		retrier: retry.New[string](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.InitialDelay,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
		}),
		logger: logger,
	}
}

// Decide sends the prompt bundle and returns the model's raw reply. The
// caller reads the proposed state from the first line.
func (o *Oracle) Decide(ctx context.Context, prompt string) (string, error) {
	o.logger.Debug("Requesting transition decision",
		zap.String("model", o.model),
		zap.Int("prompt_bytes", len(prompt)))

	reply, err := o.retrier.Do(ctx, func(ctx context.Context) (string, error) {
		return o.complete(ctx, prompt)
	})
	if err != nil {
		o.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	o.logger.Debug("Transition decision received",
		zap.String("first_line", firstLine(reply)))

	return reply, nil
}

func (o *Oracle) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.prompts.Decision.Temperature,
		MaxTokens:   o.prompts.Decision.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: o.prompts.Decision.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	return resp.Choices[0].Message.Content, nil
}

func firstLine(s string) string {
	return strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
}
