// Package inference sends corpus-style prompts to the finetuned model.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"
)

// ErrNoPrompt is returned when a job carries no prompt text.
var ErrNoPrompt = errors.New("no prompt provided")

const instructionTemplate = "[INST]%s[/INST]"

// Completer returns the model completion for a fully formatted prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Input struct {
	Prompt string `json:"prompt"`
}

type Job struct {
	ID    string `json:"id,omitempty"`
	Input Input  `json:"input"`
}

// Service wraps prompts in the instruction template the model was tuned on.
type Service struct {
	completer Completer
	logger    *slog.Logger
}

func NewService(completer Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{completer: completer, logger: logger}
}

// Wrap applies the instruction template to prompt.
func Wrap(prompt string) string {
	return fmt.Sprintf(instructionTemplate, prompt)
}

func (s *Service) Handle(ctx context.Context, job Job) (string, error) {
	if strings.TrimSpace(job.Input.Prompt) == "" {
		return "", ErrNoPrompt
	}

	s.logger.Debug("sending prompt", "job", job.ID, "chars", len(job.Input.Prompt))
	completion, err := s.completer.Complete(ctx, Wrap(job.Input.Prompt))
	if err != nil {
		return "", errors.Wrapf(err, "complete job %q", job.ID)
	}
	return completion, nil
}

// OpenAIClient completes prompts against an OpenAI compatible endpoint.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int64
}

func NewOpenAIClient(baseURL, apiKey, model string, maxTokens int, opts ...option.RequestOption) *OpenAIClient {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		client:    &client,
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: c.model,
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("model returned no completion choices")
	}
	return completion.Choices[0].Message.Content, nil
}
