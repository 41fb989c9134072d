package narrative

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const systemPrompt = "You write one friendly sentence, at most 30 words, describing a weather forecast " +
	"for a chat channel. Use only the numbers you are given. No emoji, no greeting."

// OpenAINarrator narrates summaries with a chat completion model.
type OpenAINarrator struct {
	client openai.Client
	model  string
}

// NewOpenAINarrator creates a narrator. An empty model selects gpt-4o-mini.
func NewOpenAINarrator(apiKey, model string, opts ...option.RequestOption) (*OpenAINarrator, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key not set")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAINarrator{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (n *OpenAINarrator) Narrate(ctx context.Context, s Summary) (string, error) {
	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(s)),
		},
		MaxCompletionTokens: openai.Int(80),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Prompt is the user message sent for s.
func Prompt(s Summary) string {
	return fmt.Sprintf("Forecast for %s covering %s, starting %s local time. %s",
		s.Place, s.Window(), s.Start.Format("Mon 2 Jan 15:04"), s.String())
}
