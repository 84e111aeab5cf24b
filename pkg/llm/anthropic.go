package llm

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/seedcheck/validator-cli/internal/model"
)

// anthropicCaller issues completions for Anthropic-provider runtimes.
type anthropicCaller interface {
	complete(ctx context.Context, rt model.LLMRuntime, req Request) (*Response, error)
}

type sdkCaller struct{}

func newAnthropicCaller() anthropicCaller {
	return &sdkCaller{}
}

func (s *sdkCaller) complete(ctx context.Context, rt model.LLMRuntime, req Request) (*Response, error) {
	opts := []option.RequestOption{option.WithAPIKey(rt.APIKey)}
	if rt.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(rt.BaseURL))
	}
	client := sdk.NewClient(opts...)

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	system, messages := splitSystem(req.Messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(rt.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if eris.As(err, &apiErr) {
			return nil, &StatusError{Code: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return nil, eris.Wrap(err, "llm: anthropic create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text:             text.String(),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// splitSystem pulls system-role messages into the dedicated system prompt
// slot; the messages API rejects them inline.
func splitSystem(msgs []Message) (string, []sdk.MessageParam) {
	var system strings.Builder
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return system.String(), out
}
