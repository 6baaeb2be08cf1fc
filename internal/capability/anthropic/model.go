// Package anthropic implements the model and extraction capabilities on
// the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/maistro-platform/maistro/internal/capability"
	"github.com/maistro-platform/maistro/internal/conversation"
)

// NewClient returns an SDK client for the given API key.
func NewClient(apiKey string) *anthropic.Client {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c
}

// Model implements capability.Model.
type Model struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewModel(client *anthropic.Client, model string, maxTokens int) *Model {
	return &Model{client: client, model: anthropic.Model(model), maxTokens: int64(maxTokens)}
}

func (m *Model) Invoke(ctx context.Context, req capability.ModelRequest) (conversation.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: m.maxTokens,
		Messages:  toParams(req.Messages),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
	}

	if req.SingleDirective {
		params.Tools = []anthropic.ToolUnionParam{directiveTool}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{
				DisableParallelToolUse: anthropic.Bool(true),
			},
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("model invocation: %w", err)
	}
	return fromResponse(resp), nil
}
