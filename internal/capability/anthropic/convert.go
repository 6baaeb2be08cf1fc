package anthropic

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/maistro-platform/maistro/internal/conversation"
)

// toParams converts conversation messages into SDK message params. Tool
// confirmations ride as tool_result blocks on user messages, per the
// Messages API pairing rules.
func toParams(msgs []conversation.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				toolUse := anthropic.ToolUseBlockParam{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(tc.Input),
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &toolUse})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case conversation.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

// fromResponse flattens an SDK response into a conversation message.
func fromResponse(resp *anthropic.Message) conversation.Message {
	msg := conversation.Message{Role: conversation.RoleAssistant}
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			if msg.Content != "" {
				msg.Content += "\n"
			}
			msg.Content += v.Text
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, conversation.ToolCall{
				ID:    v.ID,
				Name:  v.Name,
				Input: json.RawMessage(v.JSON.Input.Raw()),
			})
		}
	}
	return msg
}
