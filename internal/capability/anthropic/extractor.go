package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/maistro-platform/maistro/internal/capability"
)

// Extractor implements capability.Extractor with a forced tool call: the
// model must respond through the schema tool, once per inserted or
// updated record, carrying json_doc_id when it updates an existing one.
type Extractor struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewExtractor(client *anthropic.Client, model string, maxTokens int) *Extractor {
	return &Extractor{client: client, model: anthropic.Model(model), maxTokens: int64(maxTokens)}
}

func (e *Extractor) Extract(ctx context.Context, req capability.ExtractRequest) ([]capability.Extraction, error) {
	tool, err := extractionTool(req.SchemaName)
	if err != nil {
		return nil, err
	}

	msgs := toParams(req.Messages)
	if len(req.Existing) > 0 {
		msgs = append(msgs, anthropic.NewUserMessage(
			anthropic.NewTextBlock(formatExisting(req.Existing))))
	}
	if len(msgs) == 0 {
		// The API rejects an empty message list; forced extraction with no
		// conversation still needs a prompt to work from.
		msgs = append(msgs, anthropic.NewUserMessage(
			anthropic.NewTextBlock("Reconcile the records above with the conversation so far.")))
	}

	params := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Messages:  msgs,
		System: []anthropic.TextBlockParam{
			{Text: req.Instruction},
		},
		Tools: []anthropic.ToolUnionParam{tool},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.SchemaName},
		},
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("extraction invocation: %w", err)
	}

	var extractions []capability.Extraction
	for _, block := range resp.Content {
		v, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok || v.Name != req.SchemaName {
			continue
		}
		ext, err := splitCorrelation(json.RawMessage(v.JSON.Input.Raw()))
		if err != nil {
			return nil, fmt.Errorf("decoding %s extraction: %w", req.SchemaName, err)
		}
		extractions = append(extractions, ext)
	}
	return extractions, nil
}

// splitCorrelation pops json_doc_id off the tool input; the remainder is
// the record value.
func splitCorrelation(input json.RawMessage) (capability.Extraction, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return capability.Extraction{}, err
	}

	var corrID string
	if raw, ok := fields["json_doc_id"]; ok {
		if err := json.Unmarshal(raw, &corrID); err != nil {
			return capability.Extraction{}, fmt.Errorf("json_doc_id: %w", err)
		}
		delete(fields, "json_doc_id")
	}

	value, err := json.Marshal(fields)
	if err != nil {
		return capability.Extraction{}, err
	}
	return capability.Extraction{Value: value, CorrelationID: corrID}, nil
}

func formatExisting(existing []capability.ExistingRecord) string {
	var b strings.Builder
	b.WriteString("Existing records in this namespace (reconcile, do not blindly append):\n")
	for _, rec := range existing {
		b.WriteString(fmt.Sprintf("- json_doc_id=%s schema=%s value=%s\n", rec.Key, rec.Schema, rec.Value))
	}
	return b.String()
}
