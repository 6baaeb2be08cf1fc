package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"

	"github.com/maistro-platform/maistro/internal/conversation"
	"github.com/maistro-platform/maistro/internal/schema"
)

// generateSchema derives an Anthropic tool input schema from a Go struct.
func generateSchema[T any]() anthropic.ToolInputSchemaParam {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	s := reflector.Reflect(v)
	return anthropic.ToolInputSchemaParam{
		Properties: s.Properties,
		Required:   s.Required,
	}
}

// directiveInput is the argument shape of the update_memory tool.
type directiveInput struct {
	UpdateType string `json:"update_type" jsonschema:"enum=user,enum=todo,enum=instructions" jsonschema_description:"Which memory category to update."`
}

var directiveTool = anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
	Name:        conversation.DirectiveToolName,
	Description: anthropic.String("Decide that long-term memory should be updated before replying. Call at most once per reply."),
	InputSchema: generateSchema[directiveInput](),
}}

// profilePatch and toDoPatch wrap the record schemas with the correlation
// field the extractor uses to distinguish updates from inserts.
type profilePatch struct {
	JSONDocID string `json:"json_doc_id,omitempty" jsonschema_description:"Key of the existing record this value updates. Omit to insert a new record."`
	schema.Profile
}

type toDoPatch struct {
	JSONDocID string `json:"json_doc_id,omitempty" jsonschema_description:"Key of the existing record this value updates. Omit to insert a new record."`
	schema.ToDo
}

func extractionTool(schemaName string) (anthropic.ToolUnionParam, error) {
	switch schemaName {
	case schema.ProfileSchema:
		return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        schema.ProfileSchema,
			Description: anthropic.String("Record the user's profile. Call once per profile fragment to insert or update."),
			InputSchema: generateSchema[profilePatch](),
		}}, nil
	case schema.ToDoSchema:
		return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        schema.ToDoSchema,
			Description: anthropic.String("Record a task on the user's todo list. Call once per task to insert or update."),
			InputSchema: generateSchema[toDoPatch](),
		}}, nil
	}
	return anthropic.ToolUnionParam{}, fmt.Errorf("unknown extraction schema %q", schemaName)
}
