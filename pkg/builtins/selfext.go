package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/pkg/tool"
	"github.com/artificer-ai/artificer/pkg/toolstore"
)

func createToolSchema() tool.Schema {
	return tool.Schema{
		Name: "create_tool",
		Description: "Creates a new custom tool from JavaScript code. The code runs with an `args` object " +
			"holding the invocation arguments and should end with a return statement. " +
			"The new tool is callable immediately.",
		Parameters: []tool.Parameter{
			{Name: "name", Type: "string", Description: "Tool name: letters, digits and underscores only", Required: true},
			{Name: "description", Type: "string", Description: "What the tool does", Required: true},
			{Name: "parameters_schema", Type: "object", Description: "JSON Schema object describing the tool's parameters", Required: false},
			{Name: "code", Type: "string", Description: "JavaScript body of the tool", Required: true},
		},
	}
}

func createToolHandler(deps Deps) tool.Handler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		name, err := stringArg(params, "name")
		if err != nil {
			return nil, err
		}
		description, err := stringArg(params, "description")
		if err != nil {
			return nil, err
		}
		code, err := stringArg(params, "code")
		if err != nil {
			return nil, err
		}

		var schemaParams []tool.Parameter
		if raw, ok := params["parameters_schema"]; ok && raw != nil {
			rawMap, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("parameters_schema must be a JSON Schema object")
			}
			schemaParams, err = tool.ParametersFromJSONSchema(rawMap)
			if err != nil {
				return nil, err
			}
		}

		schema := tool.Schema{
			Name:        name,
			Description: description,
			Parameters:  schemaParams,
		}

		// Definition-time vetting happens before anything is persisted.
		if verdict := deps.Security.VetDefinition(schema, code); !verdict.Allowed {
			observability.RecordToolLifecycleAudit(ctx, "create", name, "", "rejected")
			return nil, fmt.Errorf("tool rejected: %s", verdict.Reason)
		}

		if err := deps.Store.Put(ctx, schema, code); err != nil {
			return nil, err
		}

		observability.RecordToolLifecycleAudit(ctx, "create", name, "", "success")
		log.Info().Str("tool", name).Msg("Custom tool created")

		return fmt.Sprintf(
			"Tool %q created successfully.\n\nDescription: %s\n\nYou can now call it with the appropriate parameters.",
			name, description), nil
	}
}

func listCustomToolsSchema() tool.Schema {
	return tool.Schema{
		Name:        "list_custom_tools",
		Description: "Lists all custom tools created so far.",
	}
}

func listCustomToolsHandler(store *toolstore.Store) tool.Handler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		schemas, err := store.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(schemas) == 0 {
			return "No custom tools created yet. Use create_tool to make one.", nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Custom tools (%d):\n\n", len(schemas))
		for _, s := range schemas {
			paramsJSON, _ := json.Marshal(s.Parameters)
			fmt.Fprintf(&b, "- %s: %s\n  Parameters: %s\n", s.Name, s.Description, paramsJSON)
		}
		return b.String(), nil
	}
}

func deleteToolSchema() tool.Schema {
	return tool.Schema{
		Name:        "delete_tool",
		Description: "Deletes a custom tool by name. Built-in tools cannot be deleted.",
		Parameters: []tool.Parameter{
			{Name: "name", Type: "string", Description: "Name of the custom tool to delete", Required: true},
		},
	}
}

func deleteToolHandler(store *toolstore.Store) tool.Handler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		name, err := stringArg(params, "name")
		if err != nil {
			return nil, err
		}

		if err := store.Delete(ctx, name); err != nil {
			return nil, err
		}

		observability.RecordToolLifecycleAudit(ctx, "delete", name, "", "success")
		return fmt.Sprintf("Tool %q deleted successfully.", name), nil
	}
}
