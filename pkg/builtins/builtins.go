// Package builtins provides the fixed host capabilities and registers
// them with the tool registry: a calculator, clock, word counter, notes,
// a gated URL fetcher, and the self-extension surface (create_tool,
// list_custom_tools, delete_tool).
package builtins

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/artificer-ai/artificer/pkg/registry"
	"github.com/artificer-ai/artificer/pkg/security"
	"github.com/artificer-ai/artificer/pkg/tool"
	"github.com/artificer-ai/artificer/pkg/toolstore"
)

// Deps carries the collaborators builtin handlers need.
type Deps struct {
	Store    *toolstore.Store
	Security *security.Manager
	HTTP     *http.Client
}

// RegisterAll wires every builtin into the registry and seals the
// reserved name set. Call once during startup.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 20 * time.Second}
	}

	registrations := []struct {
		schema  tool.Schema
		handler tool.Handler
	}{
		{calculateSchema(), calculateHandler},
		{currentTimeSchema(), currentTimeHandler},
		{wordCountSchema(), wordCountHandler},
		{saveNoteSchema(), saveNoteHandler(deps.Store)},
		{readNotesSchema(), readNotesHandler(deps.Store)},
		{fetchURLSchema(), fetchURLHandler(deps)},
		{createToolSchema(), createToolHandler(deps)},
		{listCustomToolsSchema(), listCustomToolsHandler(deps.Store)},
		{deleteToolSchema(), deleteToolHandler(deps.Store)},
	}

	for _, r := range registrations {
		if err := reg.RegisterBuiltin(r.schema, r.handler); err != nil {
			return fmt.Errorf("failed to register builtin: %w", err)
		}
	}

	reg.SealBuiltins()
	return nil
}

func stringArg(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing %q parameter", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}

func calculateSchema() tool.Schema {
	return tool.Schema{
		Name:        "calculate",
		Description: "Evaluates a mathematical expression. Supports + - * / ^, parentheses, and sqrt, sin, cos, tan, abs, log.",
		Parameters: []tool.Parameter{
			{Name: "expression", Type: "string", Description: "The expression to evaluate, e.g. \"sqrt(16) + 2^3\"", Required: true},
		},
	}
}

func calculateHandler(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	expression, err := stringArg(params, "expression")
	if err != nil {
		return nil, err
	}
	value, err := evaluateExpression(expression)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Result: %s", formatNumber(value)), nil
}

func currentTimeSchema() tool.Schema {
	return tool.Schema{
		Name:        "get_current_time",
		Description: "Returns the current date and time.",
	}
}

func currentTimeHandler(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	now := time.Now()
	return fmt.Sprintf("Current date and time: %s", now.Format("2006-01-02 15:04:05 MST")), nil
}

func wordCountSchema() tool.Schema {
	return tool.Schema{
		Name:        "word_count",
		Description: "Counts the whitespace-separated words in a text.",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Description: "The text to count words in", Required: true},
		},
	}
}

func wordCountHandler(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	text, err := stringArg(params, "text")
	if err != nil {
		return nil, err
	}
	count := len(strings.Fields(text))
	return fmt.Sprintf("%d", count), nil
}
