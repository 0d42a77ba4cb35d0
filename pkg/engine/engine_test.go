package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-ai/artificer/pkg/registry"
	"github.com/artificer-ai/artificer/pkg/security"
	"github.com/artificer-ai/artificer/pkg/tool"
	"github.com/artificer-ai/artificer/pkg/toolstore"
)

type fixture struct {
	engine   *Engine
	registry *registry.Registry
	store    *toolstore.Store
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	store, err := toolstore.Open(filepath.Join(t.TempDir(), "tools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New(store)
	sec, err := security.NewManager(security.DefaultPolicy())
	require.NoError(t, err)

	return &fixture{
		engine:   New(reg, sec, opts),
		registry: reg,
		store:    store,
	}
}

func (f *fixture) registerBuiltin(t *testing.T, name string, handler tool.Handler) {
	t.Helper()
	require.NoError(t, f.registry.RegisterBuiltin(tool.Schema{
		Name:        name,
		Description: "Test builtin",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Required: false},
		},
	}, handler))
}

// TestInvoke_BuiltinSuccess tests the happy path through a native handler
func TestInvoke_BuiltinSuccess(t *testing.T) {
	f := newFixture(t, Options{})
	f.registerBuiltin(t, "upper", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		text, _ := params["text"].(string)
		return strings.ToUpper(text), nil
	})

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "upper",
		Arguments: map[string]interface{}{"text": "hello"},
	})

	require.True(t, result.Success)
	assert.Equal(t, "HELLO", result.Output)
	assert.Empty(t, result.ErrorKind)
}

// TestInvoke_UnknownTool tests the unknown-name failure as data
func TestInvoke_UnknownTool(t *testing.T) {
	f := newFixture(t, Options{})

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{Name: "ghost"})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrUnknownTool, result.ErrorKind)
	assert.Contains(t, result.Error, "ghost")
}

// TestInvoke_HandlerError tests that a handler error becomes ExecutionFault
func TestInvoke_HandlerError(t *testing.T) {
	f := newFixture(t, Options{})
	f.registerBuiltin(t, "broken", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, errors.New("disk on fire")
	})

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "broken",
		Arguments: map[string]interface{}{},
	})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrExecutionFault, result.ErrorKind)
	assert.Contains(t, result.Error, "disk on fire")
}

// TestInvoke_HandlerPanic tests panic containment
func TestInvoke_HandlerPanic(t *testing.T) {
	f := newFixture(t, Options{})
	f.registerBuiltin(t, "bomb", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		panic("boom")
	})

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "bomb",
		Arguments: map[string]interface{}{},
	})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrExecutionFault, result.ErrorKind)
	assert.Contains(t, result.Error, "panic")
}

// TestInvoke_BuiltinTimeout tests the wall-clock bound on native handlers
func TestInvoke_BuiltinTimeout(t *testing.T) {
	f := newFixture(t, Options{BuiltinTimeout: 50 * time.Millisecond})
	f.registerBuiltin(t, "sleepy", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		select {
		case <-time.After(5 * time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "sleepy",
		Arguments: map[string]interface{}{},
	})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrTimeout, result.ErrorKind)
}

// TestInvoke_SecurityRejected tests the vet-before-dispatch gate
func TestInvoke_SecurityRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.registerBuiltin(t, "gated", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		t.Error("handler must not run for a rejected invocation")
		return nil, nil
	})

	policy := security.DefaultPolicy()
	policy.BlockedTools = []string{"gated"}
	sec, err := security.NewManager(policy)
	require.NoError(t, err)
	f.engine.security = sec

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "gated",
		Arguments: map[string]interface{}{},
	})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrSecurityRejected, result.ErrorKind)
}

// TestInvoke_ArgumentValidation tests schema rejection before dispatch
func TestInvoke_ArgumentValidation(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.registry.RegisterBuiltin(tool.Schema{
		Name:        "strict",
		Description: "Requires text",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Required: true},
		},
	}, func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return params["text"], nil
	}))

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "strict",
		Arguments: map[string]interface{}{"text": 7},
	})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrSecurityRejected, result.ErrorKind)
}

// TestInvoke_DynamicTool tests the stored-code path end to end: register a
// word counter, then invoke it in the same process
func TestInvoke_DynamicTool(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, tool.Schema{
		Name:        "word_counter",
		Description: "Counts whitespace-separated words",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Required: true},
		},
	}, `return args.text.split(/\s+/).filter(Boolean).length;`))

	result := f.engine.Invoke(ctx, tool.InvocationRequest{
		Name:      "word_counter",
		Arguments: map[string]interface{}{"text": "the quick brown fox"},
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, int64(4), result.Output)
}

// TestInvoke_DynamicThrow tests that a thrown JS error becomes ExecutionFault
func TestInvoke_DynamicThrow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, tool.Schema{
		Name:        "thrower",
		Description: "Always throws",
	}, `throw new Error("deliberate");`))

	result := f.engine.Invoke(ctx, tool.InvocationRequest{
		Name:      "thrower",
		Arguments: map[string]interface{}{},
	})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrExecutionFault, result.ErrorKind)
	assert.Contains(t, result.Error, "deliberate")
}

// TestInvoke_DynamicTimeout tests the interpreter interrupt on runaway code
func TestInvoke_DynamicTimeout(t *testing.T) {
	f := newFixture(t, Options{DynamicTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, tool.Schema{
		Name:        "spinner",
		Description: "Burns CPU",
	}, `let n = 0; for (let i = 0; i < 1e12; i++) { n += i; } return n;`))

	result := f.engine.Invoke(ctx, tool.InvocationRequest{
		Name:      "spinner",
		Arguments: map[string]interface{}{},
	})

	assert.False(t, result.Success)
	assert.Equal(t, tool.ErrTimeout, result.ErrorKind)
}

// TestInvoke_DynamicIsolation tests that one invocation cannot see state
// from a previous one
func TestInvoke_DynamicIsolation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.store.Put(ctx, tool.Schema{
		Name:        "leaky",
		Description: "Tries to accumulate global state",
	}, `globalThis.counter = (globalThis.counter || 0) + 1; return globalThis.counter;`))

	first := f.engine.Invoke(ctx, tool.InvocationRequest{Name: "leaky", Arguments: map[string]interface{}{}})
	second := f.engine.Invoke(ctx, tool.InvocationRequest{Name: "leaky", Arguments: map[string]interface{}{}})

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, int64(1), first.Output)
	assert.Equal(t, int64(1), second.Output)
}

// TestInvoke_OutputTruncation tests the output size bound
func TestInvoke_OutputTruncation(t *testing.T) {
	f := newFixture(t, Options{MaxOutputBytes: 100})
	f.registerBuiltin(t, "chatty", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return strings.Repeat("x", 500), nil
	})

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "chatty",
		Arguments: map[string]interface{}{},
	})

	require.True(t, result.Success)
	assert.True(t, result.Truncated)
	text, ok := result.Output.(string)
	require.True(t, ok)
	assert.Contains(t, text, "truncated")
}

// TestInvoke_NonStringOutput tests JSON rendering of structured output
func TestInvoke_NonStringOutput(t *testing.T) {
	f := newFixture(t, Options{})
	f.registerBuiltin(t, "structured", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"count": 3}, nil
	})

	result := f.engine.Invoke(context.Background(), tool.InvocationRequest{
		Name:      "structured",
		Arguments: map[string]interface{}{},
	})

	require.True(t, result.Success)
	text, ok := result.Output.(string)
	require.True(t, ok)
	assert.Contains(t, text, `"count":3`)
}
