package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-ai/artificer/pkg/tool"
)

func setupTestManager(t *testing.T) (*Manager, string) {
	tempDir := t.TempDir()
	m, err := NewManager(tempDir)
	require.NoError(t, err)
	return m, tempDir
}

func TestManager_ValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		shouldErr bool
	}{
		{"valid", "my-session", false},
		{"valid with underscore", "user_42", false},
		{"empty", "", true},
		{"dot dot", "../escape", true},
		{"forward slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"null byte", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSessionID(tt.id)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManager_AppendAndLoad(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "user", Content: "count my words"}))
	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{
		Role: "assistant",
		ToolCalls: []tool.InvocationRequest{
			{ID: "call_1", Name: "word_count", Arguments: map[string]interface{}{"text": "count my words"}},
		},
	}))
	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "tool", Content: "3", ToolCallID: "call_1"}))

	turns, err := m.LoadTurns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 3)

	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "count my words", turns[0].Content)
	assert.False(t, turns[0].Timestamp.IsZero())

	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, "word_count", turns[1].ToolCalls[0].Name)

	assert.Equal(t, "call_1", turns[2].ToolCallID)
}

func TestManager_AppendValidation(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	assert.Error(t, m.AppendTurn(ctx, "s1", Turn{Content: "no role"}))
	assert.Error(t, m.AppendTurn(ctx, "s1", Turn{Role: "user"}))
	assert.Error(t, m.AppendTurn(ctx, "../bad", Turn{Role: "user", Content: "x"}))
}

func TestManager_LoadMissingSession(t *testing.T) {
	m, _ := setupTestManager(t)

	turns, err := m.LoadTurns(context.Background(), "never-created")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestManager_LoadSkipsCorruptedLines(t *testing.T) {
	m, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "user", Content: "first"}))

	// Simulate a crashed write.
	path := filepath.Join(dir, "s1.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"role\": \"assist")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "assistant", Content: "second"}))

	turns, err := m.LoadTurns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "second", turns[1].Content)
}

func TestManager_Clear(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "user", Content: "hello"}))
	require.NoError(t, m.Clear(ctx, "s1"))

	turns, err := m.LoadTurns(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	// Session file still exists after a clear.
	ids, err := m.List()
	require.NoError(t, err)
	assert.Contains(t, ids, "s1")
}

func TestManager_Delete(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "user", Content: "hello"}))
	require.NoError(t, m.Delete(ctx, "s1"))

	ids, err := m.List()
	require.NoError(t, err)
	assert.NotContains(t, ids, "s1")

	// Deleting a missing session is not an error.
	assert.NoError(t, m.Delete(ctx, "s1"))
}

func TestManager_List(t *testing.T) {
	m, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "alpha", Turn{Role: "user", Content: "a"}))
	require.NoError(t, m.AppendTurn(ctx, "beta", Turn{Role: "user", Content: "b"}))

	// Non-session files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	ids, err := m.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, ids)
}

func TestManager_Info(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "user", Content: "hello"}))
	require.NoError(t, m.AppendTurn(ctx, "s1", Turn{Role: "assistant", Content: "hi"}))

	info, err := m.Info(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, info["turn_count"])
	assert.Equal(t, "s1", info["session_id"])

	_, err = m.Info(ctx, "missing")
	assert.Error(t, err)
}
