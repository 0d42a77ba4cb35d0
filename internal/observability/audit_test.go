package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	RecordToolLifecycleAudit(context.Background(), "create", "word_counter", "s1", "success")
	RecordInvocationAudit(context.Background(), "word_counter", "s1", "failure",
		map[string]interface{}{"error_kind": "timeout"})
	RecordPolicyReloadAudit(context.Background(), "/tmp/artificer.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var first map[string]interface{}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 3)
	require.NoError(t, json.Unmarshal(lines[0], &first))

	assert.Equal(t, "tool_lifecycle", first["type"])
	assert.Equal(t, "create:word_counter", first["action"])
	assert.Equal(t, "s1", first["actor"])
	assert.Equal(t, "success", first["status"])

	var third map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[2], &third))
	assert.Equal(t, "policy", third["type"])
}
