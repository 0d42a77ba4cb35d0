package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificer-ai/artificer/pkg/tool"
)

func newManager(t *testing.T, policy Policy) *Manager {
	t.Helper()
	m, err := NewManager(policy)
	require.NoError(t, err)
	return m
}

func wordCountSchema() tool.Schema {
	return tool.Schema{
		Name:        "word_counter",
		Description: "Counts words in text",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Required: true},
		},
	}
}

// TestVetDefinition_Clean tests that a benign definition passes
func TestVetDefinition_Clean(t *testing.T) {
	m := newManager(t, DefaultPolicy())

	v := m.VetDefinition(wordCountSchema(), `return args.text.split(/\s+/).filter(Boolean).length;`)
	assert.True(t, v.Allowed)
	assert.Empty(t, v.Reason)
}

// TestVetDefinition_DenylistedCode tests rejection of escape attempts
func TestVetDefinition_DenylistedCode(t *testing.T) {
	m := newManager(t, DefaultPolicy())

	tests := []struct {
		name string
		code string
	}{
		{"require", `const fs = require("fs"); return 1;`},
		{"process access", `return process.env.SECRET;`},
		{"child_process", `child_process.exec("rm -rf /");`},
		{"infinite loop", `while (true) {}`},
		{"bare for loop", `for (;;) {}`},
		{"fetch", `return fetch("http://evil.example");`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := m.VetDefinition(wordCountSchema(), tt.code)
			assert.False(t, v.Allowed)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

// TestVetDefinition_InvalidSchema tests schema-shape rejection
func TestVetDefinition_InvalidSchema(t *testing.T) {
	m := newManager(t, DefaultPolicy())

	schema := wordCountSchema()
	schema.Name = "bad name!"

	v := m.VetDefinition(schema, "return 1;")
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "invalid schema")
}

// TestVetDefinition_EmptyCode tests that whitespace-only code is rejected
func TestVetDefinition_EmptyCode(t *testing.T) {
	m := newManager(t, DefaultPolicy())

	v := m.VetDefinition(wordCountSchema(), "   \n\t ")
	assert.False(t, v.Allowed)
}

func compiledDef(t *testing.T, schema tool.Schema) *tool.Definition {
	t.Helper()
	compiled, err := schema.Compile()
	require.NoError(t, err)
	return &tool.Definition{Schema: schema, Kind: tool.KindDynamic, Compiled: compiled}
}

// TestVetInvocation_SchemaValidation tests argument validation against the
// compiled schema
func TestVetInvocation_SchemaValidation(t *testing.T) {
	m := newManager(t, DefaultPolicy())
	def := compiledDef(t, wordCountSchema())

	v := m.VetInvocation(def, map[string]interface{}{"text": "hello world"})
	assert.True(t, v.Allowed)

	// Missing required argument
	v = m.VetInvocation(def, map[string]interface{}{})
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "word_counter")

	// Wrong type
	v = m.VetInvocation(def, map[string]interface{}{"text": 42})
	assert.False(t, v.Allowed)

	// Unknown extra argument (additionalProperties false)
	v = m.VetInvocation(def, map[string]interface{}{"text": "x", "bogus": true})
	assert.False(t, v.Allowed)
}

// TestVetInvocation_BlockedTool tests the block list
func TestVetInvocation_BlockedTool(t *testing.T) {
	policy := DefaultPolicy()
	policy.BlockedTools = []string{"word_counter"}
	m := newManager(t, policy)

	v := m.VetInvocation(compiledDef(t, wordCountSchema()), map[string]interface{}{"text": "x"})
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "blocked")
}

// TestVetInvocation_AllowList tests that a non-empty allow list is exclusive
func TestVetInvocation_AllowList(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowedTools = []string{"calculate"}
	m := newManager(t, policy)

	v := m.VetInvocation(compiledDef(t, wordCountSchema()), map[string]interface{}{"text": "x"})
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "allow list")
}

// TestVetInvocation_PayloadLimit tests the argument size bound
func TestVetInvocation_PayloadLimit(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxArgumentBytes = 64
	m := newManager(t, policy)

	big := strings.Repeat("a", 200)
	v := m.VetInvocation(compiledDef(t, wordCountSchema()), map[string]interface{}{"text": big})
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "exceeds limit")
}

// TestIsDomainAllowed tests domain allow/block evaluation
func TestIsDomainAllowed(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowedDomains = []string{"example.com", "wikipedia.org"}
	policy.BlockedDomains = []string{"internal.example.com"}
	m := newManager(t, policy)

	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"exact allowed", "https://example.com/page", true},
		{"subdomain of allowed", "https://api.example.com/v1", true},
		{"second allowed domain", "https://en.wikipedia.org/wiki/Go", true},
		{"not on allow list", "https://other.net", false},
		{"blocked subdomain wins", "https://internal.example.com/secret", false},
		{"bad scheme", "ftp://example.com/file", false},
		{"unparseable", "://nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := m.IsDomainAllowed(tt.url)
			assert.Equal(t, tt.allowed, v.Allowed, v.Reason)
		})
	}
}

// TestIsDomainAllowed_EmptyAllowList tests open policy with only blocks
func TestIsDomainAllowed_EmptyAllowList(t *testing.T) {
	policy := DefaultPolicy()
	policy.BlockedDomains = []string{"evil.example"}
	m := newManager(t, policy)

	assert.True(t, m.IsDomainAllowed("https://anything.net").Allowed)
	assert.False(t, m.IsDomainAllowed("https://evil.example/x").Allowed)
}

// TestUpdatePolicy tests hot swap and bad pattern rejection
func TestUpdatePolicy(t *testing.T) {
	m := newManager(t, DefaultPolicy())

	next := DefaultPolicy()
	next.BlockedTools = []string{"fetch_url"}
	require.NoError(t, m.UpdatePolicy(next))
	assert.Equal(t, []string{"fetch_url"}, m.Policy().BlockedTools)

	bad := DefaultPolicy()
	bad.CodeDenylist = []string{"(unclosed"}
	err := m.UpdatePolicy(bad)
	require.Error(t, err)

	// Failed update leaves the previous policy active.
	assert.Equal(t, []string{"fetch_url"}, m.Policy().BlockedTools)
}
