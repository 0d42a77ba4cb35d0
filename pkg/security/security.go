// Package security gates both halves of the tool lifecycle: definitions
// are vetted before they are stored, invocations before they are run. The
// manager only renders verdicts; enforcement belongs to the callers.
package security

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/pkg/tool"
)

// Policy is the declarative rule set the manager evaluates against.
// Empty allow lists mean "allow everything not explicitly blocked".
type Policy struct {
	AllowedTools     []string `json:"allowed_tools" mapstructure:"allowed_tools"`
	BlockedTools     []string `json:"blocked_tools" mapstructure:"blocked_tools"`
	AllowedDomains   []string `json:"allowed_domains" mapstructure:"allowed_domains"`
	BlockedDomains   []string `json:"blocked_domains" mapstructure:"blocked_domains"`
	MaxToolCalls     int      `json:"max_tool_calls" mapstructure:"max_tool_calls"`
	MaxArgumentBytes int      `json:"max_argument_bytes" mapstructure:"max_argument_bytes"`
	CodeDenylist     []string `json:"code_denylist" mapstructure:"code_denylist"`
}

// DefaultPolicy returns the policy applied when the config carries none.
func DefaultPolicy() Policy {
	return Policy{
		MaxToolCalls:     10,
		MaxArgumentBytes: 64 * 1024,
		CodeDenylist: []string{
			`require\s*\(`,
			`import\s*\(`,
			`process\.`,
			`child_process`,
			`\bfs\.`,
			`XMLHttpRequest`,
			`\bfetch\s*\(`,
			`WebSocket`,
			`while\s*\(\s*true\s*\)`,
			`for\s*\(\s*;\s*;\s*\)`,
		},
	}
}

// Verdict is the manager's answer: allowed or not, with the reason when not.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict             { return Verdict{Allowed: true} }
func deny(reason string) Verdict { return Verdict{Allowed: false, Reason: reason} }

// Manager evaluates policies. Safe for concurrent use; UpdatePolicy may be
// called while verdicts are being rendered (config hot reload).
type Manager struct {
	mu       sync.RWMutex
	policy   Policy
	denylist []*regexp.Regexp
}

// NewManager builds a manager from the given policy. Invalid denylist
// patterns are rejected here, not at evaluation time.
func NewManager(policy Policy) (*Manager, error) {
	m := &Manager{}
	if err := m.UpdatePolicy(policy); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdatePolicy swaps the active policy atomically.
func (m *Manager) UpdatePolicy(policy Policy) error {
	denylist := make([]*regexp.Regexp, 0, len(policy.CodeDenylist))
	for _, pattern := range policy.CodeDenylist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid code denylist pattern %q: %w", pattern, err)
		}
		denylist = append(denylist, re)
	}

	m.mu.Lock()
	m.policy = policy
	m.denylist = denylist
	m.mu.Unlock()

	log.Info().
		Int("blocked_tools", len(policy.BlockedTools)).
		Int("denylist_patterns", len(policy.CodeDenylist)).
		Msg("Security policy applied")
	return nil
}

// Policy returns a copy of the active policy.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// MaxToolCalls reports the per-turn tool call budget, 0 meaning unlimited.
func (m *Manager) MaxToolCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.MaxToolCalls
}

// VetDefinition renders a verdict on a new dynamic tool definition: name
// shape, schema validity, and the code denylist.
func (m *Manager) VetDefinition(schema tool.Schema, code string) Verdict {
	if err := schema.Validate(); err != nil {
		return m.rejected("definition", fmt.Sprintf("invalid schema: %v", err))
	}
	if strings.TrimSpace(code) == "" {
		return m.rejected("definition", "code payload is empty")
	}

	m.mu.RLock()
	denylist := m.denylist
	m.mu.RUnlock()

	for _, re := range denylist {
		if re.MatchString(code) {
			return m.rejected("definition",
				fmt.Sprintf("code matches blocked pattern %q", re.String()))
		}
	}

	return allow()
}

// VetInvocation renders a verdict on a single tool call: tool allow/block
// lists, argument payload size, and the definition's compiled schema.
func (m *Manager) VetInvocation(def *tool.Definition, args map[string]interface{}) Verdict {
	m.mu.RLock()
	policy := m.policy
	m.mu.RUnlock()

	name := def.Schema.Name

	for _, blocked := range policy.BlockedTools {
		if blocked == name || blocked == "*" {
			return m.rejected("invocation", fmt.Sprintf("tool %q is blocked by policy", name))
		}
	}
	if len(policy.AllowedTools) > 0 && !containsName(policy.AllowedTools, name) {
		return m.rejected("invocation", fmt.Sprintf("tool %q is not on the allow list", name))
	}

	if policy.MaxArgumentBytes > 0 {
		payload, err := json.Marshal(args)
		if err != nil {
			return m.rejected("invocation", fmt.Sprintf("arguments are not serializable: %v", err))
		}
		if len(payload) > policy.MaxArgumentBytes {
			return m.rejected("invocation",
				fmt.Sprintf("argument payload %d bytes exceeds limit %d", len(payload), policy.MaxArgumentBytes))
		}
	}

	if def.Compiled != nil {
		if v := m.validateArgs(def.Compiled, name, args); !v.Allowed {
			return v
		}
	}

	return allow()
}

func (m *Manager) validateArgs(compiled *gojsonschema.Schema, name string, args map[string]interface{}) Verdict {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return m.rejected("invocation", fmt.Sprintf("argument validation failed for %q: %v", name, err))
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return m.rejected("invocation",
			fmt.Sprintf("arguments for %q do not match schema: %s", name, strings.Join(details, "; ")))
	}
	return allow()
}

// IsDomainAllowed checks a URL's host against the domain lists. Used by
// network-touching builtins before any request leaves the process.
func (m *Manager) IsDomainAllowed(rawURL string) Verdict {
	m.mu.RLock()
	policy := m.policy
	m.mu.RUnlock()

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return m.rejected("invocation", fmt.Sprintf("unparseable URL %q", rawURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return m.rejected("invocation", fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())

	for _, blocked := range policy.BlockedDomains {
		if hostMatches(host, blocked) {
			return m.rejected("invocation", fmt.Sprintf("domain %q is blocked by policy", host))
		}
	}
	if len(policy.AllowedDomains) > 0 {
		for _, allowed := range policy.AllowedDomains {
			if hostMatches(host, allowed) {
				return allow()
			}
		}
		return m.rejected("invocation", fmt.Sprintf("domain %q is not on the allow list", host))
	}

	return allow()
}

func (m *Manager) rejected(stage, reason string) Verdict {
	observability.RecordSecurityRejection(stage)
	log.Warn().Str("stage", stage).Str("reason", reason).Msg("Security rejection")
	return deny(reason)
}

func containsName(list []string, name string) bool {
	for _, entry := range list {
		if entry == name || entry == "*" {
			return true
		}
	}
	return false
}

// hostMatches treats a policy entry as an exact host or a suffix domain:
// "example.com" matches "example.com" and "api.example.com".
func hostMatches(host, entry string) bool {
	entry = strings.ToLower(strings.TrimSpace(entry))
	if entry == "" {
		return false
	}
	if entry == "*" || host == entry {
		return true
	}
	return strings.HasSuffix(host, "."+entry)
}
