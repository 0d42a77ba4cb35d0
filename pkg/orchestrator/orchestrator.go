// Package orchestrator runs the conversation loop: submit history to the
// model, dispatch its tool calls in order, feed results back, repeat until
// the model produces final text or the step bound trips.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/internal/tracing"
	"github.com/artificer-ai/artificer/pkg/engine"
	"github.com/artificer-ai/artificer/pkg/provider"
	"github.com/artificer-ai/artificer/pkg/registry"
	"github.com/artificer-ai/artificer/pkg/security"
	"github.com/artificer-ai/artificer/pkg/session"
	"github.com/artificer-ai/artificer/pkg/tool"
)

// ErrProvider wraps failures of the model backend after failover is
// exhausted. Tool failures never surface here; they flow back into the
// conversation as data.
var ErrProvider = errors.New("provider error")

const (
	// DefaultMaxSteps bounds model round trips per user turn.
	DefaultMaxSteps = 10

	// stepLimitNotice is appended as the final assistant message when the
	// loop is cut off.
	stepLimitNotice = "I reached the maximum number of tool steps for this request, so here is where things stand. " +
		"The results gathered so far are recorded above; ask me to continue if you need more."

	// emptyResponseNotice stands in when the model returns neither text
	// nor tool calls, so the turn still closes with a visible answer.
	emptyResponseNotice = "I received an empty response from the model. Please try rephrasing your request."
)

// Config tunes a single orchestrator instance.
type Config struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	MaxSteps     int
	AuthProfiles []provider.AuthProfile
}

// ProviderFactory builds backends from auth profiles. Satisfied by
// provider.Factory; tests substitute fakes.
type ProviderFactory interface {
	NewProvider(profile provider.AuthProfile) (provider.Provider, error)
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	Text      string `json:"text"`
	Steps     int    `json:"steps"`
	ToolCalls int    `json:"tool_calls"`
	Truncated bool   `json:"truncated"`
}

// Orchestrator drives the loop. One instance serves many sessions.
type Orchestrator struct {
	engine   *engine.Engine
	registry *registry.Registry
	sessions *session.Manager
	security *security.Manager
	factory  ProviderFactory
	cfg      Config

	failover *failoverState
}

// New builds an orchestrator. MaxSteps defaults when zero; at least one
// auth profile is required.
func New(eng *engine.Engine, reg *registry.Registry, sessions *session.Manager,
	sec *security.Manager, factory ProviderFactory, cfg Config) (*Orchestrator, error) {

	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &Orchestrator{
		engine:   eng,
		registry: reg,
		sessions: sessions,
		security: sec,
		factory:  factory,
		cfg:      cfg,
		failover: newFailoverState(cfg.AuthProfiles),
	}, nil
}

// HandleTurn processes one user input within a session and returns the
// final assistant text. Tool failures are folded into the conversation;
// only provider exhaustion and persistence failures return an error.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userInput string) (*TurnResult, error) {
	ctx = tracing.NewTurnContext(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, "artificer.orchestrator", "orchestrator.turn",
		attribute.String("session_id", sessionID))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if userInput == "" {
		return nil, fmt.Errorf("user input cannot be empty")
	}

	start := time.Now()

	history, err := o.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userTurn := session.Turn{Role: provider.RoleUser, Content: userInput}
	if err := o.sessions.AppendTurn(ctx, sessionID, userTurn); err != nil {
		return nil, err
	}
	history = append(history, provider.Message{Role: provider.RoleUser, Content: userInput})

	toolBudget := o.security.MaxToolCalls()
	totalCalls := 0

	for step := 1; step <= o.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			observability.RecordTurn("aborted", time.Since(start), step)
			return nil, fmt.Errorf("turn aborted: %w", err)
		}

		// Re-list every round so tools registered mid-turn are visible.
		tools, err := o.registry.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}

		resp, err := o.submit(ctx, provider.Request{
			Model:       o.cfg.Model,
			System:      o.cfg.SystemPrompt,
			Messages:    history,
			Tools:       tools,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
		})
		if err != nil {
			observability.RecordTurn("provider_error", time.Since(start), step)
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}

		if !resp.IsToolCalls() {
			text := resp.Text
			if text == "" {
				logger.Warn().Msg("Model returned an empty response")
				text = emptyResponseNotice
			}
			if err := o.sessions.AppendTurn(ctx, sessionID, session.Turn{
				Role:    provider.RoleAssistant,
				Content: text,
			}); err != nil {
				return nil, err
			}

			observability.RecordTurn("completed", time.Since(start), step)
			logger.Info().Int("steps", step).Int("tool_calls", totalCalls).Msg("Turn completed")
			return &TurnResult{Text: text, Steps: step, ToolCalls: totalCalls}, nil
		}

		assistantTurn := session.Turn{
			Role:      provider.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		}
		if err := o.sessions.AppendTurn(ctx, sessionID, assistantTurn); err != nil {
			return nil, err
		}
		history = append(history, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		// Calls run strictly in order; each result lands in the history
		// before the next call starts.
		for _, call := range resp.ToolCalls {
			totalCalls++

			var result tool.InvocationResult
			if toolBudget > 0 && totalCalls > toolBudget {
				result = tool.Fail(tool.ErrSecurityRejected,
					"tool call budget of %d per turn exhausted", toolBudget)
			} else {
				result = o.engine.Invoke(ctx, call)
			}

			toolTurn := session.Turn{
				Role:       provider.RoleTool,
				Content:    result.Text(),
				ToolCallID: call.ID,
			}
			if err := o.sessions.AppendTurn(ctx, sessionID, toolTurn); err != nil {
				return nil, err
			}
			history = append(history, provider.Message{
				Role:       provider.RoleTool,
				Content:    result.Text(),
				ToolCallID: call.ID,
			})
		}
	}

	// Step bound hit: close the turn with an explicit notice instead of
	// looping forever.
	if err := o.sessions.AppendTurn(ctx, sessionID, session.Turn{
		Role:    provider.RoleAssistant,
		Content: stepLimitNotice,
	}); err != nil {
		return nil, err
	}

	observability.RecordTurn("truncated", time.Since(start), o.cfg.MaxSteps)
	logger.Warn().Int("max_steps", o.cfg.MaxSteps).Msg("Turn hit step limit")

	return &TurnResult{
		Text:      stepLimitNotice,
		Steps:     o.cfg.MaxSteps,
		ToolCalls: totalCalls,
		Truncated: true,
	}, nil
}

// loadHistory converts persisted turns into provider messages.
func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) ([]provider.Message, error) {
	turns, err := o.sessions.LoadTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	messages := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, provider.Message{
			Role:       t.Role,
			Content:    t.Content,
			ToolCalls:  t.ToolCalls,
			ToolCallID: t.ToolCallID,
		})
	}
	return messages, nil
}

// ClearSession wipes a session's history.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	return o.sessions.Clear(ctx, sessionID)
}
