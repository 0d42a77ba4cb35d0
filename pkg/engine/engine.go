// Package engine executes tool invocations: resolve, vet, dispatch. Every
// failure mode past this boundary is an InvocationResult, never a panic or
// a raw error, so the orchestrator feeds outcomes back into the
// conversation uniformly.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/internal/tracing"
	"github.com/artificer-ai/artificer/pkg/registry"
	"github.com/artificer-ai/artificer/pkg/security"
	"github.com/artificer-ai/artificer/pkg/tool"
)

const (
	defaultBuiltinTimeout = 30 * time.Second
	defaultDynamicTimeout = 5 * time.Second
	defaultMaxOutputBytes = 10 * 1024
)

// Options tune the engine's timeouts and output bound. Zero values pick
// the defaults.
type Options struct {
	BuiltinTimeout time.Duration
	DynamicTimeout time.Duration
	MaxOutputBytes int
}

// Engine dispatches validated invocations to builtin handlers or the
// embedded interpreter.
type Engine struct {
	registry *registry.Registry
	security *security.Manager
	opts     Options
}

// New builds an engine over the given registry and security manager.
func New(reg *registry.Registry, sec *security.Manager, opts Options) *Engine {
	if opts.BuiltinTimeout <= 0 {
		opts.BuiltinTimeout = defaultBuiltinTimeout
	}
	if opts.DynamicTimeout <= 0 {
		opts.DynamicTimeout = defaultDynamicTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Engine{registry: reg, security: sec, opts: opts}
}

// Invoke runs one tool call end to end. The returned result is always
// usable as conversation data; inspect ErrorKind to branch on failures.
func (e *Engine) Invoke(ctx context.Context, req tool.InvocationRequest) tool.InvocationResult {
	ctx, span := tracing.StartSpan(ctx, "artificer.engine", "engine.invoke",
		attribute.String("tool", req.Name))
	defer span.End()
	ctx = tracing.WithToolName(ctx, req.Name)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	start := time.Now()

	def, err := e.registry.Resolve(ctx, req.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("Tool resolution failed")
		result := tool.Fail(tool.ErrUnknownTool, "no tool named %q is registered", req.Name)
		e.record(req.Name, start, result)
		return result
	}

	if verdict := e.security.VetInvocation(def, req.Arguments); !verdict.Allowed {
		logger.Warn().Str("reason", verdict.Reason).Msg("Invocation rejected")
		observability.RecordSecurityAudit(ctx, "invoke:"+req.Name, tracing.GetSessionID(ctx), "rejected",
			map[string]interface{}{"reason": verdict.Reason})
		result := tool.Fail(tool.ErrSecurityRejected, "%s", verdict.Reason)
		e.record(req.Name, start, result)
		return result
	}

	var result tool.InvocationResult
	switch def.Kind {
	case tool.KindBuiltin:
		result = e.runBuiltin(ctx, def, req.Arguments)
	case tool.KindDynamic:
		result = e.runDynamic(ctx, def, req.Arguments)
	default:
		result = tool.Fail(tool.ErrExecutionFault, "tool %q has unknown kind %q", req.Name, def.Kind)
	}

	result = e.truncate(result)
	e.record(req.Name, start, result)

	// Dynamic tools run model-authored code; every run leaves an audit
	// trail.
	if def.Kind == tool.KindDynamic {
		status := "success"
		if !result.Success {
			status = "failure"
		}
		observability.RecordInvocationAudit(ctx, req.Name, tracing.GetSessionID(ctx), status,
			map[string]interface{}{"error_kind": string(result.ErrorKind)})
	}

	logger.Debug().
		Bool("success", result.Success).
		Dur("duration", time.Since(start)).
		Msg("Invocation finished")
	return result
}

// runBuiltin executes a native handler under a timeout. The handler runs
// in its own goroutine so a hung handler cannot wedge the loop; panics are
// contained and reported as execution faults.
func (e *Engine) runBuiltin(ctx context.Context, def *tool.Definition, args map[string]interface{}) tool.InvocationResult {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.opts.BuiltinTimeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("panic in tool handler: %v", r)
			}
		}()
		output, err := def.Handler(timeoutCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- output
		}
	}()

	select {
	case output := <-resultChan:
		return tool.Succeed(output)
	case err := <-errChan:
		return tool.Fail(tool.ErrExecutionFault, "%v", err)
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return tool.Fail(tool.ErrTimeout, "invocation canceled: %v", ctx.Err())
		}
		return tool.Fail(tool.ErrTimeout, "tool %q exceeded %v", def.Schema.Name, e.opts.BuiltinTimeout)
	}
}

// truncate bounds the textual size of a successful output so one giant
// result cannot blow up the conversation history.
func (e *Engine) truncate(result tool.InvocationResult) tool.InvocationResult {
	if !result.Success || result.Output == nil {
		return result
	}

	text, ok := result.Output.(string)
	if !ok {
		encoded, err := json.Marshal(result.Output)
		if err != nil {
			return tool.Fail(tool.ErrExecutionFault, "tool output is not serializable: %v", err)
		}
		text = string(encoded)
		result.Output = text
	}

	if len(text) > e.opts.MaxOutputBytes {
		result.Output = text[:e.opts.MaxOutputBytes] + "\n... (output truncated)"
		result.Truncated = true
	}
	return result
}

func (e *Engine) record(name string, start time.Time, result tool.InvocationResult) {
	observability.RecordToolInvocation(name, time.Since(start), result.Success, string(result.ErrorKind))
}
