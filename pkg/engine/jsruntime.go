package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	"github.com/artificer-ai/artificer/internal/tracing"
	"github.com/artificer-ai/artificer/pkg/tool"
)

// runDynamic executes a stored code payload in a fresh interpreter. Each
// invocation gets its own VM, so nothing leaks between calls; the only
// host-provided values are the validated arguments and a log-only console.
// The payload is wrapped in a function so `return` works at the top level.
func (e *Engine) runDynamic(ctx context.Context, def *tool.Definition, args map[string]interface{}) tool.InvocationResult {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := vm.Set("args", args); err != nil {
		return tool.Fail(tool.ErrExecutionFault, "failed to bind arguments: %v", err)
	}
	if err := vm.Set("console", map[string]interface{}{
		"log": func(call goja.FunctionCall) goja.Value {
			parts := make([]interface{}, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				parts = append(parts, a.Export())
			}
			logger.Debug().Str("tool", def.Schema.Name).Interface("console", parts).Msg("Tool log")
			return goja.Undefined()
		},
	}); err != nil {
		return tool.Fail(tool.ErrExecutionFault, "failed to bind console: %v", err)
	}

	// Wall-clock bound. Interrupt aborts the VM from outside even when the
	// code never yields.
	timer := time.AfterFunc(e.opts.DynamicTimeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer timer.Stop()

	done := ctx.Done()
	if done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				vm.Interrupt("invocation canceled")
			case <-stop:
			}
		}()
	}

	value, err := vm.RunString(fmt.Sprintf("(function() {\n%s\n})()", def.Code))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctx.Err() != nil {
				return tool.Fail(tool.ErrTimeout, "invocation canceled: %v", ctx.Err())
			}
			return tool.Fail(tool.ErrTimeout, "tool %q exceeded %v", def.Schema.Name, e.opts.DynamicTimeout)
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return tool.Fail(tool.ErrExecutionFault, "tool %q threw: %s", def.Schema.Name, exception.Value())
		}
		return tool.Fail(tool.ErrExecutionFault, "tool %q failed: %v", def.Schema.Name, err)
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return tool.Succeed("")
	}
	return tool.Succeed(value.Export())
}
