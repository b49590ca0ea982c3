// Package tool implements the built-in tools registered with the tool
// executor: code, research, text and task tools.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// ActionHandler is a function that handles a single action for a tool.
type ActionHandler[P, R any] func(ctx context.Context, p P) (R, error)

// ActionMap maps action names to their handlers for an action-based tool.
type ActionMap[P, R any] map[string]ActionHandler[P, R]

// Dispatch creates a handler that routes by action name.
// The getAction function extracts the action string from the params struct.
//
// Usage:
//
//	handler := Dispatch(func(p textParams) string { return p.Operation }, ActionMap[textParams, TextResult]{
//	    "grammar":   t.grammar,
//	    "sentiment": t.sentiment,
//	})
func Dispatch[P, R any](
	getAction func(P) string,
	actions ActionMap[P, R],
) func(ctx context.Context, p P) (R, error) {
	// Pre-compute sorted action names for deterministic BadAction messages.
	validActions := make([]string, 0, len(actions))
	for name := range actions {
		validActions = append(validActions, name)
	}
	sort.Strings(validActions)

	return func(ctx context.Context, p P) (R, error) {
		action := getAction(p)
		trace.SpanFromContext(ctx).SetAttributes(tracer.StringAttr("tool.action", action))

		handler, ok := actions[action]
		if !ok {
			var zero R
			return zero, BadAction(action, validActions...)
		}
		return handler(ctx, p)
	}
}

// BadAction reports an unsupported action name.
func BadAction(got string, valid ...string) error {
	return fmt.Errorf("%w: unknown action %q (want: %s)", domain.ErrInvalidInput, got, strings.Join(valid, ", "))
}

// traced wraps a tool handler in a "tool.<name>" span and logs failures.
func traced[P, R any](name string, logger *slog.Logger, fn func(context.Context, P) (R, error)) func(context.Context, P) (R, error) {
	spanName := "tool." + name
	return func(ctx context.Context, p P) (R, error) {
		ctx, span := tracer.StartSpan(ctx, spanName,
			trace.WithAttributes(tracer.StringAttr("tool.name", name)),
		)
		defer span.End()

		out, err := fn(ctx, p)
		if err != nil {
			tracer.RecordError(span, err)
			logger.Warn(spanName+" failed", "error", err)
			return out, err
		}
		tracer.SetOK(span)
		return out, nil
	}
}

// required rejects blank string parameters.
func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s must not be empty", domain.ErrInvalidInput, name)
	}
	return nil
}
