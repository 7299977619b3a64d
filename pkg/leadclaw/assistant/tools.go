// Package assistant – tools.go maps tool names requested by the agent
// mid-run to registered handler functions.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ToolHandlerFunc executes one tool call for a user and returns the
// serialized output submitted back to the run. A returned error aborts
// the whole exchange; side-effect failures a handler wants to tolerate
// must be swallowed inside the handler.
type ToolHandlerFunc func(ctx context.Context, userID string, args json.RawMessage) (string, error)

// ToolRegistry dispatches tool calls by name. Unknown tools are ignored:
// no output entry is produced for them, which keeps the registry forward
// compatible with tools added on the agent side first.
type ToolRegistry struct {
	handlers map[string]ToolHandlerFunc
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	return &ToolRegistry{
		handlers: make(map[string]ToolHandlerFunc),
		logger:   logger.With("component", "tools"),
	}
}

// Register adds a handler for a tool name, overwriting any existing one.
func (r *ToolRegistry) Register(name string, handler ToolHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[name] = handler
	r.logger.Debug("tool registered", "name", name)
}

// Has reports whether a handler is registered for the name.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Dispatch executes a batch of tool calls and collects their outputs.
// Calls without a registered handler are skipped. The first handler error
// aborts the batch and is returned to the caller.
func (r *ToolRegistry) Dispatch(ctx context.Context, userID string, calls []ToolCall) ([]ToolOutput, error) {
	outputs := make([]ToolOutput, 0, len(calls))

	for _, call := range calls {
		r.mu.RLock()
		handler, ok := r.handlers[call.Function.Name]
		r.mu.RUnlock()

		if !ok {
			r.logger.Warn("unknown tool requested, skipping",
				"tool", call.Function.Name,
				"call_id", call.ID,
			)
			continue
		}

		result, err := handler(ctx, userID, json.RawMessage(call.Function.Arguments))
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", call.Function.Name, err)
		}

		outputs = append(outputs, ToolOutput{
			ToolCallID: call.ID,
			Output:     result,
		})
	}

	return outputs, nil
}
