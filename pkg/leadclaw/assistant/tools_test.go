package assistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestDispatchUnknownToolsOnly(t *testing.T) {
	t.Parallel()

	registry := NewToolRegistry(slog.Default())
	calls := []ToolCall{
		{ID: "call_1", Type: "function", Function: FunctionCall{Name: "unheard_of", Arguments: "{}"}},
	}

	outputs, err := registry.Dispatch(context.Background(), "u1", calls)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	// Unknown tools are dropped; the caller still submits the empty batch.
	if len(outputs) != 0 {
		t.Errorf("expected empty batch, got %+v", outputs)
	}
}

func TestDispatchPreservesCallOrder(t *testing.T) {
	t.Parallel()

	registry := NewToolRegistry(slog.Default())
	registry.Register("echo", func(_ context.Context, _ string, args json.RawMessage) (string, error) {
		return string(args), nil
	})

	calls := []ToolCall{
		{ID: "call_a", Function: FunctionCall{Name: "echo", Arguments: `"one"`}},
		{ID: "call_b", Function: FunctionCall{Name: "echo", Arguments: `"two"`}},
	}

	outputs, err := registry.Dispatch(context.Background(), "u1", calls)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(outputs) != 2 || outputs[0].ToolCallID != "call_a" || outputs[1].ToolCallID != "call_b" {
		t.Errorf("unexpected outputs %+v", outputs)
	}
	if outputs[0].Output != `"one"` || outputs[1].Output != `"two"` {
		t.Errorf("unexpected output payloads %+v", outputs)
	}
}

func TestRegistryHas(t *testing.T) {
	t.Parallel()

	registry := NewToolRegistry(slog.Default())
	if registry.Has("echo") {
		t.Error("empty registry should not report echo")
	}
	registry.Register("echo", func(context.Context, string, json.RawMessage) (string, error) {
		return "", nil
	})
	if !registry.Has("echo") {
		t.Error("expected echo after registration")
	}
}
