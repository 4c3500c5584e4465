package pipeline

import (
	"encoding/json"
	"testing"
)

func TestRenderInput_WholeValueKeepsType(t *testing.T) {
	env := []byte(`{"params":{"count":3},"steps":{},"now":"2026-01-01T00:00:00Z","today":"2026-01-01"}`)
	rendered, err := renderInput(json.RawMessage(`{"n":"${params.count}"}`), env)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		t.Fatalf("unmarshal rendered: %v", err)
	}
	if n, ok := out["n"].(float64); !ok || n != 3 {
		t.Fatalf("expected numeric 3, got %#v", out["n"])
	}
}

func TestRenderInput_EmbeddedInterpolatesAsString(t *testing.T) {
	env := []byte(`{"params":{"name":"ana"},"steps":{},"now":"2026-01-01T00:00:00Z","today":"2026-01-01"}`)
	rendered, err := renderInput(json.RawMessage(`{"greeting":"hello ${params.name}!"}`), env)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		t.Fatalf("unmarshal rendered: %v", err)
	}
	if out["greeting"] != "hello ana!" {
		t.Fatalf("expected interpolated greeting, got %#v", out["greeting"])
	}
}

func TestRenderInput_BracketIndex(t *testing.T) {
	env := []byte(`{"params":{"items":[{"name":"first"},{"name":"second"}]},"steps":{},"now":"","today":""}`)
	rendered, err := renderInput(json.RawMessage(`{"first":"${params.items[0].name}"}`), env)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		t.Fatalf("unmarshal rendered: %v", err)
	}
	if out["first"] != "first" {
		t.Fatalf("expected %q, got %#v", "first", out["first"])
	}
}

func TestRenderInput_StepOutputReference(t *testing.T) {
	env := []byte(`{"params":{},"steps":{"fetch":{"output":{"id":42}}},"now":"","today":""}`)
	rendered, err := renderInput(json.RawMessage(`{"id":"${steps.fetch.output.id}"}`), env)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		t.Fatalf("unmarshal rendered: %v", err)
	}
	if id, ok := out["id"].(float64); !ok || id != 42 {
		t.Fatalf("expected 42, got %#v", out["id"])
	}
}

func TestRenderInput_UnresolvedVariableErrors(t *testing.T) {
	env := []byte(`{"params":{},"steps":{},"now":"","today":""}`)
	_, err := renderInput(json.RawMessage(`{"x":"${params.missing}"}`), env)
	if err == nil {
		t.Fatal("expected an error for an unresolved variable")
	}
}
