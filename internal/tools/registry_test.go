package tools

import (
	"context"
	"testing"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/tools/builtin"
)

func TestRegistryContainsBuiltins(t *testing.T) {
	r := NewRegistry(builtin.ToolConfig{})
	for _, name := range []string{"bash", "file_read", "file_write", "file_edit", "glob", "grep", "web_fetch"} {
		if _, err := r.Get(name); err != nil {
			t.Errorf("builtin %q missing: %v", name, err)
		}
	}
	if len(r.List()) != 7 {
		t.Fatalf("List() returned %d definitions, want 7", len(r.List()))
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry(builtin.ToolConfig{})
	_, err := r.Get("launch_missiles")
	if oerr.KindOf(err) != oerr.KindUnknownTool {
		t.Fatalf("unknown tool error = %v", err)
	}
}

func TestRegistryCannotUnregisterBuiltin(t *testing.T) {
	r := NewRegistry(builtin.ToolConfig{})
	if err := r.Unregister("bash"); err == nil {
		t.Fatal("expected error unregistering builtin")
	}
}

func TestMaskHidesTool(t *testing.T) {
	r := NewRegistry(builtin.ToolConfig{})
	masked := Mask(r, "web_fetch")

	if _, err := masked.Get("web_fetch"); oerr.KindOf(err) != oerr.KindUnknownTool {
		t.Fatalf("masked tool resolvable: %v", err)
	}
	for _, def := range masked.List() {
		if def.Name == "web_fetch" {
			t.Fatal("masked tool advertised")
		}
	}
	if _, err := masked.Get("bash"); err != nil {
		t.Fatalf("unmasked tool broken: %v", err)
	}
}

type stubTool struct{ name string }

func (s *stubTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	return &ports.ToolResult{CallID: call.ID, Content: "stub"}, nil
}
func (s *stubTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: s.name}
}
func (s *stubTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: s.name}
}

func TestRegistryDynamicRegistration(t *testing.T) {
	r := NewEmptyRegistry()
	if err := r.Register(&stubTool{name: "custom"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("custom"); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister("custom"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("custom"); err == nil {
		t.Fatal("unregistered tool still resolvable")
	}
}
