package tools

import (
	"sync"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/tools/builtin"
)

// Registry implements ports.ToolRegistry with a static tier for builtins and
// a dynamic tier for tools registered at runtime.
type Registry struct {
	static  map[string]ports.ToolExecutor
	dynamic map[string]ports.ToolExecutor
	mu      sync.RWMutex
}

// NewRegistry creates a registry pre-populated with the sandboxed builtins.
func NewRegistry(cfg builtin.ToolConfig) *Registry {
	r := &Registry{
		static:  make(map[string]ports.ToolExecutor),
		dynamic: make(map[string]ports.ToolExecutor),
	}
	r.registerBuiltins(cfg)
	return r
}

// NewEmptyRegistry creates a registry without builtins, for tests.
func NewEmptyRegistry() *Registry {
	return &Registry{
		static:  make(map[string]ports.ToolExecutor),
		dynamic: make(map[string]ports.ToolExecutor),
	}
}

func (r *Registry) Register(tool ports.ToolExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Metadata().Name
	if _, exists := r.static[name]; exists {
		return oerr.New(oerr.KindInvalidInput, "tool already exists: %s", name)
	}
	r.dynamic[name] = tool
	return nil
}

func (r *Registry) Get(name string) (ports.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.static[name]; ok {
		return tool, nil
	}
	if tool, ok := r.dynamic[name]; ok {
		return tool, nil
	}
	return nil, oerr.New(oerr.KindUnknownTool, "tool not found: %s", name)
}

func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []ports.ToolDefinition
	for _, tool := range r.static {
		defs = append(defs, tool.Definition())
	}
	for _, tool := range r.dynamic {
		defs = append(defs, tool.Definition())
	}
	return defs
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.static[name]; ok {
		return oerr.New(oerr.KindInvalidInput, "cannot unregister built-in tool: %s", name)
	}
	delete(r.dynamic, name)
	return nil
}

func (r *Registry) registerBuiltins(cfg builtin.ToolConfig) {
	// File operations
	r.static["file_read"] = builtin.NewFileRead(cfg)
	r.static["file_write"] = builtin.NewFileWrite(cfg)
	r.static["file_edit"] = builtin.NewFileEdit(cfg)

	// Shell & search
	r.static["bash"] = builtin.NewBash(cfg)
	r.static["glob"] = builtin.NewGlob(cfg)
	r.static["grep"] = builtin.NewGrep(cfg)

	// Web
	r.static["web_fetch"] = builtin.NewWebFetch(cfg)
}

// RegistryWithoutTool wraps a registry, hiding one tool from List while Get
// still resolves it. Used when a command disables a tool by policy.
type maskedRegistry struct {
	inner  ports.ToolRegistry
	hidden map[string]bool
}

// Mask returns a view of reg without the named tools.
func Mask(reg ports.ToolRegistry, names ...string) ports.ToolRegistry {
	hidden := make(map[string]bool, len(names))
	for _, n := range names {
		hidden[n] = true
	}
	return &maskedRegistry{inner: reg, hidden: hidden}
}

func (m *maskedRegistry) Register(tool ports.ToolExecutor) error {
	return m.inner.Register(tool)
}

func (m *maskedRegistry) Get(name string) (ports.ToolExecutor, error) {
	if m.hidden[name] {
		return nil, oerr.New(oerr.KindUnknownTool, "tool not found: %s", name)
	}
	return m.inner.Get(name)
}

func (m *maskedRegistry) List() []ports.ToolDefinition {
	var defs []ports.ToolDefinition
	for _, def := range m.inner.List() {
		if !m.hidden[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs
}

func (m *maskedRegistry) Unregister(name string) error {
	return m.inner.Unregister(name)
}
