package tools

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrToolNameClash = errors.New("tool wire name already taken")
)

// ToolRegistry is what runners need to find a tool's implementation.
type ToolRegistry interface {
	GetTool(name string) (*ToolDefinition, error)
	ListTools() []ToolDefinition
}

// InMemoryToolRegistry holds tools by their registered name ("memory.recall")
// and indexes them by wire name ("memory_recall"), since models answer with
// the latter. Two tools may not share a wire name.
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
	wire  map[string]string
}

var _ ToolRegistry = (*InMemoryToolRegistry)(nil)

func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools: map[string]ToolDefinition{},
		wire:  map[string]string{},
	}
}

// RegisterTool adds or replaces the tool called name.
func (r *InMemoryToolRegistry) RegisterTool(name string, def ToolDefinition) error {
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Name != "" && def.Name != name {
		return errors.Errorf("tool definition name %q does not match %q", def.Name, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wire := WireName(name)
	if owner, ok := r.wire[wire]; ok && owner != name {
		return errors.Wrapf(ErrToolNameClash, "%s and %s both become %s", owner, name, wire)
	}
	def.Name = name
	r.tools[name] = def
	r.wire[wire] = name
	return nil
}

// GetTool returns a copy of the tool registered as name.
func (r *InMemoryToolRegistry) GetTool(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	if !ok {
		return nil, errors.Wrap(ErrToolNotFound, name)
	}
	return &def, nil
}

// ListTools returns all tools ordered by name.
func (r *InMemoryToolRegistry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		ret = append(ret, def)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

// Resolve maps a registered name or a wire name to the registered name.
func (r *InMemoryToolRegistry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tools[name]; ok {
		return name, true
	}
	registered, ok := r.wire[name]
	return registered, ok
}
