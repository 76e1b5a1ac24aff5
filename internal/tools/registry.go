package tools

import "fmt"

// Builder assembles a fixed tool set. Registration panics on duplicate
// names since that is a programming error caught at process start, not
// a runtime condition callers must handle.
type Builder struct {
	tools map[string]Tool
}

func NewBuilder() *Builder {
	return &Builder{tools: make(map[string]Tool)}
}

func (b *Builder) Register(t Tool) *Builder {
	if _, exists := b.tools[t.Name()]; exists {
		panic(fmt.Sprintf("tools: duplicate registration for %q", t.Name()))
	}
	b.tools[t.Name()] = t
	return b
}

// Build freezes the tool set into an immutable Registry.
func (b *Builder) Build() *Registry {
	frozen := make(map[string]Tool, len(b.tools))
	for name, t := range b.tools {
		frozen[name] = t
	}
	return &Registry{tools: frozen}
}

// Registry is the immutable, frozen tool set the Agent Runtime dispatches
// against.
type Registry struct {
	tools map[string]Tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ForRole returns the subset of tools a given role may invoke, per
// §4.3's per-role policy (docs may edit but never create; the planner
// has no filesystem tools at all).
func (r *Registry) ForRole(role string) []Tool {
	var out []Tool
	for _, t := range r.tools {
		if roleAllowed(role, t.Name()) {
			out = append(out, t)
		}
	}
	return out
}

// roleAllowed enforces §4.3's per-role tool policy: the planner has no
// filesystem tools (it returns a Plan directly), and docs may edit
// existing files but never create or run commands.
func roleAllowed(role, toolName string) bool {
	switch role {
	case "planner":
		return false
	case "docs":
		switch toolName {
		case ToolReadFile, ToolEditFile:
			return true
		default:
			return false
		}
	default:
		return true
	}
}

// Descriptor is one tool's name/description/schema, for building the
// generative-client's tool-call request.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Descriptors returns the descriptor of each tool named in names, in
// that order; names with no registered tool are skipped.
func (r *Registry) Descriptors(names []string) []Descriptor {
	var out []Descriptor
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, Descriptor{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
		}
	}
	return out
}
