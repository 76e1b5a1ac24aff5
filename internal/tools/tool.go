// Package tools is the Tool Registry (§4.3, §6.3) and Reality Verifier
// (§4.4): a fixed, explicitly-built set of named capabilities each agent
// role may invoke, every one of them wrapped so a reported filesystem
// effect is checked against disk before it is ever trusted.
//
// Grounded on original_source/libs/gravity_core/tools/{registry,
// manipulation,runtime,policies}.py, redesigned per the governing
// specification's note that a decorator over a module-level dict is
// replaced here by an explicit builder frozen after Build().
package tools

import (
	"context"

	"github.com/netbuddy/taskforge/internal/model"
)

// Invocation is one call an agent makes to a tool, before the Verifier
// has had a chance to check its reported effects.
type Invocation struct {
	Tool string
	Args map[string]any
}

// Tool is one named capability. Execute must not be called with args
// that failed schema validation; the Registry validates before
// dispatching.
type Tool interface {
	Name() string
	Description() string
	Category() string
	// Schema is the JSON Schema (as a Go value, marshaled once at
	// registration) describing Args.
	Schema() map[string]any
	Execute(ctx context.Context, rc *RunContext, args map[string]any) model.ToolResult
}

// RunContext carries the per-invocation state a tool needs: the
// repository root every path is resolved against, the read-before-write
// policy for the current step, and the role invoking the tool (docs may
// not create, per §4.3).
type RunContext struct {
	RepoRoot string
	Policy   *FileAccessPolicy
	Role     model.AgentRole
	TaskID   string
	Step     int
}
