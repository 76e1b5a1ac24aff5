package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/netbuddy/taskforge/internal/model"
)

// Dispatcher is the Tool Registry's execution path: schema-validate,
// invoke, and wrap every invocation in the Reality Verifier before its
// effects are trusted, per §4.3 ("execute each through the Tool
// Registry, which wraps them in the Reality Verifier").
type Dispatcher struct {
	registry *Registry
	verifier *Verifier
	schemas  map[string]*jsonschema.Schema
}

func NewDispatcher(registry *Registry, verifier *Verifier) (*Dispatcher, error) {
	d := &Dispatcher{registry: registry, verifier: verifier, schemas: make(map[string]*jsonschema.Schema)}
	for name, t := range registry.tools {
		compiled, err := compileSchema(name, t.Schema())
		if err != nil {
			return nil, fmt.Errorf("compile schema for tool %q: %w", name, err)
		}
		d.schemas[name] = compiled
	}
	return d, nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	resourceName := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}

// Outcome is the fully-verified result of one tool invocation: the raw
// ToolInvocation for the transcript, plus any VerifiedFileEvents ready
// to publish and persist.
type Outcome struct {
	Invocation     model.ToolInvocation
	VerifiedEvents []model.VerifiedFileEvent
}

// Execute validates args against the tool's schema, runs it, and — for
// any declared side effects — verifies them before returning success.
// A verification failure overwrites the tool's own result with
// reality_mismatch, per §4.4.
func (d *Dispatcher) Execute(ctx context.Context, rc *RunContext, inv Invocation) Outcome {
	start := time.Now()
	toolInv := model.ToolInvocation{
		ID:   newEventID(),
		Tool: inv.Tool,
		Args: inv.Args,
	}

	t, ok := d.registry.Get(inv.Tool)
	if !ok {
		toolInv.Success = false
		toolInv.Error = fmt.Sprintf("unknown tool %q", inv.Tool)
		toolInv.ErrorKind = model.ErrorKindNotFound
		return Outcome{Invocation: toolInv}
	}

	// Defense-in-depth: the client is only ever handed descriptors for
	// its role's allowed tools (Registry.ForRole), but a hallucinated
	// call naming a tool outside that set must still be rejected here
	// rather than executed, per §4.3's "docs never file-create."
	if rc.Role != "" && !roleAllowed(string(rc.Role), inv.Tool) {
		toolInv.Success = false
		toolInv.Error = fmt.Sprintf("role %q is not permitted to call %q", rc.Role, inv.Tool)
		toolInv.ErrorKind = model.ErrorKindContractViolated
		return Outcome{Invocation: toolInv}
	}

	if schema, ok := d.schemas[inv.Tool]; ok {
		if err := schema.Validate(toGenericArgs(inv.Args)); err != nil {
			toolInv.Success = false
			toolInv.Error = fmt.Sprintf("argument validation failed: %v", err)
			toolInv.ErrorKind = model.ErrorKindAgentInvalid
			toolInv.Duration = time.Since(start)
			return Outcome{Invocation: toolInv}
		}
	}

	result := t.Execute(ctx, rc, inv.Args)
	toolInv.Duration = time.Since(start)

	if !result.IsOK() {
		toolInv.Success = false
		toolInv.Error = result.Err.Detail
		toolInv.ErrorKind = result.Err.Kind
		return Outcome{Invocation: toolInv}
	}

	toolInv.Result = result.OK.Result

	if len(result.SideEffects) == 0 {
		toolInv.Success = true
		return Outcome{Invocation: toolInv}
	}

	events, err := d.verifier.Verify(rc.TaskID, rc.Step, result.SideEffects)
	if err != nil {
		toolInv.Success = false
		toolInv.Error = err.Error()
		toolInv.ErrorKind = model.KindOf(err)
		return Outcome{Invocation: toolInv}
	}

	toolInv.Success = true
	return Outcome{Invocation: toolInv, VerifiedEvents: events}
}

// toGenericArgs round-trips args through JSON so numeric types match
// what jsonschema expects from a decoded JSON document (float64, not
// Go's native int), since args may originate from either a JSON
// tool-call payload or literal Go values in tests.
func toGenericArgs(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return args
	}
	return generic
}
