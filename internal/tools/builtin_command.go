package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/pkg/sandbox"
)

// Sandbox is the narrow interface builtin_command.go needs from
// pkg/sandbox.Client, so tests can substitute a fake without a real
// Docker daemon.
type Sandbox interface {
	Run(ctx context.Context, cmd []string, workingDir, repoPath string, limits sandbox.Limits) (sandbox.RunResult, error)
}

// runCommandTool executes a shell command inside the sandbox, per
// §4.3's QA role and original_source/libs/gravity_core/tools/
// runtime.py's run_shell_command (dangerous-command blocklist,
// resource-limited/network-isolated container, timeout).
type runCommandTool struct {
	sandbox    Sandbox
	workingDir string
}

func NewRunCommandTool(sb Sandbox, workingDir string) Tool {
	if workingDir == "" {
		workingDir = "/workspace"
	}
	return runCommandTool{sandbox: sb, workingDir: workingDir}
}

func (runCommandTool) Name() string     { return ToolRunCommand }
func (runCommandTool) Category() string { return "runtime" }
func (runCommandTool) Description() string {
	return "Execute a shell command in the resource-limited, network-isolated sandbox."
}
func (runCommandTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string"},
			"timeout_seconds": map[string]any{"type": "integer", "default": 60},
		},
		"required": []string{"command"},
	}
}

func (t runCommandTool) Execute(ctx context.Context, rc *RunContext, args map[string]any) model.ToolResult {
	command, _ := args["command"].(string)

	if pattern, unsafe := isDangerousCommand(command); unsafe {
		return model.Failure(model.ErrorKindUnsafeCommand, fmt.Sprintf("command blocked, matches pattern %q", pattern))
	}

	limits := sandbox.DefaultLimits()
	result, err := t.sandbox.Run(ctx, []string{"sh", "-c", command}, t.workingDir, rc.RepoRoot, limits)
	if err != nil {
		return model.Failure(model.ErrorKindTransient, fmt.Sprintf("sandbox execution failed: %v", err))
	}
	if result.TimedOut {
		return model.Failure(model.ErrorKindToolTimeout, "command exceeded sandbox timeout")
	}

	outcome := classifyCommandOutput(result)
	summary := fmt.Sprintf("exit=%d stdout=%q stderr=%q", result.ExitCode, truncate(result.Stdout, 2000), truncate(result.Stderr, 2000))
	switch outcome {
	case outcomeFailed:
		return model.Failure(model.ErrorKindNone, summary)
	case outcomeNoTestsExecuted:
		return model.Failure(model.ErrorKindNoTestsExecuted, summary)
	default:
		return model.Success(summary)
	}
}

type commandOutcome int

const (
	outcomePassed commandOutcome = iota
	outcomeFailed
	outcomeNoTestsExecuted
)

// classifyCommandOutput distinguishes "no tests were collected" from
// "tests ran and passed" from "tests ran and failed," per §4.3's QA
// policy: "exit code 0 with 'collected 0 items' (or equivalent) is
// reported as no_tests_executed, distinct from passed."
func classifyCommandOutput(result sandbox.RunResult) commandOutcome {
	if result.ExitCode != 0 {
		return outcomeFailed
	}
	combined := result.Stdout + result.Stderr
	for _, marker := range []string{"collected 0 items", "no tests ran", "no test files", "no tests found"} {
		if strings.Contains(combined, marker) {
			return outcomeNoTestsExecuted
		}
	}
	// "0 tests" counts only where no digit precedes it, so "Ran 10 tests"
	// is not read as zero tests.
	for rest := combined; ; {
		i := strings.Index(rest, "0 tests")
		if i < 0 {
			break
		}
		if i == 0 || rest[i-1] < '0' || rest[i-1] > '9' {
			return outcomeNoTestsExecuted
		}
		rest = rest[i+len("0 tests"):]
	}
	return outcomePassed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
