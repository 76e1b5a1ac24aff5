package engine

import (
	"github.com/netbuddy/taskforge/internal/agent"
	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/tools"
)

// noTestsExecuted reports whether the QA agent's run hit
// run_command's ErrorKindNoTestsExecuted classification (§4.3: "exit
// code 0 with 'collected 0 items' ... is reported as no_tests_executed,
// distinct from passed").
func noTestsExecuted(outcome agent.Outcome) bool {
	for _, inv := range outcome.ToolInvocations {
		if !inv.Success && inv.ErrorKind == model.ErrorKindNoTestsExecuted {
			return true
		}
	}
	return false
}

// testsPassed reports whether every command the QA agent ran during
// this invocation succeeded.
func testsPassed(outcome agent.Outcome) bool {
	for _, inv := range outcome.ToolInvocations {
		if inv.Tool == tools.ToolRunCommand && !inv.Success {
			return false
		}
	}
	return true
}
