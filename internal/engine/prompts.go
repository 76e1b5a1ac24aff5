package engine

import (
	"fmt"
	"strings"

	"github.com/netbuddy/taskforge/internal/model"
)

// systemPromptFor returns the per-role persona instructions the Agent
// Runtime hands to the generative client, grounded on
// original_source/libs/gravity_core's per-role persona strings (planner,
// coder, qa, docs), condensed to the role's actual contract instead of
// the source's longer prose.
func systemPromptFor(role model.AgentRole) string {
	switch role {
	case model.RolePlanner:
		return "You are the planning agent. Decompose the request into an " +
			"ordered list of steps, each assigned to exactly one role " +
			"(coder, qa, docs). Every dependency you list must refer to an " +
			"earlier step. Only assign new-file creation to a coder step."
	case model.RoleCoder:
		return "You are the coding agent. Make the smallest correct change " +
			"that satisfies the step description. Read a file before " +
			"editing it. You must verifiably write every file the step " +
			"assigns you before declaring the step finished."
	case model.RoleQA:
		return "You are the QA agent. Run the project's test suite and " +
			"report the outcome faithfully, including when no tests ran at " +
			"all. Do not modify source files."
	case model.RoleDocs:
		return "You are the documentation agent. Update existing " +
			"documentation to reflect the change. You may only edit files " +
			"that already exist."
	default:
		return "You are an autonomous engineering agent."
	}
}

func plannerUserPrompt(task *model.Task) string {
	return fmt.Sprintf("Request: %s\n\nProduce a plan.", task.UserRequest)
}

func stepUserPrompt(task *model.Task, step model.PlanStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall request: %s\n", task.UserRequest)
	fmt.Fprintf(&b, "Step %d: %s\n", step.Order, step.Description)
	if len(step.Files) > 0 {
		fmt.Fprintf(&b, "Files this step must touch: %s\n", strings.Join(step.Files, ", "))
	}
	return b.String()
}

func fixUserPrompt(task *model.Task, failure string) string {
	return fmt.Sprintf("The change for request %q failed testing. Fix the "+
		"cause of this failure:\n\n%s", task.UserRequest, failure)
}

func writeTestsUserPrompt(task *model.Task) string {
	return fmt.Sprintf("No tests were collected for request %q. Write "+
		"tests that exercise the change.", task.UserRequest)
}

func testingUserPrompt(task *model.Task) string {
	return fmt.Sprintf("Run the test suite for the change made to satisfy: %s", task.UserRequest)
}

func documentingUserPrompt(task *model.Task) string {
	return fmt.Sprintf("Update documentation to reflect the change made to satisfy: %s", task.UserRequest)
}
