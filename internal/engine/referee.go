package engine

import (
	"fmt"
	"strings"

	"github.com/netbuddy/taskforge/internal/model"
)

// refereePrompt renders the contract-validation prompt for the Referee
// gate, grounded on original_source/backend/app/services/dag_executor.py's
// Referee.validate_contract call, which is handed the task's declared
// definition of done alongside the files actually touched.
func refereePrompt(task *model.Task, events []model.VerifiedFileEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", task.UserRequest)
	fmt.Fprintf(&b, "Definition of done: %s\n\n", task.DefinitionOfDone)
	b.WriteString("Files verifiably changed:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s (%s)\n", ev.Path, ev.Action)
	}
	return b.String()
}
