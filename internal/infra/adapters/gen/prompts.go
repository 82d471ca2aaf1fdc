package gen

import "fmt"

// stageInstruction produces the system instruction for a stage call.
// The prompt itself carries the project context; the instruction only
// pins the stage's role.
func stageInstruction(stageKey string) string {
	if stageKey == "" {
		return "You are a production writing assistant. Produce the requested document."
	}
	return fmt.Sprintf("You are a production writing assistant. Produce the %q document for the project described by the user.", stageKey)
}
