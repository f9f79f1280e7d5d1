package agent

import (
	"fmt"
	"strings"

	"github.com/taskforge/taskforge/internal/core"
)

// BuildSpecPrompt renders the prompt used to turn a user's free-text
// request into a generated specification (spec mode: no worktree
// access is implied, this is a pure drafting call).
func BuildSpecPrompt(task *core.Task) string {
	var b strings.Builder
	b.WriteString("You are drafting an implementation specification for the following request.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	fmt.Fprintf(&b, "\nUser request:\n%s\n\n", task.UserInput)
	b.WriteString("Produce a clear, actionable specification: goals, constraints, and a step-by-step plan. ")
	b.WriteString("Do not write code yet.")
	return b.String()
}

// BuildPlanPrompt renders the prompt used during the planning phase:
// the agent inspects the worktree and the approved specification and
// proposes a step-by-step implementation plan without writing code.
func BuildPlanPrompt(task *core.Task) string {
	var b strings.Builder
	b.WriteString("You are planning the implementation of an approved specification in this repository checkout.\n\n")
	fmt.Fprintf(&b, "Specification:\n%s\n\n", task.FinalSpec)
	if task.BuildCommand != "" {
		fmt.Fprintf(&b, "The change will be verified with: %s\n\n", task.BuildCommand)
	}
	if len(task.ContextFiles) > 0 {
		fmt.Fprintf(&b, "Relevant files: %s\n\n", strings.Join(task.ContextFiles, ", "))
	}
	b.WriteString("Inspect the repository and produce a concise, step-by-step implementation plan. Do not write or modify any code yet.")
	return b.String()
}

// BuildExecutePrompt renders the prompt used to execute an approved
// specification against the task's worktree.
func BuildExecutePrompt(task *core.Task) string {
	var b strings.Builder
	b.WriteString("Implement the following approved specification in this repository checkout.\n\n")
	fmt.Fprintf(&b, "Specification:\n%s\n\n", task.FinalSpec)
	if task.ImplementationPlan != "" {
		fmt.Fprintf(&b, "Plan:\n%s\n\n", task.ImplementationPlan)
	}
	if task.BuildCommand != "" {
		fmt.Fprintf(&b, "Verify your change with: %s\n\n", task.BuildCommand)
	}
	if len(task.ContextFiles) > 0 {
		fmt.Fprintf(&b, "Relevant files: %s\n\n", strings.Join(task.ContextFiles, ", "))
	}
	b.WriteString("Make the minimal set of changes needed to satisfy the specification.")
	return b.String()
}

// BuildResumePrompt renders the resume-mode prompt: the prior chat
// history plus the new feedback message, per §4.2's "prepends the
// prior chat history plus the new message to the prompt."
func BuildResumePrompt(task *core.Task, history []core.ChatEvent, feedback string) string {
	var b strings.Builder
	b.WriteString("Continuing work on the same task. Prior conversation:\n\n")
	for _, ev := range history {
		if ev.Kind != "message" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", ev.Role, ev.Text)
	}
	fmt.Fprintf(&b, "\nNew feedback from the user:\n%s\n\n", feedback)
	b.WriteString("Incorporate this feedback and continue.")
	return b.String()
}
