package agent_test

import (
	"testing"

	"github.com/taskforge/taskforge/internal/agent"
	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/testutil"
)

func TestBuildSpecPrompt_IncludesTitleAndUserInput(t *testing.T) {
	task := &core.Task{Title: "Add widgets", UserInput: "please add a widgets page"}
	prompt := agent.BuildSpecPrompt(task)
	testutil.AssertContains(t, prompt, "Add widgets")
	testutil.AssertContains(t, prompt, "please add a widgets page")
	testutil.AssertContains(t, prompt, "Do not write code yet")
}

func TestBuildPlanPrompt_IncludesSpecAndContextFiles(t *testing.T) {
	task := &core.Task{
		FinalSpec:    "Build a widgets page.",
		BuildCommand: "go build ./...",
		ContextFiles: []string{"main.go", "widgets.go"},
	}
	prompt := agent.BuildPlanPrompt(task)
	testutil.AssertContains(t, prompt, "Build a widgets page.")
	testutil.AssertContains(t, prompt, "go build ./...")
	testutil.AssertContains(t, prompt, "main.go, widgets.go")
	testutil.AssertContains(t, prompt, "Do not write or modify any code yet")
}

func TestBuildExecutePrompt_IncludesPlanWhenPresent(t *testing.T) {
	task := &core.Task{
		FinalSpec:          "Build a widgets page.",
		ImplementationPlan: "1. Add route. 2. Add handler.",
	}
	prompt := agent.BuildExecutePrompt(task)
	testutil.AssertContains(t, prompt, "Build a widgets page.")
	testutil.AssertContains(t, prompt, "1. Add route. 2. Add handler.")
	testutil.AssertContains(t, prompt, "minimal set of changes")
}

func TestBuildExecutePrompt_OmitsPlanSectionWhenAbsent(t *testing.T) {
	task := &core.Task{FinalSpec: "Build a widgets page."}
	prompt := agent.BuildExecutePrompt(task)
	testutil.AssertNotContains(t, prompt, "Plan:")
}

func TestBuildResumePrompt_IncludesPriorMessagesAndFeedback(t *testing.T) {
	task := &core.Task{}
	history := []core.ChatEvent{
		core.NewChatMessage(core.ChatRoleUser, "add a button"),
		core.NewChatMessage(core.ChatRoleAssistant, "added the button"),
		core.NewToolActivity("bash", "ran tests"),
	}
	prompt := agent.BuildResumePrompt(task, history, "make it blue")
	testutil.AssertContains(t, prompt, "add a button")
	testutil.AssertContains(t, prompt, "added the button")
	testutil.AssertContains(t, prompt, "make it blue")
	testutil.AssertNotContains(t, prompt, "ran tests")
}
