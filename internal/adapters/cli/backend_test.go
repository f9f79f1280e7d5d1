package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/testutil"
)

// fakeClaudeScript writes an executable shell script that mimics Claude
// Code's stream-json output on stdout, ending in a successful result event.
func fakeClaudeScript(t *testing.T) string {
	t.Helper()
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "fake-claude.sh")
	script := `#!/bin/sh
echo '{"type":"system","subtype":"init","tools":["bash"]}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}'
echo '{"type":"result","subtype":"success","result":"all done"}'
`
	testutil.AssertNoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestBackend_RunStreamsClaudeJSONAndExtractsResult(t *testing.T) {
	scriptPath := fakeClaudeScript(t)
	backend := NewClaudeBackend(AgentConfig{Path: scriptPath})

	var events []core.AgentEvent
	result, err := backend.Run(context.Background(), core.AgentRequest{Prompt: "do it"}, func(ev core.AgentEvent) {
		events = append(events, ev)
	})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, result.Text, "all done")

	var sawCompleted bool
	for _, ev := range events {
		if ev.Type == core.AgentEventCompleted {
			sawCompleted = true
		}
	}
	testutil.AssertTrue(t, sawCompleted, "expected a completed event from the parsed stream")
}

func TestBackend_NameAndKind(t *testing.T) {
	backend := NewCodexBackend(AgentConfig{Path: "codex"})
	testutil.AssertEqual(t, backend.Name(), "codex")
	testutil.AssertEqual(t, backend.Kind(), core.BackendCLI)
}

func TestBackend_AvailableReflectsBinaryPresence(t *testing.T) {
	present := NewGeminiBackend(AgentConfig{Path: "sh"})
	testutil.AssertTrue(t, present.Available(context.Background()), "sh should be on PATH")

	absent := NewGeminiBackend(AgentConfig{Path: "definitely-not-a-real-binary-xyz"})
	testutil.AssertFalse(t, absent.Available(context.Background()), "a fake binary should be unavailable")
}

func TestExtractFinalText_ReturnsLastNonEmptyLine(t *testing.T) {
	testutil.AssertEqual(t, extractFinalText("first\n\nlast line\n"), "last line")
	testutil.AssertEqual(t, extractFinalText(""), "")
}

func TestNewCopilotBackend_PutsPromptInArgv(t *testing.T) {
	backend := NewCopilotBackend(AgentConfig{Path: "gh"})
	args := backend.argsFn(core.AgentRequest{Prompt: "fix the bug"}, "")
	testutil.AssertEqual(t, args[len(args)-1], "fix the bug")
}

func TestNewClaudeBackend_ResumeArgPrependsContinue(t *testing.T) {
	backend := NewClaudeBackend(AgentConfig{Path: "claude"})
	args := backend.resumeArg(core.AgentRequest{})
	testutil.AssertLen(t, args, 1)
	testutil.AssertEqual(t, args[0], "--continue")
}
