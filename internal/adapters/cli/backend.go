package cli

import (
	"context"
	"strings"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/logging"
)

// Backend adapts a BaseAdapter-driven CLI tool to core.AgentBackend. One
// instance is constructed per configured tool (claude/codex/gemini/copilot);
// argsFn builds the tool's argv from a request, and promptVia chooses
// whether the prompt is piped over stdin or passed as an argv tail.
type Backend struct {
	*BaseAdapter
	name      string
	argsFn    func(req core.AgentRequest, model string) []string
	viaStdin  bool
	resumeArg func(req core.AgentRequest) []string
}

// Name returns the backend's registered CLI name.
func (b *Backend) Name() string { return b.name }

// Kind reports this backend always runs as a subprocess CLI.
func (b *Backend) Kind() core.BackendKind { return core.BackendCLI }

// Available checks the CLI binary is on PATH and responds to --version.
func (b *Backend) Available(ctx context.Context) bool {
	return b.CheckAvailability(ctx) == nil
}

// Run spawns the CLI, streams its parsed output as uniform AgentEvents,
// drains req.Feedback into the child's stdin when the tool supports it,
// and returns the aggregated result.
func (b *Backend) Run(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
	b.SetEventHandler(func(ev core.AgentEvent) {
		if onEvent != nil {
			onEvent(ev)
		}
	})

	model := req.Model
	if model == "" {
		model = b.config.Model
	}
	args := b.argsFn(req, model)
	if req.Resume && b.resumeArg != nil {
		args = append(b.resumeArg(req), args...)
	}

	var stdin string
	if b.viaStdin {
		stdin = req.Prompt
	}

	feedbackDone := make(chan struct{})
	if req.Feedback != nil {
		go func() {
			defer close(feedbackDone)
			for {
				select {
				case msg, ok := <-req.Feedback:
					if !ok {
						return
					}
					b.WriteFeedback(msg)
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		close(feedbackDone)
	}

	result, err := b.ExecuteWithStreaming(ctx, b.name, args, stdin, req.WorktreePath, 0)
	<-feedbackDone
	if err != nil {
		return nil, err
	}

	return &core.AgentResult{
		Text:      extractFinalText(result.Stdout),
		ModelUsed: model,
	}, nil
}

var _ core.AgentBackend = (*Backend)(nil)

// extractFinalText pulls the last non-empty line out of a CLI's raw
// stdout as a fallback summary when the stream parser didn't surface a
// dedicated completion event payload.
func extractFinalText(stdout string) string {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line
		}
	}
	return ""
}

// NewClaudeBackend builds the Claude Code CLI backend (§4.2's "print
// mode" invocation: --print, --verbose --output-format stream-json,
// --dangerously-skip-permissions since the runner already isolates the
// agent inside a disposable worktree).
func NewClaudeBackend(cfg AgentConfig) *Backend {
	if cfg.Path == "" {
		cfg.Path = "claude"
	}
	base := NewBaseAdapter(cfg, logging.NewNop().With("backend", "claude"))
	return &Backend{
		BaseAdapter: base,
		name:        "claude",
		viaStdin:    true,
		argsFn: func(req core.AgentRequest, model string) []string {
			args := []string{"--print", "--dangerously-skip-permissions"}
			if model != "" {
				args = append(args, "--model", model)
			}
			return args
		},
		resumeArg: func(req core.AgentRequest) []string {
			return []string{"--continue"}
		},
	}
}

// NewCodexBackend builds the OpenAI Codex CLI backend (`codex exec
// --json`, prompt as the final positional argument per §9's note that
// some backends cannot accept long multi-line arguments over argv —
// Codex accepts a file path via "-" convention so the prompt is piped).
func NewCodexBackend(cfg AgentConfig) *Backend {
	if cfg.Path == "" {
		cfg.Path = "codex"
	}
	base := NewBaseAdapter(cfg, logging.NewNop().With("backend", "codex"))
	return &Backend{
		BaseAdapter: base,
		name:        "codex",
		viaStdin:    true,
		argsFn: func(req core.AgentRequest, model string) []string {
			args := []string{"exec", "--skip-git-repo-check"}
			if model != "" {
				args = append(args, "--model", model)
			}
			args = append(args, "-")
			return args
		},
		resumeArg: func(req core.AgentRequest) []string {
			return []string{"resume", "--last"}
		},
	}
}

// NewGeminiBackend builds the Gemini CLI backend.
func NewGeminiBackend(cfg AgentConfig) *Backend {
	if cfg.Path == "" {
		cfg.Path = "gemini"
	}
	base := NewBaseAdapter(cfg, logging.NewNop().With("backend", "gemini"))
	return &Backend{
		BaseAdapter: base,
		name:        "gemini",
		viaStdin:    true,
		argsFn: func(req core.AgentRequest, model string) []string {
			args := []string{}
			if model != "" {
				args = append(args, "--model", model)
			}
			return args
		},
	}
}

// NewCopilotBackend builds the GitHub Copilot CLI backend. Copilot
// writes progress to a log directory instead of stdout (StreamMethodLogFile,
// per streaming.go), so the prompt goes in as an argv tail instead of
// stdin.
func NewCopilotBackend(cfg AgentConfig) *Backend {
	if cfg.Path == "" {
		cfg.Path = "gh copilot"
	}
	base := NewBaseAdapter(cfg, logging.NewNop().With("backend", "copilot"))
	return &Backend{
		BaseAdapter: base,
		name:        "copilot",
		viaStdin:    false,
		argsFn: func(req core.AgentRequest, model string) []string {
			args := []string{"suggest", "-t", "shell", req.Prompt}
			return args
		},
	}
}

