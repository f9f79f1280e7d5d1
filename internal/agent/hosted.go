package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"

	"github.com/taskforge/taskforge/internal/core"
)

// defaultMaxTokens bounds a single hosted-API completion request.
const defaultMaxTokens = 8192

// AnthropicBackend is the hosted-API backend for Anthropic's
// chat-completions endpoint — a single request/response call, no tool
// loop, per §4.2: "Uniform events: completion(text, model_used,
// tokens_used) on success; mapped error on non-2xx."
type AnthropicBackend struct {
	client       anthropic.Client
	defaultModel string
	hasKey       bool
}

// NewAnthropicBackend builds the backend; apiKey may be empty, in which
// case Available reports false and Run fails with no-backend-available.
func NewAnthropicBackend(apiKey, defaultModel string) *AnthropicBackend {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicBackend{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
		hasKey:       apiKey != "",
	}
}

func (b *AnthropicBackend) Name() string            { return "anthropic" }
func (b *AnthropicBackend) Kind() core.BackendKind   { return core.BackendHosted }
func (b *AnthropicBackend) Available(_ context.Context) bool { return b.hasKey }

// Run issues one Messages.New call and reports the response as a single
// completion event, prepending req.PriorHistory as prior turns so a
// resume-mode call includes the conversation so far.
func (b *AnthropicBackend) Run(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
	if !b.hasKey {
		return nil, core.ErrNoBackendAvailable("no Anthropic API key configured")
	}

	model := req.Model
	if model == "" {
		model = b.defaultModel
	}

	messages := make([]anthropic.MessageParam, 0, len(req.PriorHistory)+1)
	for _, h := range req.PriorHistory {
		if h.Role == core.ChatRoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(h.Text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(h.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	if onEvent != nil {
		onEvent(core.NewAgentEvent(core.AgentEventStarted, b.Name(), "Calling Anthropic API"))
	}

	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages:  messages,
	})
	if err != nil {
		if onEvent != nil {
			onEvent(core.NewAgentEvent(core.AgentEventError, b.Name(), err.Error()))
		}
		return nil, core.ErrBackendFailure(fmt.Sprintf("anthropic: %v", err), err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	if onEvent != nil {
		onEvent(core.NewAgentEvent(core.AgentEventCompleted, b.Name(), "Completed").WithData(map[string]any{
			"tokens_in":  resp.Usage.InputTokens,
			"tokens_out": resp.Usage.OutputTokens,
		}))
	}

	return &core.AgentResult{
		Text:      text,
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
		ModelUsed: model,
	}, nil
}

var _ core.AgentBackend = (*AnthropicBackend)(nil)

// OpenAIBackend is the hosted-API backend for OpenAI/OpenRouter-shaped
// chat-completions endpoints — OpenRouter speaks the same wire format,
// so pointing baseURL at it is enough to reuse this client.
type OpenAIBackend struct {
	client       openai.Client
	defaultModel string
	hasKey       bool
}

// NewOpenAIBackend builds the backend. baseURL overrides the default
// OpenAI endpoint (set it to OpenRouter's URL to use that provider).
func NewOpenAIBackend(apiKey, baseURL, defaultModel string) *OpenAIBackend {
	var opts []openaioption.RequestOption
	if apiKey != "" {
		opts = append(opts, openaioption.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &OpenAIBackend{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
		hasKey:       apiKey != "",
	}
}

func (b *OpenAIBackend) Name() string            { return "openai" }
func (b *OpenAIBackend) Kind() core.BackendKind  { return core.BackendHosted }
func (b *OpenAIBackend) Available(_ context.Context) bool { return b.hasKey }

func (b *OpenAIBackend) Run(ctx context.Context, req core.AgentRequest, onEvent func(core.AgentEvent)) (*core.AgentResult, error) {
	if !b.hasKey {
		return nil, core.ErrNoBackendAvailable("no OpenAI-compatible API key configured")
	}

	model := req.Model
	if model == "" {
		model = b.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.PriorHistory)+1)
	for _, h := range req.PriorHistory {
		if h.Role == core.ChatRoleAssistant {
			messages = append(messages, openai.AssistantMessage(h.Text))
		} else {
			messages = append(messages, openai.UserMessage(h.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	if onEvent != nil {
		onEvent(core.NewAgentEvent(core.AgentEventStarted, b.Name(), "Calling chat-completions API"))
	}

	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	})
	if err != nil {
		if onEvent != nil {
			onEvent(core.NewAgentEvent(core.AgentEventError, b.Name(), err.Error()))
		}
		return nil, core.ErrBackendFailure(fmt.Sprintf("openai: %v", err), err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	if onEvent != nil {
		onEvent(core.NewAgentEvent(core.AgentEventCompleted, b.Name(), "Completed").WithData(map[string]any{
			"tokens_in":  resp.Usage.PromptTokens,
			"tokens_out": resp.Usage.CompletionTokens,
		}))
	}

	return &core.AgentResult{
		Text:      text,
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
		ModelUsed: model,
	}, nil
}

var _ core.AgentBackend = (*OpenAIBackend)(nil)
