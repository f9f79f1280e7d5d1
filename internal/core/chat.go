package core

import "time"

// ChatRole distinguishes the speaker of a chat message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
)

// ChatEvent is one append-only entry in a task's chat history. It is
// either a message (role + text) or a tool-activity summary; exactly
// one of the two shapes is populated, distinguished by Kind.
type ChatEvent struct {
	Kind      string    `json:"kind"` // "message" | "tool_activity"
	Role      ChatRole  `json:"role,omitempty"`
	Text      string    `json:"text,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatMessage builds a message-kind ChatEvent.
func NewChatMessage(role ChatRole, text string) ChatEvent {
	return ChatEvent{Kind: "message", Role: role, Text: text, Timestamp: time.Now()}
}

// NewToolActivity builds a tool-activity-kind ChatEvent.
func NewToolActivity(toolName, summary string) ChatEvent {
	return ChatEvent{Kind: "tool_activity", ToolName: toolName, Summary: summary, Timestamp: time.Now()}
}

// LogLevel classifies a LogEntry.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelAgent LogLevel = "agent"
	LogLevelUser  LogLevel = "user"
)

// LogEntry is one append-only line in a task's log buffer.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// NewLogEntry builds a LogEntry stamped with the current time.
func NewLogEntry(level LogLevel, message string) LogEntry {
	return LogEntry{Timestamp: time.Now(), Level: level, Message: message}
}
