package types

import "time"

// ChatRole identifies who produced a chat message.
type ChatRole string

const (
	RoleUser     ChatRole = "user"
	RoleAgent    ChatRole = "agent"
	RoleThinking ChatRole = "thinking"
	RoleError    ChatRole = "error"
)

// ChatMessage is one entry in the agent conversation. Done is false while
// the message is still being streamed in chunks.
type ChatMessage struct {
	Role ChatRole
	Text string
	Done bool
	At   time.Time
}

// ExecResult holds the output of a remote shell command.
type ExecResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

// ChatOptions are the knobs forwarded with every chat message.
type ChatOptions struct {
	Mode     string // "ask", "edit", or "agent"
	Provider string
	APIKey   string
}
