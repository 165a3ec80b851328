package message

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role tags who authored a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool" // tool observation
)

// Message is one entry of a conversation history. Tool observations carry
// the ID of the call they answer in ToolID.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolID    string         `json:"tool_id,omitempty"`
	Name      string         `json:"name,omitempty"` // tool name on observations
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RawArgumentsKey holds the undecoded argument text of a tool call whose
// arguments were not a JSON object. Tools reject such calls.
const RawArgumentsKey = "_raw_arguments"

// ToolCall is a model request to run a registered tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// NewToolCallMessage is an assistant turn that requests tool calls.
func NewToolCallMessage(content string, toolCalls []ToolCall) *Message {
	msg := NewMessage(RoleAssistant, content)
	msg.ToolCalls = toolCalls
	return msg
}

// NewToolResponseMessage records the observation for call toolID.
func NewToolResponseMessage(toolID, name, content string) *Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolID = toolID
	msg.Name = name
	return msg
}

// Clone copies msg deeply enough that mutating the copy's metadata, tool
// calls or call arguments leaves msg untouched.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	c := *msg
	c.Metadata = maps.Clone(msg.Metadata)
	if msg.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		for i, call := range msg.ToolCalls {
			call.Args = maps.Clone(call.Args)
			c.ToolCalls[i] = call
		}
	}
	return &c
}

// CloneMessages clones every message; an empty history yields nil.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = Clone(m)
	}
	return out
}

// LastAssistant returns the most recent assistant message with text content.
func LastAssistant(msgs []*Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg != nil && msg.Role == RoleAssistant && strings.TrimSpace(msg.Content) != "" {
			return msg
		}
	}
	return nil
}

// FirstUser returns the first user message, which is the original request.
func FirstUser(msgs []*Message) *Message {
	for _, msg := range msgs {
		if msg != nil && msg.Role == RoleUser {
			return msg
		}
	}
	return nil
}

// Transcript renders messages as "role: content" lines for prompts.
func Transcript(msgs []*Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" && len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			content = "[calls " + strings.Join(names, ", ") + "]"
		}
		if content == "" {
			continue
		}
		b.WriteString(string(msg.Role))
		if msg.Role == RoleTool && msg.Name != "" {
			b.WriteString("(" + msg.Name + ")")
		}
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}
