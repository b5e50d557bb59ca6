package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Title returns the role as used in prompt transcripts ("User", "Assistant").
func (r Role) Title() string {
	if r == "" {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// RunningTool is the tool invocation attached to a tool-role message.
type RunningTool struct {
	PluginName  string `json:"pluginName,omitempty"`
	ToolName    string `json:"toolName"`
	ToolPreview string `json:"toolPreview,omitempty"`
	ToolOutput  string `json:"toolOutput,omitempty"`
	Error       string `json:"error,omitempty"`
}

type RagResult struct {
	Docs  []string          `json:"docs"`
	Stats map[string]string `json:"stats,omitempty"`
}

type DecodingMetrics struct {
	Type            string    `json:"type"`
	ChatID          string    `json:"chatId,omitempty"`
	ModelName       string    `json:"modelName,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	TTFTMs          int64     `json:"ttftMs"`
	DurationMs      int64     `json:"durationMs"`
	TotalTokens     int       `json:"totalTokens"`
	TokensPerSecond float64   `json:"tokensPerSecond"`
}

type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Text            string           `json:"text"`
	Thought         string           `json:"thought,omitempty"`
	Tool            *RunningTool     `json:"tool,omitempty"`
	RagResult       *RagResult       `json:"ragResult,omitempty"`
	CodeCanvas      []CodeBlock      `json:"codeCanvas,omitempty"`
	DecodingMetrics *DecodingMetrics `json:"decodingMetrics,omitempty"`
	Time            time.Time        `json:"time"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithTool(tool *RunningTool) MessageOption {
	return func(m *Message) {
		m.Tool = tool
	}
}

func WithRagResult(r *RagResult) MessageOption {
	return func(m *Message) {
		m.RagResult = r
	}
}

func NewMessage(role Role, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:   uuid.NewString(),
		Role: role,
		Text: text,
		Time: time.Now(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (m *Message) View() string {
	text := m.Text
	if strings.HasPrefix(text, "```") {
		text = "\n" + text
	}
	if m.Tool != nil && m.Tool.Error != "" {
		return fmt.Sprintf("[%s:%s] error: %s", m.Role, m.Tool.ToolName, m.Tool.Error)
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(text, "\n"))
}
