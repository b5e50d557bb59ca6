package pipeline

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/go-go-golems/pocketbrain/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

const DefaultPromptTemplate = `{{- if .History -}}
Conversation History:
{{ range .History }}{{ .Role }}: {{ .Text }}
{{ end }}
{{ end -}}
{{- if .LatestCode -}}
Latest AI Code:
{{ join "\n" .LatestCode }}

{{ end -}}
User: {{ .Prompt }}`

const DefaultTokenizer = string(tokenizer.Cl100kBase)

type historyLine struct {
	Role string
	Text string
}

type promptData struct {
	History    []historyLine
	LatestCode []string
	Prompt     string
}

// PromptBuilder renders the prompt for a generation: the recent user and
// assistant turns, the latest code the assistant produced, then the new
// user prompt. History beyond the token budget is dropped oldest first.
type PromptBuilder struct {
	tmpl             *template.Template
	codec            tokenizer.Codec
	maxHistoryTokens int
}

type PromptOption func(*promptConfig)

type promptConfig struct {
	template         string
	encoding         string
	maxHistoryTokens int
}

func WithPromptTemplate(src string) PromptOption {
	return func(c *promptConfig) {
		c.template = src
	}
}

func WithTokenizer(encoding string) PromptOption {
	return func(c *promptConfig) {
		c.encoding = encoding
	}
}

// WithMaxHistoryTokens sets the history budget. Zero or less disables
// trimming.
func WithMaxHistoryTokens(n int) PromptOption {
	return func(c *promptConfig) {
		c.maxHistoryTokens = n
	}
}

func NewPromptBuilder(options ...PromptOption) (*PromptBuilder, error) {
	cfg := promptConfig{
		template: DefaultPromptTemplate,
		encoding: DefaultTokenizer,
	}
	for _, o := range options {
		o(&cfg)
	}

	tmpl, err := template.New("prompt").Funcs(sprig.TxtFuncMap()).Parse(cfg.template)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse prompt template")
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(cfg.encoding))
	if err != nil {
		return nil, errors.Wrapf(err, "could not load tokenizer %s", cfg.encoding)
	}
	return &PromptBuilder{tmpl: tmpl, codec: codec, maxHistoryTokens: cfg.maxHistoryTokens}, nil
}

// CountTokens returns the number of tokens of s.
func (b *PromptBuilder) CountTokens(s string) int {
	ids, _, err := b.codec.Encode(s)
	if err != nil {
		return len(s) / 4
	}
	return len(ids)
}

// Build renders the request for prompt given the messages that precede it.
func (b *PromptBuilder) Build(prompt string, history []*conversation.Message) (engine.Request, error) {
	var turns []*conversation.Message
	for _, m := range history {
		if m.Role == conversation.RoleUser || m.Role == conversation.RoleAssistant {
			turns = append(turns, m)
		}
	}
	turns = b.trim(turns)

	data := promptData{Prompt: prompt}
	var messages []engine.Message
	for _, m := range turns {
		data.History = append(data.History, historyLine{Role: m.Role.Title(), Text: m.Text})
		messages = append(messages, engine.Message{Role: string(m.Role), Content: m.Text})
	}
	data.LatestCode = latestCode(history)
	messages = append(messages, engine.Message{Role: string(conversation.RoleUser), Content: prompt})

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return engine.Request{}, errors.Wrap(err, "could not render prompt")
	}
	return engine.Request{Prompt: buf.String(), Messages: messages}, nil
}

func (b *PromptBuilder) trim(turns []*conversation.Message) []*conversation.Message {
	if b.maxHistoryTokens <= 0 {
		return turns
	}
	total := 0
	for i := len(turns) - 1; i >= 0; i-- {
		total += b.CountTokens(turns[i].Role.Title() + ": " + turns[i].Text + "\n")
		if total > b.maxHistoryTokens {
			return turns[i+1:]
		}
	}
	return turns
}

func latestCode(history []*conversation.Message) []string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != conversation.RoleAssistant || len(m.CodeCanvas) == 0 {
			continue
		}
		code := make([]string, 0, len(m.CodeCanvas))
		for _, c := range m.CodeCanvas {
			code = append(code, c.Code)
		}
		return code
	}
	return nil
}
