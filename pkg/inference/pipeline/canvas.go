package pipeline

import (
	"strings"

	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractCodeCanvases returns the fenced code blocks of a markdown answer.
// Blocks without a language are tagged "text".
func ExtractCodeCanvases(markdownText string) []conversation.CodeBlock {
	var blocks []conversation.CodeBlock
	source := []byte(markdownText)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		cb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := strings.TrimSpace(string(cb.Language(source)))
		if lang == "" {
			lang = "text"
		}
		code := ""
		if cb.Lines().Len() > 0 {
			start := cb.Lines().At(0).Start
			stop := cb.Lines().At(cb.Lines().Len() - 1).Stop
			code = strings.TrimSpace(string(source[start:stop]))
		}
		blocks = append(blocks, conversation.CodeBlock{Language: lang, Code: code})
		return ast.WalkSkipChildren, nil
	})
	return blocks
}
