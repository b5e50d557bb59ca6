package pipeline

import (
	"testing"

	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/stretchr/testify/assert"
)

func TestExtractCodeCanvases(t *testing.T) {
	md := "Here you go:\n\n```go\nfunc main() {}\n```\n\nand\n\n```\nplain\n```\n"
	blocks := ExtractCodeCanvases(md)
	assert.Equal(t, []conversation.CodeBlock{
		{Language: "go", Code: "func main() {}"},
		{Language: "text", Code: "plain"},
	}, blocks)
}

func TestExtractCodeCanvasesNoBlocks(t *testing.T) {
	assert.Empty(t, ExtractCodeCanvases("no code here, only `inline`"))
	assert.Equal(t, []conversation.CodeBlock{{Language: "sh", Code: ""}}, ExtractCodeCanvases("```sh\n```"))
}
