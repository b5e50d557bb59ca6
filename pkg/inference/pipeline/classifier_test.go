package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feedAll(c *Classifier, tokens ...string) {
	for _, t := range tokens {
		c.Feed(t)
	}
}

func TestClassifierMarkersSplitAcrossTokens(t *testing.T) {
	c := &Classifier{}
	feedAll(c, "Hel", "lo <thi", "nk>reason", "ing</thi", "nk> done")
	c.Flush()

	assert.Equal(t, "Hello  done", c.Visible())
	assert.Equal(t, "reasoning", c.Thought())
	assert.Equal(t, "Hello <think>reasoning</think> done", c.Raw())
	assert.False(t, c.InThink())
}

func TestClassifierHoldsBackPartialMarker(t *testing.T) {
	c := &Classifier{}
	c.Feed("a <th")
	assert.Equal(t, "a ", c.Visible())

	c.Feed("ere")
	assert.Equal(t, "a <there", c.Visible())
	assert.Empty(t, c.Thought())
}

func TestClassifierIsCaseInsensitive(t *testing.T) {
	c := &Classifier{}
	feedAll(c, "<THINK>plan</Think>answer")
	assert.Equal(t, "plan", c.Thought())
	assert.Equal(t, "answer", c.Visible())
}

func TestClassifierFlushReleasesTail(t *testing.T) {
	c := &Classifier{}
	c.Feed("<think>unfinished </th")
	assert.True(t, c.InThink())
	assert.Equal(t, "unfinished ", c.Thought())

	c.Flush()
	assert.Equal(t, "unfinished </th", c.Thought())
}

func TestClassifierSeveralThinkBlocks(t *testing.T) {
	c := &Classifier{}
	feedAll(c, "a<think>1</think>b<think>2</think>c")
	assert.Equal(t, "abc", c.Visible())
	assert.Equal(t, "12", c.Thought())
}
