package pipeline

import (
	"strings"
)

const (
	openThink  = "<think>"
	closeThink = "</think>"
)

// Classifier splits a token stream into visible text and thought text
// delimited by <think> markers. Markers are matched case-insensitively and
// may be split across tokens: a tail that could still grow into the next
// marker is held back until the following token decides it.
//
// A Classifier has a single writer. Readers use Snapshot.
type Classifier struct {
	raw     strings.Builder
	visible strings.Builder
	thought strings.Builder
	inThink bool
	// lag holds the unresolved tail, always shorter than the awaited marker.
	lag string
}

// Feed classifies one token.
func (c *Classifier) Feed(token string) {
	c.raw.WriteString(token)

	s := c.lag + token
	c.lag = ""
	for s != "" {
		marker := c.awaited()
		if idx := indexFold(s, marker); idx >= 0 {
			c.current().WriteString(s[:idx])
			c.inThink = !c.inThink
			s = s[idx+len(marker):]
			continue
		}
		keep := partialSuffix(s, marker)
		c.current().WriteString(s[:len(s)-keep])
		c.lag = s[len(s)-keep:]
		return
	}
}

// Flush releases any held-back tail to the current buffer.
func (c *Classifier) Flush() {
	if c.lag != "" {
		c.current().WriteString(c.lag)
		c.lag = ""
	}
}

func (c *Classifier) InThink() bool {
	return c.inThink
}

// Raw returns everything fed so far, markers included.
func (c *Classifier) Raw() string {
	return c.raw.String()
}

func (c *Classifier) Visible() string {
	return c.visible.String()
}

func (c *Classifier) Thought() string {
	return c.thought.String()
}

func (c *Classifier) awaited() string {
	if c.inThink {
		return closeThink
	}
	return openThink
}

func (c *Classifier) current() *strings.Builder {
	if c.inThink {
		return &c.thought
	}
	return &c.visible
}

// indexFold is strings.Index with ASCII case folding on an ASCII marker.
func indexFold(s string, marker string) int {
	for i := 0; i+len(marker) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(marker)], marker) {
			return i
		}
	}
	return -1
}

// partialSuffix returns the length of the longest proper suffix of s that
// is a prefix of marker.
func partialSuffix(s string, marker string) int {
	n := len(marker) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.EqualFold(s[len(s)-n:], marker[:n]) {
			return n
		}
	}
	return 0
}
