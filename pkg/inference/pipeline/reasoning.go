package pipeline

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?is)<think>(.*?)</think>`)
	reasoningRe  = regexp.MustCompile(`(?is)(?:reasoning|thoughts?)\s*:\s*(.+?)\s*(?:final|answer)\s*:\s*(.+)`)
)

// ResolveReasoning derives the final (text, thought) pair. It tries, in
// order: a JSON object with final/answer and thought/reasoning keys, a
// <think> block, a "reasoning: ... final: ..." layout, and finally the
// incrementally classified buffers.
func ResolveReasoning(raw string, visible string, thought string) (string, string) {
	if text, th, ok := fromJSON(raw); ok {
		return text, th
	}

	if m := thinkBlockRe.FindStringSubmatch(raw); m != nil {
		text := strings.TrimSpace(thinkBlockRe.ReplaceAllString(raw, ""))
		th := strings.TrimSpace(m[1])
		if text != "" || th != "" {
			return text, th
		}
	}

	if m := reasoningRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[2]), strings.TrimSpace(m[1])
	}

	if strings.TrimSpace(thought) == "" {
		thought = ""
	}
	return visible, thought
}

func fromJSON(raw string) (string, string, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &obj); err != nil {
		return "", "", false
	}
	text := firstString(obj, "final", "answer")
	thought := firstString(obj, "thought", "reasoning")
	if strings.TrimSpace(text) == "" && strings.TrimSpace(thought) == "" {
		return "", "", false
	}
	if strings.TrimSpace(thought) == "" {
		thought = ""
	}
	return text, thought, true
}

// firstString returns the first of keys holding a scalar, rendered as text.
func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// extractJSON cuts raw down to the outermost braces, skipping an optional
// leading ```json fence.
func extractJSON(raw string) string {
	from := 0
	if fence := strings.Index(raw, "```json"); fence >= 0 {
		from = fence
	}
	start := strings.IndexByte(raw[from:], '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > from+start {
		return strings.TrimSpace(raw[from+start : end+1])
	}
	return strings.TrimSpace(raw)
}
