package llm

import "strings"

// CleanJSONBlock extracts the JSON value from a model reply. Models wrap JSON
// in markdown fences or surround it with chatter even when told not to.
// Text with no recognisable JSON value is returned trimmed.
func CleanJSONBlock(text string) string {
	text = stripFence(strings.TrimSpace(text))
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	if end := balancedEnd(text[start:]); end > 0 {
		return text[start : start+end]
	}
	return text
}

// stripFence returns the body of a leading ``` fence, dropping an optional
// language tag on the opening line.
func stripFence(text string) string {
	body, ok := strings.CutPrefix(text, "```")
	if !ok {
		return text
	}
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if tag := body[:nl]; !strings.ContainsAny(tag, " {[") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// balancedEnd returns the length of the object or array at the start of s,
// or 0 when it is never closed. Brackets inside strings are ignored.
func balancedEnd(s string) int {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return 0
}
