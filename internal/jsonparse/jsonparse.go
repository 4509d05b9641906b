// Package jsonparse is the best-effort structured-output parser shared by every
// phase that reads model text. It never fails: the outcome is a tagged Result.
package jsonparse

import (
	"encoding/json"
	"strings"
)

// Result is the outcome of parsing model output. ParseError is empty on
// success; Raw always holds the original text.
type Result struct {
	Raw        string `json:"raw"`
	ParseError string `json:"parse_error,omitempty"`
}

// OK reports whether the text yielded a JSON object.
func (r Result) OK() bool {
	return r.ParseError == ""
}

// Decode extracts a JSON object from text and unmarshals it into v. Markdown
// fences and surrounding prose are removed; a truncated object is closed
// before a second attempt.
func Decode(text string, v any) Result {
	res := Result{Raw: text}
	body := stripFence(text)
	start := strings.Index(body, "{")
	if start < 0 {
		res.ParseError = "no JSON object found in response"
		return res
	}

	var err error
	if cleaned := Clean(text); cleaned != "" {
		if err = json.Unmarshal([]byte(cleaned), v); err == nil {
			return res
		}
	}
	rerr := json.Unmarshal([]byte(Repair(body[start:])), v)
	if rerr == nil {
		return res
	}
	if err == nil {
		err = rerr
	}
	res.ParseError = err.Error()
	return res
}

// Clean strips markdown fences and returns the span from the first '{' to the
// last '}'. It returns "" when the text holds no object.
func Clean(text string) string {
	text = stripFence(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}
	return strings.TrimSpace(text)
}

// Repair closes unterminated strings, arrays and objects left by a response
// cut off at the token limit.
func Repair(text string) string {
	if text == "" {
		return text
	}

	var stack []byte
	inString := false
	escape := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		text += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,:")
		text += string(stack[i])
	}
	return text
}
