package common

import (
	"regexp"
	"strings"
)

// Helpers for cleaning LLM output before parsing. Models routinely wrap
// structured replies in markdown code fences or emit Python-style literals
// even when asked for bare JSON.

var fenceOpenRe = regexp.MustCompile("(?i)^```[a-z0-9]*\\s*")

// StripCodeFences removes a wrapping markdown code fence from text, along
// with any language tag on the opening fence. Text without a fence is
// returned trimmed but otherwise unchanged.
func StripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpenRe.ReplaceAllString(s, "")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

var pyLiteralRe = regexp.MustCompile(`\b(True|False|None)\b`)

// CoercePythonLiterals rewrites Python boolean and null literals to their
// JSON forms and swaps single quotes for double quotes, the shape a model
// produces when it echoes a Python dict instead of JSON. Quoted strings can
// be corrupted by this, so call it only after a strict parse has failed.
func CoercePythonLiterals(text string) string {
	out := pyLiteralRe.ReplaceAllStringFunc(text, func(m string) string {
		switch m {
		case "True":
			return "true"
		case "False":
			return "false"
		default:
			return "null"
		}
	})
	return strings.ReplaceAll(out, "'", `"`)
}

// ExtractJSONObject returns the first balanced top-level JSON object found
// in text, or "" when none exists. Braces inside string literals are
// skipped.
func ExtractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
