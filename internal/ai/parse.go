package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseJSONObject extracts a JSON object from a model response. Models wrap
// JSON in prose or markdown fences unpredictably, so parsing proceeds in
// stages: the raw text, then fenced code blocks, then the first balanced
// object or array span. An array yields its first object element — models
// sometimes wrap the requested object in a one-element list. Returns nil
// when no object can be recovered.
func ParseJSONObject(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if m := tryParse(text); m != nil {
		return m
	}

	for _, match := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		if m := tryParse(strings.TrimSpace(match[1])); m != nil {
			return m
		}
	}

	// Prefer an object span: an array wrapping the object still exposes the
	// inner {...}. The array span only matters when no object parses at all.
	if m := tryParse(balancedSpan(text, '{', '}')); m != nil {
		return m
	}
	return tryParse(balancedSpan(text, '[', ']'))
}

func tryParse(s string) map[string]any {
	switch {
	case strings.HasPrefix(s, "{"):
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil
		}
		return m
	case strings.HasPrefix(s, "["):
		var items []any
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil
		}
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
		return nil
	default:
		return nil
	}
}

// balancedSpan returns the first top-level span delimited by the given
// bracket pair, tracking string literals so brackets inside values do not
// break the count.
func balancedSpan(s string, open, closing byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case open:
			if !inString {
				depth++
			}
		case closing:
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
