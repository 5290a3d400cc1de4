// Package jsonutil extracts and parses JSON from LLM responses, which may
// arrive wrapped in markdown code fences or surrounded by prose.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes a leading ```json (or bare ```) fence and its
// matching closing fence. Text without fences is returned unchanged.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	// Drop the opening fence line.
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	} else {
		return text
	}

	// Drop everything from the closing fence on.
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}

	return strings.TrimSpace(text)
}

// ExtractJSON returns the JSON object or array embedded in text. It locates
// the first { or [ and pairs it with the last matching } or ].
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	objIdx := strings.IndexByte(text, '{')
	arrIdx := strings.IndexByte(text, '[')
	if objIdx == -1 && arrIdx == -1 {
		return "", fmt.Errorf("no JSON content found")
	}

	start, end := objIdx, byte('}')
	if objIdx == -1 || (arrIdx != -1 && arrIdx < objIdx) {
		start, end = arrIdx, ']'
	}

	text = text[start:]
	closing := strings.LastIndexByte(text, end)
	if closing == -1 {
		return "", fmt.Errorf("no closing %c found", end)
	}

	return text[:closing+1], nil
}

// MarshalCompact renders v as single-line JSON, the form used when feeding
// intermediate results back into a prompt.
func MarshalCompact(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// ParseJSON strips fences, extracts the embedded JSON, and unmarshals it into
// T. This is the one entry point the LLM-facing packages use for structured
// responses.
func ParseJSON[T any](raw string) (T, error) {
	var zero T

	jsonStr, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		preview := jsonStr
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}
	return result, nil
}
