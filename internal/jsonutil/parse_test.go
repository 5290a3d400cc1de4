package jsonutil

import (
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json fence",
			input:    "```json\n{\"a\": 1}\n```",
			expected: `{"a": 1}`,
		},
		{
			name:     "bare fence",
			input:    "```\n[1, 2]\n```",
			expected: `[1, 2]`,
		},
		{
			name:     "no fence",
			input:    `{"a": 1}`,
			expected: `{"a": 1}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  ```json\n{}\n```  ",
			expected: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.input); got != tt.expected {
				t.Errorf("StripMarkdownFences(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "object with prose",
			input:    `Here is the result: {"scenes": []} Hope that helps!`,
			expected: `{"scenes": []}`,
		},
		{
			name:     "array with prose",
			input:    `The scenes are: [{"scene_number": 1}] as requested.`,
			expected: `[{"scene_number": 1}]`,
		},
		{
			name:    "no json",
			input:   "I cannot produce that.",
			wantErr: true,
		},
		{
			name:    "unclosed object",
			input:   `{"a": 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ExtractJSON(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type scene struct {
		SceneNumber int    `json:"scene_number"`
		SceneName   string `json:"scene_name"`
	}

	raw := "```json\n[{\"scene_number\": 1, \"scene_name\": \"Opening\"}]\n```"
	scenes, err := ParseJSON[[]scene](raw)
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(scenes) != 1 || scenes[0].SceneNumber != 1 || scenes[0].SceneName != "Opening" {
		t.Errorf("unexpected parse result: %+v", scenes)
	}
}

func TestParseJSONInvalid(t *testing.T) {
	if _, err := ParseJSON[map[string]int](`{"a": "not a number"}`); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestMarshalCompact(t *testing.T) {
	got, err := MarshalCompact(map[string]int{"scene_count": 3})
	if err != nil {
		t.Fatalf("MarshalCompact failed: %v", err)
	}
	if got != `{"scene_count":3}` {
		t.Errorf("unexpected output: %s", got)
	}
}
