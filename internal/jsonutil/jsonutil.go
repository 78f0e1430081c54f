// Package jsonutil extracts JSON payloads from freeform model output.
//
// Language-model collaborators are asked to reply with a single JSON object,
// but real replies arrive wrapped in markdown fences, prose, or both. Extract
// applies two strategies in order of reliability: a fenced ```json block, then
// raw brace matching over the whole text.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxInputBytes caps the input size; anything larger is rejected rather than
// scanned.
const maxInputBytes = 4 * 1024 * 1024

// reCodeFence matches a markdown code fence, optionally tagged "json". The
// fenced content is captured in subgroup 1. (?s) lets .*? span newlines; the
// non-greedy quantifier stops at the first closing fence.
var reCodeFence = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\n(.*?)\n```")

// Extract returns the first valid JSON object found in text, trying fenced
// blocks before brace matching. It returns an error when no valid JSON object
// is present or the input exceeds maxInputBytes.
func Extract(text string) (json.RawMessage, error) {
	if len(text) > maxInputBytes {
		return nil, fmt.Errorf("jsonutil: input exceeds maximum size of %d bytes", maxInputBytes)
	}
	text = strings.TrimPrefix(text, "\xef\xbb\xbf")

	for _, m := range reCodeFence.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if inner != "" && json.Valid([]byte(inner)) {
			return json.RawMessage(inner), nil
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := matchingBrace(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, fmt.Errorf("jsonutil: no valid JSON object found in text")
}

// ExtractInto extracts the first JSON object from text and unmarshals it into
// target.
func ExtractInto(text string, target any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("jsonutil: unmarshal failed: %w", err)
	}
	return nil
}

// matchingBrace returns the index of the '}' closing the '{' at start, or -1
// when the braces are unbalanced. Braces inside double-quoted strings and
// escape sequences are ignored.
func matchingBrace(text string, start int) int {
	depth := 0
	inString := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}
