// Package validate classifies stage outputs against per-stage structural
// rules and provides the extraction helpers for pulling clean payloads
// out of raw model text. Validation never mutates artifact content.
package validate

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	fencedRe   = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
	embeddedRe = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
	mermaidRe  = regexp.MustCompile("(?is)```mermaid\\s*(.*?)```")
)

// ExtractJSON finds the first parseable JSON document in model text.
// Fallback chain: the whole text, then fenced code blocks, then the
// first brace- or bracket-delimited span.
func ExtractJSON(text string) (json.RawMessage, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, false
	}

	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), true
	}

	for _, m := range fencedRe.FindAllStringSubmatch(raw, -1) {
		block := strings.TrimSpace(m[1])
		if json.Valid([]byte(block)) {
			return json.RawMessage(block), true
		}
	}

	if m := embeddedRe.FindStringSubmatch(raw); m != nil {
		snippet := strings.TrimSpace(m[1])
		if json.Valid([]byte(snippet)) {
			return json.RawMessage(snippet), true
		}
	}
	return nil, false
}

// ExtractObject decodes the first JSON object found in text.
func ExtractObject(text string) (map[string]any, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// ExtractArray decodes the first JSON array found in text.
func ExtractArray(text string) ([]any, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, false
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, false
	}
	return arr, true
}

// ExtractBlock returns the trimmed text between startTag and endTag, or
// "" when the pair is absent. Tags are matched literally.
func ExtractBlock(text, startTag, endTag string) string {
	start := strings.Index(text, startTag)
	if start < 0 {
		return ""
	}
	rest := text[start+len(startTag):]
	end := strings.Index(rest, endTag)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// ExtractMermaid returns the body of the first ```mermaid fence, or "".
func ExtractMermaid(text string) string {
	if m := mermaidRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// CompressedLen counts the runes of s after removing all whitespace.
// Every length threshold in the pipeline is measured in these units.
func CompressedLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// RuneLen counts the runes of s after trimming surrounding whitespace.
func RuneLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
