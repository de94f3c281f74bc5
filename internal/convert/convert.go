// Package convert is the document-converter collaborator boundary: it
// turns a binary disclosure into markdown the first stage can parse.
package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"patentsmith/internal/errs"
)

// Converter turns an input document into markdown text.
type Converter interface {
	ToMarkdown(ctx context.Context, path string) (string, error)
}

// TextConverter handles plain-text disclosure formats: .md and .txt
// pass through verbatim, .json is rendered as a fenced block. Binary
// formats belong to an external converter behind the same interface.
type TextConverter struct{}

// ToMarkdown reads and converts one file. Empty conversion output is an
// error: the pipeline cannot parse an empty disclosure.
func (TextConverter) ToMarkdown(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input document: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", errs.Newf(errs.InvalidResponse, "input document %s is empty", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", "":
		return content, nil
	case ".json":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return "", fmt.Errorf("input document %s is not valid JSON: %w", path, err)
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return "```json\n" + string(pretty) + "\n```", nil
	default:
		return "", fmt.Errorf("unsupported input format %q (supported: .md, .txt, .json)", filepath.Ext(path))
	}
}
