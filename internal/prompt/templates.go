// Package prompt assembles stage requests. Every build is a pure
// function of the stage identifier and the supplied artifact contents:
// identical inputs yield byte-identical requests.
//
// Stage behavior is an explicit mapping from stage id to a versioned
// template resource embedded at build time, never a free-form file read
// at run time.
package prompt

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"patentsmith/internal/stage"
)

//go:embed templates
var templateFS embed.FS

// Template is one embedded stage instruction resource. The front
// matter pins the stage id and revision; the body becomes the system
// instructions of the request.
type Template struct {
	Stage   string `yaml:"stage"`
	Version string `yaml:"version"`
	Body    string `yaml:"-"`
}

const frontMatterDelim = "---\n"

// TemplateFor loads the instruction template for a stage. The
// markdown-merger stage is assembled locally and has no template.
func TemplateFor(id stage.ID) (Template, error) {
	data, err := templateFS.ReadFile("templates/" + string(id) + ".md")
	if err != nil {
		return Template{}, fmt.Errorf("no template for stage %s: %w", id, err)
	}
	tpl, err := parseTemplate(string(data))
	if err != nil {
		return Template{}, fmt.Errorf("template for stage %s: %w", id, err)
	}
	if tpl.Stage != string(id) {
		return Template{}, fmt.Errorf("template for stage %s declares stage %q", id, tpl.Stage)
	}
	return tpl, nil
}

func parseTemplate(raw string) (Template, error) {
	if !strings.HasPrefix(raw, frontMatterDelim) {
		return Template{}, fmt.Errorf("missing front matter")
	}
	rest := raw[len(frontMatterDelim):]
	end := strings.Index(rest, frontMatterDelim)
	if end < 0 {
		return Template{}, fmt.Errorf("unterminated front matter")
	}

	var tpl Template
	if err := yaml.Unmarshal([]byte(rest[:end]), &tpl); err != nil {
		return Template{}, fmt.Errorf("parse front matter: %w", err)
	}
	if tpl.Stage == "" || tpl.Version == "" {
		return Template{}, fmt.Errorf("front matter must declare stage and version")
	}
	tpl.Body = strings.TrimSpace(rest[end+len(frontMatterDelim):])
	return tpl, nil
}

func mustGuide(name string) string {
	data, err := templateFS.ReadFile("templates/guides/" + name)
	if err != nil {
		panic(fmt.Sprintf("embedded guide %s missing: %v", name, err))
	}
	return strings.TrimSpace(string(data))
}

// WritingGuide returns the long-form patent drafting guide.
func WritingGuide() string { return mustGuide("patent-writing-guide.md") }

// SkillGuide returns the pipeline's writing-skill rulebook.
func SkillGuide() string { return mustGuide("patent-skill.md") }
