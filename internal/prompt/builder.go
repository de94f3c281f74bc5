package prompt

import (
	"fmt"
	"strings"
	"time"

	"patentsmith/internal/errs"
	"patentsmith/internal/stage"
)

// ResearchUnavailable is the explicit sentinel substituted wherever a
// research artifact would be injected when the optional patent-searcher
// stage was skipped.
const ResearchUnavailable = "（本次运行未启用现有技术检索，无相似专利参考；请基于输入技术方案独立撰写。）"

// TruncationMarker joins the head and tail halves of an over-budget
// excerpt. Stable across runs for fixed content.
const TruncationMarker = "\n\n...[truncated for context size]...\n\n"

// Request is one fully assembled backend call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64

	// Timeout overrides the configured request timeout when positive;
	// long-form section calls use a wider window.
	Timeout time.Duration
}

// Inputs carries the upstream artifact contents a build may reference.
// Absent optional artifacts stay empty; the builder substitutes the
// research sentinel for them.
type Inputs struct {
	Document         string // converted disclosure markdown
	ParsedInfo       string // parsed_info.json text
	SimilarPatents   string // similar_patents.json text
	PriorArt         string // prior_art_analysis.md
	References       string // formatted live search references
	Outline          string // patent_outline.md
	StructureMapping string // structure_mapping.json text
	Abstract         string
	Claims           string
	Description      string
	TaskPrompt       string // optional operator constraints
}

// Trim bounds text to limit runes by keeping the first and last half of
// the budget joined by the truncation marker. Idempotent for already
// bounded text.
func Trim(text string, limit int) string {
	value := strings.TrimSpace(text)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	head := runes[:limit/2]
	tail := runes[len(runes)-limit/2:]
	return string(head) + TruncationMarker + string(tail)
}

// Per-stage excerpt budgets for the two long guides, in runes. A zero
// budget omits the guide from that stage entirely.
var guideBudgets = map[stage.ID]struct{ writing, skill int }{
	stage.OutlineGenerator:  {16000, 12000},
	stage.AbstractWriter:    {12000, 10000},
	stage.ClaimsWriter:      {12000, 10000},
	stage.DescriptionWriter: {18000, 14000},
	stage.DiagramGenerator:  {0, 8000},
}

// Per-stage budget for the operator task prompt, in runes.
var taskBudgets = map[stage.ID]int{
	stage.InputParser:       2000,
	stage.PatentSearcher:    2000,
	stage.OutlineGenerator:  2000,
	stage.AbstractWriter:    1500,
	stage.ClaimsWriter:      1500,
	stage.DescriptionWriter: 2000,
	stage.DiagramGenerator:  1200,
}

// Build assembles the request for a direct-call stage. The fan-out
// stage uses BuildSection/BuildExpansion instead, and markdown-merger
// makes no backend call.
func Build(id stage.ID, in Inputs) (Request, error) {
	tpl, err := TemplateFor(id)
	if err != nil {
		return Request{}, err
	}

	var sb strings.Builder
	writeTaskPrompt(&sb, id, in.TaskPrompt)

	switch id {
	case stage.InputParser:
		fmt.Fprintf(&sb, "文档内容：\n%s\n", Trim(in.Document, 30000))
		return Request{System: tpl.Body, User: sb.String(), MaxTokens: 2400, Temperature: 0.1}, nil

	case stage.PatentSearcher:
		refs := strings.TrimSpace(in.References)
		if refs == "" {
			refs = "无（未获取到外部检索结果，请基于技术主题给出检索方向与可参考专利类型）"
		}
		fmt.Fprintf(&sb, "外部检索结果：\n%s\n\n", refs)
		fmt.Fprintf(&sb, "输入（parsed_info）：\n%s\n", Trim(in.ParsedInfo, 8000))
		return Request{System: tpl.Body, User: sb.String(), MaxTokens: 3800, Temperature: 0.2}, nil

	case stage.OutlineGenerator:
		writeGuides(&sb, id)
		fmt.Fprintf(&sb, "输入 parsed_info：\n%s\n\n", Trim(in.ParsedInfo, 8000))
		fmt.Fprintf(&sb, "输入 similar_patents（摘要）：\n%s\n", researchOr(in.SimilarPatents, 6000))
		return Request{System: tpl.Body, User: sb.String(), MaxTokens: 5000, Temperature: 0.2}, nil

	case stage.AbstractWriter:
		writeGuides(&sb, id)
		fmt.Fprintf(&sb, "输入 parsed_info：\n%s\n\n", Trim(in.ParsedInfo, 8000))
		fmt.Fprintf(&sb, "大纲：\n%s\n", Trim(in.Outline, 12000))
		return Request{System: tpl.Body, User: sb.String(), MaxTokens: 900, Temperature: 0.1}, nil

	case stage.ClaimsWriter:
		writeGuides(&sb, id)
		fmt.Fprintf(&sb, "输入 parsed_info：\n%s\n\n", Trim(in.ParsedInfo, 8000))
		fmt.Fprintf(&sb, "摘要：\n%s\n\n", strings.TrimSpace(in.Abstract))
		fmt.Fprintf(&sb, "大纲：\n%s\n", Trim(in.Outline, 12000))
		return Request{System: tpl.Body, User: sb.String(), MaxTokens: 4200, Temperature: 0.2}, nil

	case stage.DiagramGenerator:
		writeGuides(&sb, id)
		fmt.Fprintf(&sb, "输入 structure_mapping：\n%s\n\n", Trim(in.StructureMapping, 6000))
		fmt.Fprintf(&sb, "输入 description（节选）：\n%s\n", Trim(in.Description, 18000))
		return Request{System: tpl.Body, User: sb.String(), MaxTokens: 2600, Temperature: 0.2}, nil

	default:
		return Request{}, errs.Newf(errs.MissingDependency, "stage %s has no direct prompt", id)
	}
}

// SectionContext builds the shared context block every description
// subsection call receives, bounded to 30000 runes.
func SectionContext(in Inputs) string {
	budgets := guideBudgets[stage.DescriptionWriter]
	parts := []string{
		"parsed_info:\n" + strings.TrimSpace(in.ParsedInfo),
		"outline:\n" + strings.TrimSpace(in.Outline),
		"abstract:\n" + strings.TrimSpace(in.Abstract),
		"claims:\n" + strings.TrimSpace(in.Claims),
		"prior_art:\n" + researchOr(in.PriorArt, 6000),
		"task_prompt:\n" + taskOr(in.TaskPrompt, taskBudgets[stage.DescriptionWriter]),
		"guide:\n" + Trim(WritingGuide(), budgets.writing),
		"skill_guide:\n" + Trim(SkillGuide(), budgets.skill),
	}
	return Trim(strings.Join(parts, "\n\n"), 30000)
}

// BuildSection assembles the request for one description subsection.
func BuildSection(heading string, minRunes, maxTokens int, contextText string) Request {
	tpl, err := TemplateFor(stage.DescriptionWriter)
	if err != nil {
		// The template is embedded; absence is a build defect.
		panic(err)
	}
	user := fmt.Sprintf(`请仅输出“%s”章节正文，不要输出其他标题。
要求：最少 %d 个中文字符（按去除空白统计）。

上下文：
%s
`, heading, minRunes, contextText)
	return Request{
		System:      tpl.Body,
		User:        user,
		MaxTokens:   maxTokens,
		Temperature: 0.25,
		Timeout:     20 * time.Minute,
	}
}

// BuildExpansion assembles the request that extends one under-length
// subsection without touching the others.
func BuildExpansion(heading, current string, minRunes int) Request {
	tpl, err := TemplateFor(stage.DescriptionWriter)
	if err != nil {
		panic(err)
	}
	user := fmt.Sprintf(`请在不改变原有技术逻辑的前提下，扩写“%s”章节内容并补齐到至少 %d 个中文字符（按去除空白统计）。
只输出扩写后的完整正文：

%s
`, heading, minRunes, strings.TrimSpace(current))
	return Request{
		System:      tpl.Body,
		User:        user,
		MaxTokens:   3800,
		Temperature: 0.3,
		Timeout:     20 * time.Minute,
	}
}

func writeTaskPrompt(sb *strings.Builder, id stage.ID, task string) {
	fmt.Fprintf(sb, "附加任务要求（如有）：\n%s\n\n", taskOr(task, taskBudgets[id]))
}

func writeGuides(sb *strings.Builder, id stage.ID) {
	budgets := guideBudgets[id]
	if budgets.writing > 0 {
		fmt.Fprintf(sb, "专利写作指南（节选）：\n%s\n\n", Trim(WritingGuide(), budgets.writing))
	}
	if budgets.skill > 0 {
		fmt.Fprintf(sb, "专利技能规范（节选）：\n%s\n\n", Trim(SkillGuide(), budgets.skill))
	}
}

func taskOr(task string, budget int) string {
	t := strings.TrimSpace(task)
	if t == "" {
		return "无"
	}
	return Trim(t, budget)
}

// researchOr substitutes the absent-research sentinel for empty
// optional research content.
func researchOr(content string, budget int) string {
	c := strings.TrimSpace(content)
	if c == "" {
		return ResearchUnavailable
	}
	return Trim(c, budget)
}
