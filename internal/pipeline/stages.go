package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"patentsmith/internal/artifact"
	"patentsmith/internal/errs"
	"patentsmith/internal/prompt"
	"patentsmith/internal/research"
	"patentsmith/internal/stage"
	"patentsmith/internal/validate"
)

// execute dispatches one attempt of a stage to its executor.
func (r *Runner) execute(ctx context.Context, d stage.Descriptor) error {
	switch d.ID {
	case stage.InputParser:
		return r.runInputParser(ctx)
	case stage.PatentSearcher:
		return r.runPatentSearcher(ctx)
	case stage.OutlineGenerator:
		return r.runOutlineGenerator(ctx)
	case stage.AbstractWriter:
		return r.runAbstractWriter(ctx)
	case stage.ClaimsWriter:
		return r.runClaimsWriter(ctx)
	case stage.DescriptionWriter:
		return r.runDescriptionWriter(ctx)
	case stage.DiagramGenerator:
		return r.runDiagramGenerator(ctx)
	case stage.MarkdownMerger:
		return r.runMarkdownMerger()
	default:
		return errs.Newf(errs.MissingDependency, "unknown stage %s", d.ID)
	}
}

// parsedInfo is the normalized output of the first stage.
type parsedInfo struct {
	Title             string   `json:"title"`
	TechnicalProblem  string   `json:"technical_problem"`
	ExistingSolutions []string `json:"existing_solutions"`
	ExistingDrawbacks []string `json:"existing_drawbacks"`
	TechnicalSolution string   `json:"technical_solution"`
	Benefits          []string `json:"benefits"`
	Keywords          []string `json:"keywords"`
}

// runInputParser converts the disclosure, extracts the structured
// summary through the backend, and persists both artifacts.
func (r *Runner) runInputParser(ctx context.Context) error {
	markdown, err := r.converter.ToMarkdown(ctx, r.inputPath)
	if err != nil {
		return errs.Wrap(errs.InvalidResponse, err, "input conversion failed")
	}
	if err := r.store.WriteText(artifact.RawDocument, markdown); err != nil {
		return err
	}

	req, err := prompt.Build(stage.InputParser, prompt.Inputs{
		Document:   markdown,
		TaskPrompt: r.taskPrompt,
	})
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, req)
	if err != nil {
		return err
	}

	obj, ok := validate.ExtractObject(text)
	if !ok {
		return errs.New(errs.SchemaViolation, "input-parser response carries no JSON object")
	}
	return r.store.WriteJSON(artifact.ParsedInfo, normalizeParsedInfo(obj))
}

// normalizeParsedInfo fills absent fields with minimal generic values
// so the downstream prompts always have a complete object.
func normalizeParsedInfo(obj map[string]any) parsedInfo {
	info := parsedInfo{
		Title:             stringField(obj, "title", "一种数据处理方法、装置、设备及存储介质"),
		TechnicalProblem:  stringField(obj, "technical_problem", "提升处理效率并降低资源消耗。"),
		TechnicalSolution: stringField(obj, "technical_solution", "通过模块化流程和参数化策略实现目标任务处理。"),
		ExistingSolutions: listField(obj, "existing_solutions"),
		ExistingDrawbacks: listField(obj, "existing_drawbacks"),
		Benefits:          listField(obj, "benefits"),
		Keywords:          listField(obj, "keywords"),
	}
	if len(info.ExistingSolutions) == 0 {
		info.ExistingSolutions = []string{"基于单一规则引擎的处理方案", "基于集中式调度的处理方案"}
	}
	if len(info.ExistingDrawbacks) == 0 {
		info.ExistingDrawbacks = []string{"扩展性不足", "异常场景处理能力弱"}
	}
	if len(info.Benefits) == 0 {
		info.Benefits = []string{"提高处理吞吐能力", "降低系统资源占用", "增强异常处理稳定性"}
	}
	if len(info.Keywords) == 0 {
		info.Keywords = []string{"数据处理", "调度", "异常恢复", "并发", "参数优化"}
	}
	return info
}

func stringField(obj map[string]any, key, fallback string) string {
	if v, ok := obj[key].(string); ok {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return fallback
}

// listField accepts either a JSON array or a delimited string.
func listField(obj map[string]any, key string) []string {
	var out []string
	switch v := obj[key].(type) {
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.FieldsFunc(v, func(r rune) bool {
			return r == '\n' || r == ',' || r == '，' || r == ';' || r == '；'
		}) {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// similarPatent is one normalized research reference entry.
type similarPatent struct {
	Title         string   `json:"title"`
	PublicationNo string   `json:"publication_no"`
	Country       string   `json:"country"`
	Relevance     float64  `json:"relevance"`
	KeyPoints     []string `json:"key_points"`
	Analysis      string   `json:"analysis"`
}

// runPatentSearcher combines a live reference search with a backend
// analysis pass and writes the three research artifacts. Live-search
// failures degrade to an analysis without external references; only a
// backend failure fails the attempt.
func (r *Runner) runPatentSearcher(ctx context.Context) error {
	var info parsedInfo
	if err := r.store.ReadJSON(artifact.ParsedInfo, &info); err != nil {
		return errs.Wrap(errs.MissingDependency, err, "parsed_info unreadable")
	}

	references := ""
	refs, err := r.research.Search(ctx, info.Keywords, r.maxSearch)
	if err != nil {
		r.logger.Warn("live patent search failed, continuing without references", zap.Error(err))
	} else {
		references = research.FormatReferences(refs)
	}

	parsedJSON, err := r.store.ReadText(artifact.ParsedInfo)
	if err != nil {
		return err
	}
	req, err := prompt.Build(stage.PatentSearcher, prompt.Inputs{
		ParsedInfo: parsedJSON,
		References: references,
		TaskPrompt: r.taskPrompt,
	})
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, req)
	if err != nil {
		return err
	}

	similarRaw := validate.ExtractBlock(text, "<<<SIMILAR_PATENTS_JSON>>>", "<<<END_SIMILAR_PATENTS_JSON>>>")
	analysisMD := validate.ExtractBlock(text, "<<<PRIOR_ART_ANALYSIS_MD>>>", "<<<END_PRIOR_ART_ANALYSIS_MD>>>")
	styleMD := validate.ExtractBlock(text, "<<<WRITING_STYLE_GUIDE_MD>>>", "<<<END_WRITING_STYLE_GUIDE_MD>>>")

	similar := normalizeSimilarPatents(similarRaw, info.Keywords)
	if analysisMD == "" {
		analysisMD = "# 现有技术分析\n\n未获取到外部检索结果，已基于输入技术主题生成检索方向与对比思路。"
	}
	if styleMD == "" {
		styleMD = "# 写作风格建议\n\n- 使用客观、法律化语句\n- 强化步骤编号、模块编号\n- 保持术语前后一致"
	}

	if err := r.store.WriteJSON(artifact.SimilarPatents, similar); err != nil {
		return err
	}
	if err := r.store.WriteText(artifact.PriorArtAnalysis, analysisMD); err != nil {
		return err
	}
	return r.store.WriteText(artifact.WritingStyleGuide, styleMD)
}

// normalizeSimilarPatents clamps entries to 10, fills defaults, and
// synthesizes keyword-based entries when the model returned none.
func normalizeSimilarPatents(raw string, keywords []string) []similarPatent {
	var out []similarPatent
	if items, ok := validate.ExtractArray(raw); ok {
		for _, item := range items {
			if len(out) >= 10 {
				break
			}
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			entry := similarPatent{
				Title:         stringField(obj, "title", "未命名参考专利"),
				PublicationNo: stringField(obj, "publication_no", "N/A"),
				Country:       stringField(obj, "country", "CN"),
				Relevance:     0.6,
				KeyPoints:     listField(obj, "key_points"),
				Analysis:      stringField(obj, "analysis", ""),
			}
			if rel, ok := obj["relevance"].(float64); ok && rel > 0 {
				entry.Relevance = rel
			}
			if len(entry.KeyPoints) > 6 {
				entry.KeyPoints = entry.KeyPoints[:6]
			}
			out = append(out, entry)
		}
	}
	if len(out) > 0 {
		return out
	}

	fallback := keywords
	if len(fallback) == 0 {
		fallback = []string{"数据处理", "系统架构", "异常恢复", "并发控制", "资源调度"}
	}
	if len(fallback) > 5 {
		fallback = fallback[:5]
	}
	for i, keyword := range fallback {
		out = append(out, similarPatent{
			Title:         fmt.Sprintf("面向%s的改进型技术方案", keyword),
			PublicationNo: fmt.Sprintf("CN-REF-%03d", i+1),
			Country:       "CN",
			Relevance:     0.65,
			KeyPoints:     []string{"流程模块化", "可扩展处理", "稳定性增强"},
			Analysis:      "可用于学习背景技术与有益效果写法。",
		})
	}
	return out
}

// runOutlineGenerator extracts the outline and structure-mapping blocks
// from one backend response. An empty or malformed block fails the
// attempt for the validator's retry path to handle.
func (r *Runner) runOutlineGenerator(ctx context.Context) error {
	parsedJSON, err := r.store.ReadText(artifact.ParsedInfo)
	if err != nil {
		return err
	}
	similar, _ := r.store.ReadOptional(artifact.SimilarPatents)

	req, err := prompt.Build(stage.OutlineGenerator, prompt.Inputs{
		ParsedInfo:     parsedJSON,
		SimilarPatents: similar,
		TaskPrompt:     r.taskPrompt,
	})
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, req)
	if err != nil {
		return err
	}

	outlineMD := validate.ExtractBlock(text, "<<<PATENT_OUTLINE_MD>>>", "<<<END_PATENT_OUTLINE_MD>>>")
	structureRaw := validate.ExtractBlock(text, "<<<STRUCTURE_MAPPING_JSON>>>", "<<<END_STRUCTURE_MAPPING_JSON>>>")

	if strings.TrimSpace(outlineMD) == "" {
		return errs.New(errs.SchemaViolation, "outline-generator returned no outline block")
	}
	mapping, ok := validate.ExtractObject(structureRaw)
	if !ok {
		return errs.New(errs.SchemaViolation, "outline-generator returned no structure_mapping object")
	}

	if err := r.store.WriteText(artifact.PatentOutline, outlineMD); err != nil {
		return err
	}
	return r.store.WriteJSON(artifact.StructureMapping, mapping)
}

func (r *Runner) runAbstractWriter(ctx context.Context) error {
	in, err := r.contentInputs()
	if err != nil {
		return err
	}
	req, err := prompt.Build(stage.AbstractWriter, in)
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, req)
	if err != nil {
		return err
	}
	return r.store.WriteText(artifact.Abstract, text)
}

func (r *Runner) runClaimsWriter(ctx context.Context) error {
	in, err := r.contentInputs()
	if err != nil {
		return err
	}
	req, err := prompt.Build(stage.ClaimsWriter, in)
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, req)
	if err != nil {
		return err
	}
	return r.store.WriteText(artifact.Claims, text)
}

// runDescriptionWriter delegates to the fan-out executor; the merged
// document is committed only when every threshold passed.
func (r *Runner) runDescriptionWriter(ctx context.Context) error {
	in, err := r.contentInputs()
	if err != nil {
		return err
	}
	merged, err := r.newFanout().Generate(ctx, in)
	if err != nil {
		return err
	}
	return r.store.WriteText(artifact.Description, merged)
}

// Deterministic diagram fallbacks used when the model output carries no
// usable mermaid fence. Local fixed content, not a mutation of model
// text.
const (
	fallbackFlowchart = `graph TD
    A[S101: 获取待处理数据] --> B[S102: 执行特征分析]
    B --> C[S103: 进行策略决策]
    C --> D[S104: 输出处理结果]`

	fallbackDevice = `graph TB
    subgraph 数据处理装置 200
        M201[获取模块 201]
        M202[分析模块 202]
        M203[决策模块 203]
        M204[输出模块 204]
    end
    M201 --> M202 --> M203 --> M204`

	fallbackSystem = `graph LR
    C[客户端] --> G[网关服务]
    G --> S[核心处理服务]
    S --> D[(存储系统)]
    S --> M[监控与告警系统]`
)

func (r *Runner) runDiagramGenerator(ctx context.Context) error {
	description, err := r.store.ReadText(artifact.Description)
	if err != nil {
		return err
	}
	mapping, err := r.store.ReadText(artifact.StructureMapping)
	if err != nil {
		return err
	}

	req, err := prompt.Build(stage.DiagramGenerator, prompt.Inputs{
		Description:      description,
		StructureMapping: mapping,
		TaskPrompt:       r.taskPrompt,
	})
	if err != nil {
		return err
	}
	text, err := r.generate(ctx, req)
	if err != nil {
		return err
	}

	diagrams := []struct {
		rel      string
		startTag string
		endTag   string
		fallback string
	}{
		{artifact.MethodFlowchart, "<<<FLOWCHART_MERMAID>>>", "<<<END_FLOWCHART_MERMAID>>>", fallbackFlowchart},
		{artifact.DeviceStructure, "<<<DEVICE_MERMAID>>>", "<<<END_DEVICE_MERMAID>>>", fallbackDevice},
		{artifact.SystemDiagram, "<<<SYSTEM_MERMAID>>>", "<<<END_SYSTEM_MERMAID>>>", fallbackSystem},
	}
	for _, d := range diagrams {
		block := validate.ExtractBlock(text, d.startTag, d.endTag)
		mermaid := validate.ExtractMermaid(block)
		if mermaid == "" {
			mermaid = strings.TrimSpace(block)
		}
		if mermaid == "" {
			mermaid = d.fallback
		}
		if err := r.store.WriteText(d.rel, mermaid); err != nil {
			return err
		}
	}

	figures := strings.Join([]string{
		"## 附图清单",
		"",
		"- 图1：方法流程图（`05_diagrams/flowcharts/method_flowchart.mmd`）",
		"- 图2：装置结构图（`05_diagrams/structural_diagrams/device_structure.mmd`）",
		"- 图3：系统架构图（`05_diagrams/sequence_diagrams/system_architecture.mmd`）",
	}, "\n")
	return r.store.WriteText(artifact.Figures, figures)
}

// runMarkdownMerger assembles the final document from committed
// artifacts. Pure local work, no backend call.
func (r *Runner) runMarkdownMerger() error {
	var info parsedInfo
	if err := r.store.ReadJSON(artifact.ParsedInfo, &info); err != nil {
		return errs.Wrap(errs.MissingDependency, err, "parsed_info unreadable")
	}
	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = "一种数据处理方法、装置、设备及存储介质"
	}

	read := func(rel string) (string, error) {
		text, err := r.store.ReadText(rel)
		return strings.TrimSpace(text), err
	}
	abstract, err := read(artifact.Abstract)
	if err != nil {
		return err
	}
	claims, err := read(artifact.Claims)
	if err != nil {
		return err
	}
	description, err := read(artifact.Description)
	if err != nil {
		return err
	}
	flow, err := read(artifact.MethodFlowchart)
	if err != nil {
		return err
	}
	device, err := read(artifact.DeviceStructure)
	if err != nil {
		return err
	}
	system, err := read(artifact.SystemDiagram)
	if err != nil {
		return err
	}

	final := fmt.Sprintf(`# %s

## 目录
1. 说明书摘要
2. 权利要求书
3. 说明书
4. 附图

---

## 说明书摘要

%s

---

## 权利要求书

%s

---

## 说明书

%s

---

## 附图

### 图1 方法流程图

`+"```mermaid\n%s\n```"+`

### 图2 装置结构图

`+"```mermaid\n%s\n```"+`

### 图3 系统架构图

`+"```mermaid\n%s\n```"+`
`, title, abstract, claims, description, flow, device, system)

	if err := r.store.WriteText(artifact.CompletePatent, final); err != nil {
		return err
	}
	return r.writeSummaryReport(description)
}

// writeSummaryReport records the run result next to the final document.
func (r *Runner) writeSummaryReport(description string) error {
	length := validate.CompressedLen(description)
	meets := "no"
	if length >= validate.DescriptionMinRunes {
		meets = "yes"
	}
	report := strings.Join([]string{
		"# 生成摘要",
		"",
		"- session_id: " + r.sess.ID,
		"- runtime_backend: " + r.sess.Backend,
		"- generated_at: " + r.now().Format("2006-01-02T15:04:05"),
		fmt.Sprintf("- description_characters: %d", length),
		fmt.Sprintf("- required_description_characters: %d", validate.DescriptionMinRunes),
		"- meets_description_requirement: " + meets,
	}, "\n")
	return r.store.WriteText(artifact.SummaryReport, report)
}

// contentInputs loads the shared upstream artifacts of the writing
// stages. Absent optional research artifacts stay empty; the prompt
// builder substitutes its sentinel for them.
func (r *Runner) contentInputs() (prompt.Inputs, error) {
	parsedJSON, err := r.store.ReadText(artifact.ParsedInfo)
	if err != nil {
		return prompt.Inputs{}, err
	}
	in := prompt.Inputs{
		ParsedInfo: parsedJSON,
		TaskPrompt: r.taskPrompt,
	}
	if outline, ok := r.store.ReadOptional(artifact.PatentOutline); ok {
		in.Outline = outline
	}
	if abstract, ok := r.store.ReadOptional(artifact.Abstract); ok {
		in.Abstract = abstract
	}
	if claims, ok := r.store.ReadOptional(artifact.Claims); ok {
		in.Claims = claims
	}
	if priorArt, ok := r.store.ReadOptional(artifact.PriorArtAnalysis); ok {
		in.PriorArt = priorArt
	}
	return in, nil
}
