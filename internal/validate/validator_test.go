package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentsmith/internal/artifact"
	"patentsmith/internal/errs"
	"patentsmith/internal/stage"
)

func testStore(t *testing.T) *artifact.Store {
	t.Helper()
	s := artifact.NewStore(t.TempDir())
	require.NoError(t, s.EnsureLayout())
	return s
}

func mustDescriptor(t *testing.T, id stage.ID) stage.Descriptor {
	t.Helper()
	d, ok := stage.Lookup(id)
	require.True(t, ok)
	return d
}

func writeValidParsedInfo(t *testing.T, s *artifact.Store) {
	t.Helper()
	require.NoError(t, s.WriteJSON(artifact.ParsedInfo, map[string]any{
		"title":              "一种数据处理方法",
		"technical_problem":  "处理效率低",
		"technical_solution": "模块化流水线",
		"keywords":           []string{"数据处理", "流水线"},
	}))
}

func TestMissingOutputIsSchemaViolation(t *testing.T) {
	s := testStore(t)

	err := Stage(s, mustDescriptor(t, stage.InputParser))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.SchemaViolation))
}

func TestParsedInfoRules(t *testing.T) {
	s := testStore(t)
	writeValidParsedInfo(t, s)
	require.NoError(t, Stage(s, mustDescriptor(t, stage.InputParser)))

	require.NoError(t, s.WriteJSON(artifact.ParsedInfo, map[string]any{
		"title":    "一种数据处理方法",
		"keywords": []string{"数据处理"},
	}))
	err := Stage(s, mustDescriptor(t, stage.InputParser))
	assert.True(t, errs.Is(err, errs.SchemaViolation))

	require.NoError(t, s.WriteText(artifact.ParsedInfo, "not json"))
	err = Stage(s, mustDescriptor(t, stage.InputParser))
	assert.True(t, errs.Is(err, errs.SchemaViolation))
}

func TestAbstractRules(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteText(artifact.Abstract, "本申请公开了一种数据处理方法，通过并行调度提升吞吐。"))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.AbstractWriter)))

	require.NoError(t, s.WriteText(artifact.Abstract, "本发明涉及一种数据处理方法。"))
	err := Stage(s, mustDescriptor(t, stage.AbstractWriter))
	assert.True(t, errs.Is(err, errs.SchemaViolation), "wrong opening phrase")

	long := AbstractPrefix + strings.Repeat("述", AbstractMaxRunes)
	require.NoError(t, s.WriteText(artifact.Abstract, long))
	err = Stage(s, mustDescriptor(t, stage.AbstractWriter))
	assert.True(t, errs.Is(err, errs.LengthViolation), "over the rune cap")
}

func TestClaimsRules(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteText(artifact.Claims, "1. 一种数据处理方法，其特征在于，包括：获取数据；处理数据。\n2. 根据权利要求1所述的方法。"))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.ClaimsWriter)))

	// The CN enumeration mark also counts as claim numbering.
	require.NoError(t, s.WriteText(artifact.Claims, "1、一种数据处理方法，其特征在于，包括数据获取与处理。"))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.ClaimsWriter)))

	require.NoError(t, s.WriteText(artifact.Claims, "权利要求书正文缺少编号。"))
	err := Stage(s, mustDescriptor(t, stage.ClaimsWriter))
	assert.True(t, errs.Is(err, errs.SchemaViolation))
}

func TestDescriptionLengthRule(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteText(artifact.Description, "## 技术领域\n\n"+strings.Repeat("术", DescriptionMinRunes)))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.DescriptionWriter)))

	require.NoError(t, s.WriteText(artifact.Description, "## 技术领域\n\n太短"))
	err := Stage(s, mustDescriptor(t, stage.DescriptionWriter))
	assert.True(t, errs.Is(err, errs.LengthViolation))
}

func TestOutlineRules(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteText(artifact.PatentOutline, "# 专利大纲\n- 摘要\n- 权利要求书"))
	require.NoError(t, s.WriteJSON(artifact.StructureMapping, map[string]any{"sections": []string{"摘要"}}))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.OutlineGenerator)))

	require.NoError(t, s.WriteText(artifact.StructureMapping, "[1,2,3]"))
	err := Stage(s, mustDescriptor(t, stage.OutlineGenerator))
	assert.True(t, errs.Is(err, errs.SchemaViolation), "mapping must be an object")
}

func TestResearchRules(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteText(artifact.SimilarPatents, `[{"title":"参考","publication_no":"CN-REF-001"}]`))
	require.NoError(t, s.WriteText(artifact.PriorArtAnalysis, "# 现有技术分析"))
	require.NoError(t, s.WriteText(artifact.WritingStyleGuide, "# 写作风格建议"))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.PatentSearcher)))

	require.NoError(t, s.WriteText(artifact.SimilarPatents, `{"not":"an array"}`))
	err := Stage(s, mustDescriptor(t, stage.PatentSearcher))
	assert.True(t, errs.Is(err, errs.SchemaViolation))
}

func TestDiagramExistenceUsesConsistencyKind(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.WriteText(artifact.MethodFlowchart, "graph TD\n    A --> B"))
	require.NoError(t, s.WriteText(artifact.DeviceStructure, "graph TB\n    M201 --> M202"))
	err := Stage(s, mustDescriptor(t, stage.DiagramGenerator))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ConsistencyViolation))

	require.NoError(t, s.WriteText(artifact.SystemDiagram, "graph LR\n    C --> S"))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.DiagramGenerator)))
}

func validMergedDoc(title string) string {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n## 目录\n1. 说明书摘要\n\n---\n\n")
	b.WriteString("## 说明书摘要\n\n本申请公开了一种方法。\n\n---\n\n")
	b.WriteString("## 权利要求书\n\n1. 一种方法。\n\n---\n\n")
	b.WriteString("## 说明书\n\n## 技术领域\n\n正文。\n\n---\n\n")
	b.WriteString("## 附图\n\n### 图1 方法流程图\n\n```mermaid\ngraph TD\n    A --> B\n```\n\n")
	b.WriteString("### 图2 装置结构图\n\n```mermaid\ngraph TB\n    M --> N\n```\n\n")
	b.WriteString("### 图3 系统架构图\n\n```mermaid\ngraph LR\n    C --> S\n```\n")
	return b.String()
}

func TestMergedDocumentRules(t *testing.T) {
	s := testStore(t)
	writeValidParsedInfo(t, s)
	require.NoError(t, s.WriteText(artifact.MethodFlowchart, "graph TD\n    A --> B"))
	require.NoError(t, s.WriteText(artifact.DeviceStructure, "graph TB\n    M --> N"))
	require.NoError(t, s.WriteText(artifact.SystemDiagram, "graph LR\n    C --> S"))

	require.NoError(t, s.WriteText(artifact.CompletePatent, validMergedDoc("一种数据处理方法")))
	require.NoError(t, Stage(s, mustDescriptor(t, stage.MarkdownMerger)))

	// Duplicated section marker.
	dup := validMergedDoc("一种数据处理方法") + "\n## 权利要求书\n"
	require.NoError(t, s.WriteText(artifact.CompletePatent, dup))
	err := Stage(s, mustDescriptor(t, stage.MarkdownMerger))
	assert.True(t, errs.Is(err, errs.ConsistencyViolation))

	// Title drifts from parsed_info.
	require.NoError(t, s.WriteText(artifact.CompletePatent, validMergedDoc("另一种标题")))
	err = Stage(s, mustDescriptor(t, stage.MarkdownMerger))
	assert.True(t, errs.Is(err, errs.ConsistencyViolation))

	// Missing section.
	noAbstract := strings.Replace(validMergedDoc("一种数据处理方法"), "## 说明书摘要\n", "## 摘要部分\n", 1)
	require.NoError(t, s.WriteText(artifact.CompletePatent, noAbstract))
	err = Stage(s, mustDescriptor(t, stage.MarkdownMerger))
	assert.True(t, errs.Is(err, errs.ConsistencyViolation))
}
