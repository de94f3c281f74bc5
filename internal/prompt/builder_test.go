package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentsmith/internal/stage"
)

func sampleInputs() Inputs {
	return Inputs{
		Document:         "# 技术交底书\n\n一种数据处理方法。",
		ParsedInfo:       `{"title":"一种数据处理方法","keywords":["数据处理"]}`,
		Outline:          "# 专利大纲\n\n- 摘要\n- 权利要求书",
		Abstract:         "本申请公开了一种数据处理方法。",
		Claims:           "1. 一种数据处理方法，其特征在于，包括：获取数据。",
		StructureMapping: `{"patent_title":"一种数据处理方法"}`,
		Description:      "## 技术领域\n\n本申请涉及数据处理。",
		TaskPrompt:       "突出并发调度",
	}
}

func TestTemplatesLoadForAllPromptStages(t *testing.T) {
	for _, d := range stage.Catalog() {
		if d.NoBackend {
			continue
		}
		tpl, err := TemplateFor(d.ID)
		require.NoError(t, err, "stage %s", d.ID)
		assert.Equal(t, string(d.ID), tpl.Stage)
		assert.Equal(t, d.TemplateVersion, tpl.Version)
		assert.NotEmpty(t, tpl.Body)
	}
}

func TestTemplateForMergerFails(t *testing.T) {
	_, err := TemplateFor(stage.MarkdownMerger)
	assert.Error(t, err)
}

func TestBuildIsDeterministic(t *testing.T) {
	in := sampleInputs()
	for _, id := range []stage.ID{
		stage.InputParser,
		stage.PatentSearcher,
		stage.OutlineGenerator,
		stage.AbstractWriter,
		stage.ClaimsWriter,
		stage.DiagramGenerator,
	} {
		first, err := Build(id, in)
		require.NoError(t, err, "stage %s", id)
		second, err := Build(id, in)
		require.NoError(t, err)
		assert.Equal(t, first, second, "stage %s must build byte-identical requests", id)
		assert.NotEmpty(t, first.System)
		assert.NotEmpty(t, first.User)
	}
}

func TestBuildSubstitutesResearchSentinel(t *testing.T) {
	in := sampleInputs()
	in.SimilarPatents = ""

	req, err := Build(stage.OutlineGenerator, in)
	require.NoError(t, err)
	assert.Contains(t, req.User, ResearchUnavailable)

	in.SimilarPatents = `[{"title":"参考专利"}]`
	req, err = Build(stage.OutlineGenerator, in)
	require.NoError(t, err)
	assert.NotContains(t, req.User, ResearchUnavailable)
	assert.Contains(t, req.User, "参考专利")
}

func TestSectionContextSentinel(t *testing.T) {
	in := sampleInputs()
	in.PriorArt = ""
	assert.Contains(t, SectionContext(in), ResearchUnavailable)

	in.PriorArt = "# 现有技术分析"
	assert.NotContains(t, SectionContext(in), ResearchUnavailable)
}

func TestTrimKeepsHeadAndTail(t *testing.T) {
	text := strings.Repeat("甲", 500) + strings.Repeat("乙", 500)
	got := Trim(text, 100)

	assert.Contains(t, got, TruncationMarker)
	assert.True(t, strings.HasPrefix(got, strings.Repeat("甲", 50)))
	assert.True(t, strings.HasSuffix(got, strings.Repeat("乙", 50)))

	// Idempotent for fixed content.
	assert.Equal(t, got, Trim(text, 100))
	// Under-budget text passes through trimmed only.
	assert.Equal(t, "short", Trim("  short  ", 100))
}

func TestBuildSectionCarriesBudgetAndTimeout(t *testing.T) {
	req := BuildSection("技术领域", 220, 1200, "上下文")
	assert.Contains(t, req.User, "技术领域")
	assert.Contains(t, req.User, "220")
	assert.Equal(t, 1200, req.MaxTokens)
	assert.NotZero(t, req.Timeout)

	exp := BuildExpansion("背景技术", "现有正文", 1600)
	assert.Contains(t, exp.User, "背景技术")
	assert.Contains(t, exp.User, "现有正文")
	assert.Contains(t, exp.User, "1600")
}
