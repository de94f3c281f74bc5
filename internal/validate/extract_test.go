package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFallbackChain(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"raw object", `{"a":1}`, `{"a":1}`},
		{"fenced json", "前言\n```json\n{\"a\": 1}\n```\n后记", `{"a": 1}`},
		{"fence without language", "```\n[1,2]\n```", `[1,2]`},
		{"embedded object", `模型输出：{"title":"x"} 完`, `{"title":"x"}`},
		{"embedded array", `检索结果如下 ["方案A", "方案B"] 供参考`, `["方案A", "方案B"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, ok := ExtractJSON(tc.in)
			require.True(t, ok)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestExtractJSONRejectsPlainText(t *testing.T) {
	_, ok := ExtractJSON("没有任何结构化内容")
	assert.False(t, ok)

	_, ok = ExtractJSON("")
	assert.False(t, ok)
}

func TestExtractObjectAndArray(t *testing.T) {
	obj, ok := ExtractObject("```json\n{\"title\":\"方法\"}\n```")
	require.True(t, ok)
	assert.Equal(t, "方法", obj["title"])

	_, ok = ExtractObject(`[1,2]`)
	assert.False(t, ok, "array is not an object")

	arr, ok := ExtractArray(`[{"title":"a"}]`)
	require.True(t, ok)
	assert.Len(t, arr, 1)
}

func TestExtractBlock(t *testing.T) {
	text := "忽略\n<<<PATENT_OUTLINE_MD>>>\n# 专利大纲\n- 条目\n<<<END_PATENT_OUTLINE_MD>>>\n忽略"

	got := ExtractBlock(text, "<<<PATENT_OUTLINE_MD>>>", "<<<END_PATENT_OUTLINE_MD>>>")
	assert.Equal(t, "# 专利大纲\n- 条目", got)

	assert.Empty(t, ExtractBlock(text, "<<<MISSING>>>", "<<<END_MISSING>>>"))
	assert.Empty(t, ExtractBlock("<<<A>>> unified", "<<<A>>>", "<<<END_A>>>"))
}

func TestExtractMermaid(t *testing.T) {
	text := "说明\n```mermaid\ngraph TD\n    A --> B\n```\n其余"
	assert.Equal(t, "graph TD\n    A --> B", ExtractMermaid(text))
	assert.Empty(t, ExtractMermaid("graph TD without fence"))
}

func TestCompressedLenCountsRunesNotBytes(t *testing.T) {
	assert.Equal(t, 0, CompressedLen("  \n\t "))
	assert.Equal(t, 4, CompressedLen("本申 请公"))
	assert.Equal(t, 7, CompressedLen("abc 技术领域\n"))
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 6, RuneLen("  本申请公开了  "))
}
