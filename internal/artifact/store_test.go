package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return NewStore(t.TempDir(), WithClock(func() time.Time { return fixed }))
}

func TestEnsureLayoutCreatesOrderedTree(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureLayout())

	for _, dir := range Layout() {
		info, err := os.Stat(s.Path(dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
}

func TestWriteTextNormalizesTrailingNewline(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteText(Abstract, "本申请公开了一种方法。\n\n\n"))

	got, err := s.ReadText(Abstract)
	require.NoError(t, err)
	assert.Equal(t, "本申请公开了一种方法。\n", got)
}

func TestWriteAndReadJSON(t *testing.T) {
	s := newTestStore(t)
	in := map[string]any{"title": "一种数据处理方法", "keywords": []string{"调度", "并发"}}
	require.NoError(t, s.WriteJSON(ParsedInfo, in))

	var out map[string]any
	require.NoError(t, s.ReadJSON(ParsedInfo, &out))
	assert.Equal(t, "一种数据处理方法", out["title"])

	// Non-ASCII stays readable on disk.
	raw, err := s.ReadText(ParsedInfo)
	require.NoError(t, err)
	assert.Contains(t, raw, "调度")
}

func TestExistsIgnoresEmptyFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureLayout())

	assert.False(t, s.Exists(Claims))

	require.NoError(t, os.WriteFile(s.Path(Claims), nil, 0644))
	assert.False(t, s.Exists(Claims), "empty file is not a committed artifact")

	require.NoError(t, s.WriteText(Claims, "1. 一种数据处理方法"))
	assert.True(t, s.Exists(Claims))
}

func TestReadOptional(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.ReadOptional(PriorArtAnalysis)
	assert.False(t, ok)

	require.NoError(t, s.WriteText(PriorArtAnalysis, "# 现有技术分析"))
	got, ok := s.ReadOptional(PriorArtAnalysis)
	assert.True(t, ok)
	assert.Contains(t, got, "现有技术分析")
}

func TestAppendErrorLogFormat(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendErrorLog("outline-generator", 1, 3, errors.New("SCHEMA_VIOLATION: no mapping")))
	require.NoError(t, s.AppendErrorLog("outline-generator", 2, 3, errors.New("timeout")))

	data, err := os.ReadFile(s.ErrorLogPath("outline-generator"))
	require.NoError(t, err)

	log := string(data)
	assert.Contains(t, log, "=== [2026-03-14T09:26:53] attempt 1/3 ===\nSCHEMA_VIOLATION: no mapping\n")
	assert.Contains(t, log, "=== [2026-03-14T09:26:53] attempt 2/3 ===\ntimeout\n")
	assert.Equal(t, filepath.Join(s.Root(), "outline-generator_error.log"), s.ErrorLogPath("outline-generator"))
}
