package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentsmith/internal/artifact"
	"patentsmith/internal/stage"
)

func TestNewGeneratesUUIDWhenAbsent(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s := New("", "anthropic", now)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusPending, s.Status)
	assert.Len(t, s.Stages, len(stage.Catalog()))

	explicit := New("my-session", "openai", now)
	assert.Equal(t, "my-session", explicit.ID)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewStore(dir)
	require.NoError(t, store.EnsureLayout())

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := New("abc", "anthropic", now)
	s.Status = StatusRunning
	s.SetStage(stage.PatentSearcher, StageSkipped, 0, "")
	s.SetStage(stage.InputParser, StageSucceeded, 1, "")
	s.Finish(StatusFailed, now.Add(time.Minute), "claims-writer: retries exhausted")
	require.NoError(t, s.Save(store))

	loaded, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, "abc", loaded.ID)
	assert.Equal(t, StatusFailed, loaded.Status)
	assert.Equal(t, StageSkipped, loaded.StageRun(stage.PatentSearcher).Status)
	assert.Equal(t, 1, loaded.StageRun(stage.InputParser).Attempts)
	require.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, "claims-writer: retries exhausted", loaded.LastError)
}
