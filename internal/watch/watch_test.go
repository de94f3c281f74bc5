package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patentsmith/internal/artifact"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collectUntil(t *testing.T, ch <-chan Change, rel string, timeout time.Duration) Change {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case change, ok := <-ch:
			require.True(t, ok, "change stream closed before %s", rel)
			if change.Rel == rel {
				return change
			}
		case <-deadline:
			t.Fatalf("no settled change for %s", rel)
		}
	}
}

func TestWatcherReportsArtifactWrites(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewStore(dir)
	require.NoError(t, store.EnsureLayout())

	w, err := New(dir, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, store.WriteText(artifact.Abstract, "本申请公开了一种方法。"))

	change := collectUntil(t, w.Changes(), artifact.Abstract, 3*time.Second)
	assert.Equal(t, OpCreated, change.Op)
	assert.Greater(t, change.Size, int64(0))
}

func TestWatcherCoalescesRapidRewrites(t *testing.T) {
	dir := t.TempDir()
	store := artifact.NewStore(dir)
	require.NoError(t, store.EnsureLayout())

	w, err := New(dir, WithDebounce(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.WriteText(artifact.Claims, "1. 一种方法。"))
		time.Sleep(10 * time.Millisecond)
	}

	collectUntil(t, w.Changes(), artifact.Claims, 3*time.Second)

	// The burst settles into a single event; nothing else arrives for
	// the same path.
	select {
	case change, ok := <-w.Changes():
		if ok {
			assert.NotEqual(t, artifact.Claims, change.Rel)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// A stage directory created after Start still produces events.
	sub := filepath.Join(dir, "01_input")
	require.NoError(t, os.MkdirAll(sub, 0755))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "parsed_info.json"), []byte("{}"), 0644))

	change := collectUntil(t, w.Changes(), "01_input/parsed_info.json", 3*time.Second)
	assert.Equal(t, OpCreated, change.Op)
}

func TestStopClosesChangeStream(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	_, ok := <-w.Changes()
	assert.False(t, ok)

	// Stop is idempotent.
	w.Stop()
}

func TestDescribe(t *testing.T) {
	line := Describe(Change{
		Rel: artifact.Abstract,
		Op:  OpUpdated,
		At:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	assert.Equal(t, "03:04:05  updated  04_content/abstract.md", line)
}
