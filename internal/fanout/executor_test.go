package fanout

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patentsmith/internal/backend"
	"patentsmith/internal/errs"
	"patentsmith/internal/prompt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// stubBackend simulates generation with per-call behavior and tracks
// concurrency.
type stubBackend struct {
	mu    sync.Mutex
	calls int

	active    int32
	maxActive int32

	latency func(call int) time.Duration
	respond func(call int, system, user string) (string, error)
}

func (s *stubBackend) Name() string  { return "stub" }
func (s *stubBackend) Model() string { return "stub-model" }

func (s *stubBackend) Generate(ctx context.Context, system, user string, _ backend.Options) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	cur := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, cur) {
			break
		}
	}

	if s.latency != nil {
		select {
		case <-time.After(s.latency(call)):
		case <-ctx.Done():
			return "", errs.Wrap(errs.TransientFailure, ctx.Err(), "stub cancelled")
		}
	}
	return s.respond(call, system, user)
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// headingOf recovers the requested subsection heading from a section
// or expansion prompt.
func headingOf(user string) string {
	for _, pre := range []string{"请仅输出“", "扩写“"} {
		if i := strings.Index(user, pre); i >= 0 {
			rest := user[i+len(pre):]
			if j := strings.Index(rest, "”"); j >= 0 {
				return rest[:j]
			}
		}
	}
	return ""
}

// satisfying returns text meeting a section's minimum for the heading.
func satisfying(heading string) string {
	for _, sec := range Sections() {
		if sec.Heading == heading {
			return "【" + heading + "】" + strings.Repeat("字", sec.MinRunes)
		}
	}
	return ""
}

func TestMergeOrderInvariantUnderCompletionOrder(t *testing.T) {
	for seed := int64(0); seed < 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		latencies := make([]time.Duration, 12)
		for i := range latencies {
			latencies[i] = time.Duration(rng.Intn(20)) * time.Millisecond
		}
		stub := &stubBackend{
			latency: func(call int) time.Duration {
				return latencies[(call-1)%len(latencies)]
			},
			respond: func(_ int, _, user string) (string, error) {
				return satisfying(headingOf(user)), nil
			},
		}
		e := New(Config{Backend: stub, Parallelism: 3, RetryCap: 3, ExpansionCap: 2})

		merged, err := e.Generate(context.Background(), prompt.Inputs{ParsedInfo: "{}"})
		require.NoError(t, err, "seed %d", seed)

		// Subsection bodies appear in declared order.
		last := -1
		for _, sec := range Sections() {
			idx := strings.Index(merged, "【"+sec.Heading+"】")
			require.GreaterOrEqual(t, idx, 0, "seed %d: section %s missing", seed, sec.ID)
			assert.Greater(t, idx, last, "seed %d: section %s out of order", seed, sec.ID)
			last = idx
		}

		// Exactly one shared embodiment heading, no duplicates.
		assert.Equal(t, 1, strings.Count(merged, "## "+EmbodimentHeading+"\n"))
		for _, heading := range []string{"技术领域", "背景技术", "发明内容", "附图说明"} {
			assert.Equal(t, 1, strings.Count(merged, "## "+heading+"\n"), heading)
		}
	}
}

func TestExpansionLoopStopsAtCap(t *testing.T) {
	stub := &stubBackend{
		respond: func(int, string, string) (string, error) {
			return "短", nil
		},
	}
	e := New(Config{Backend: stub, Parallelism: 2, RetryCap: 3, ExpansionCap: 2})

	_, err := e.Generate(context.Background(), prompt.Inputs{})
	require.Error(t, err)
	assert.Equal(t, errs.LengthViolation, errs.KindOf(err))

	// Six initial calls plus exactly ExpansionCap expansions per
	// subsection, never unbounded.
	assert.Equal(t, 6+6*2, stub.callCount())
}

func TestParallelismBoundIsNeverExceeded(t *testing.T) {
	stub := &stubBackend{
		latency: func(int) time.Duration { return 10 * time.Millisecond },
		respond: func(_ int, _, user string) (string, error) {
			return satisfying(headingOf(user)), nil
		},
	}
	e := New(Config{Backend: stub, Parallelism: 2, RetryCap: 1, ExpansionCap: 1})

	_, err := e.Generate(context.Background(), prompt.Inputs{})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&stub.maxActive), int32(2))
}

func TestSectionTransientFailureIsRetriedIndividually(t *testing.T) {
	var failed int32
	stub := &stubBackend{
		respond: func(_ int, _, user string) (string, error) {
			heading := headingOf(user)
			if heading == "背景技术" && atomic.CompareAndSwapInt32(&failed, 0, 1) {
				return "", errs.New(errs.TransientFailure, "simulated timeout")
			}
			return satisfying(heading), nil
		},
	}
	e := New(Config{Backend: stub, Parallelism: 2, RetryCap: 3, ExpansionCap: 1})

	merged, err := e.Generate(context.Background(), prompt.Inputs{})
	require.NoError(t, err)
	assert.Contains(t, merged, "【背景技术】")
	assert.Equal(t, 7, stub.callCount())
}

func TestNonTransientFailureFailsTheStage(t *testing.T) {
	stub := &stubBackend{
		respond: func(_ int, _, user string) (string, error) {
			if headingOf(user) == "发明内容" {
				return "", errs.New(errs.InvalidResponse, "empty completion")
			}
			return satisfying(headingOf(user)), nil
		},
	}
	e := New(Config{Backend: stub, Parallelism: 2, RetryCap: 3, ExpansionCap: 1})

	_, err := e.Generate(context.Background(), prompt.Inputs{})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidResponse, errs.KindOf(err))
}

func TestCancellationPropagatesToOutstandingCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubBackend{
		latency: func(int) time.Duration { return 5 * time.Second },
		respond: func(_ int, _, user string) (string, error) {
			return satisfying(headingOf(user)), nil
		},
	}
	e := New(Config{Backend: stub, Parallelism: 2, RetryCap: 1, ExpansionCap: 1})

	done := make(chan error, 1)
	go func() {
		_, err := e.Generate(ctx, prompt.Inputs{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled fan-out did not return")
	}
}

func TestShorterRewriteNeverReplacesText(t *testing.T) {
	// Initial responses satisfy every minimum except one section;
	// expansion then returns something shorter, which must not
	// regress the kept text.
	stub := &stubBackend{
		respond: func(call int, _, user string) (string, error) {
			heading := headingOf(user)
			if strings.Contains(user, "扩写“") {
				return "更短", nil
			}
			if heading == "附图说明" {
				return "偏短内容", nil
			}
			return satisfying(heading), nil
		},
	}
	e := New(Config{Backend: stub, Parallelism: 2, RetryCap: 1, ExpansionCap: 1})

	merged, err := e.Generate(context.Background(), prompt.Inputs{})
	require.NoError(t, err)
	assert.Contains(t, merged, "偏短内容")
	assert.NotContains(t, merged, "更短")
}
