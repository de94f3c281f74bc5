package fanout

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"patentsmith/internal/backend"
	"patentsmith/internal/config"
	"patentsmith/internal/errs"
	"patentsmith/internal/logging"
	"patentsmith/internal/prompt"
	"patentsmith/internal/validate"
)

// Config parameterizes the executor. Zero values fall back to the
// configured defaults.
type Config struct {
	Backend backend.Backend

	// Parallelism bounds concurrent backend calls (1..6).
	Parallelism int

	// RetryCap bounds per-section attempts on TransientFailure.
	RetryCap int

	// ExpansionCap bounds expansion calls per subsection.
	ExpansionCap int

	// MinTotalRunes is the compressed-length floor for the merged
	// document. Defaults to the description-writer validation floor.
	MinTotalRunes int

	Logger *zap.Logger
}

// Executor runs the fan-out/merge/expand protocol.
type Executor struct {
	backend       backend.Backend
	parallelism   int
	retryCap      int
	expansionCap  int
	minTotalRunes int
	logger        *zap.Logger
}

// New builds an Executor, clamping tunables into their legal ranges.
func New(cfg Config) *Executor {
	if cfg.Parallelism < config.MinParallelism {
		cfg.Parallelism = config.DefaultParallelism
	}
	if cfg.Parallelism > config.MaxParallelism {
		cfg.Parallelism = config.MaxParallelism
	}
	if cfg.RetryCap < 1 {
		cfg.RetryCap = config.DefaultMaxStageRetries
	}
	if cfg.ExpansionCap < 1 {
		cfg.ExpansionCap = config.DefaultExpansionCap
	}
	if cfg.MinTotalRunes <= 0 {
		cfg.MinTotalRunes = validate.DescriptionMinRunes
	}
	return &Executor{
		backend:       cfg.Backend,
		parallelism:   cfg.Parallelism,
		retryCap:      cfg.RetryCap,
		expansionCap:  cfg.ExpansionCap,
		minTotalRunes: cfg.MinTotalRunes,
		logger:        logging.OrNop(cfg.Logger).Named("fanout"),
	}
}

// task tracks one subsection through generation and expansion. Only
// the goroutine dispatched for a task writes it, so no lock is needed.
type task struct {
	section    Section
	text       string
	expansions int
}

// Generate produces the merged description document. All subsection
// calls complete (success or terminal failure) before any merge;
// cancellation propagates to outstanding calls and no partial result
// is returned.
func (e *Executor) Generate(ctx context.Context, in prompt.Inputs) (string, error) {
	sections := Sections()
	contextText := prompt.SectionContext(in)

	tasks := make([]*task, len(sections))
	for i, sec := range sections {
		tasks[i] = &task{section: sec}
	}

	// Initial round: one bounded concurrent call per subsection.
	if err := e.runBounded(ctx, tasks, func(ctx context.Context, t *task) error {
		req := prompt.BuildSection(t.section.Heading, t.section.MinRunes, t.section.MaxTokens, contextText)
		text, err := e.callWithRetry(ctx, t.section.ID, req)
		if err != nil {
			return err
		}
		t.text = text
		return nil
	}); err != nil {
		return "", err
	}

	// Expansion rounds: extend only under-length subsections until
	// every threshold passes or each candidate exhausts its cap.
	for {
		if err := ctx.Err(); err != nil {
			return "", errs.Wrap(errs.TransientFailure, err, "fan-out cancelled")
		}

		candidates := e.expansionCandidates(tasks)
		if len(candidates) == 0 {
			break
		}
		if err := e.runBounded(ctx, candidates, func(ctx context.Context, t *task) error {
			req := prompt.BuildExpansion(t.section.Heading, t.text, t.section.MinRunes)
			text, err := e.callWithRetry(ctx, t.section.ID, req)
			t.expansions++
			if err != nil {
				return err
			}
			// A shorter rewrite never replaces the current text.
			if validate.CompressedLen(text) > validate.CompressedLen(t.text) {
				t.text = text
			}
			return nil
		}); err != nil {
			return "", err
		}
	}

	merged := e.merge(tasks)
	if n := validate.CompressedLen(merged); n < e.minTotalRunes {
		return "", errs.Newf(errs.LengthViolation,
			"merged description is %d compressed runes after expansion budget, floor %d", n, e.minTotalRunes)
	}
	return merged, nil
}

// expansionCandidates returns the tasks the next round should extend:
// subsections under their own minimum, or — when only the combined
// floor is unmet — every subsection with budget remaining. Returns nil
// once all thresholds pass or no candidate has budget left.
func (e *Executor) expansionCandidates(tasks []*task) []*task {
	var under []*task
	for _, t := range tasks {
		if validate.CompressedLen(t.text) < t.section.MinRunes && t.expansions < e.expansionCap {
			under = append(under, t)
		}
	}
	if len(under) > 0 {
		return under
	}

	anyUnderMin := false
	for _, t := range tasks {
		if validate.CompressedLen(t.text) < t.section.MinRunes {
			anyUnderMin = true
			break
		}
	}
	if anyUnderMin {
		// Under-minimum sections remain but their budget is spent.
		return nil
	}

	if validate.CompressedLen(e.merge(tasks)) >= e.minTotalRunes {
		return nil
	}
	var remaining []*task
	for _, t := range tasks {
		if t.expansions < e.expansionCap {
			remaining = append(remaining, t)
		}
	}
	return remaining
}

// runBounded dispatches fn for every task concurrently, bounded by the
// parallelism limit. The first error cancels outstanding calls.
func (e *Executor) runBounded(ctx context.Context, tasks []*task, fn func(context.Context, *task) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errs.Wrap(errs.TransientFailure, err, "fan-out cancelled")
			}
			return fn(gctx, t)
		})
	}
	return g.Wait()
}

// callWithRetry issues one generation call, retrying TransientFailure
// up to the per-section retry cap. Other failures surface immediately
// and fail the whole stage.
func (e *Executor) callWithRetry(ctx context.Context, sectionID string, req prompt.Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retryCap; attempt++ {
		text, err := e.backend.Generate(ctx, req.System, req.User, backend.Options{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Timeout:     req.Timeout,
		})
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		if !errs.Is(err, errs.TransientFailure) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		e.logger.Warn("section call failed, retrying",
			zap.String("section", sectionID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return "", lastErr
}

// merge joins subsection texts in declared order with ## headings; the
// embodiment subsections share one 具体实施方式 heading. Merge order
// never depends on completion order.
func (e *Executor) merge(tasks []*task) string {
	var sb strings.Builder
	embodimentOpen := false
	for _, t := range tasks {
		if t.section.Embodiment {
			if !embodimentOpen {
				sb.WriteString("## " + EmbodimentHeading + "\n\n")
				embodimentOpen = true
			}
		} else {
			sb.WriteString("## " + t.section.Heading + "\n\n")
		}
		sb.WriteString(strings.TrimSpace(t.text))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()) + "\n"
}
