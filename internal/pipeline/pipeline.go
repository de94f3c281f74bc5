// Package pipeline orchestrates the eight generation stages: strict
// ordering, dependency gating, per-stage retries with error-log
// artifacts, and the optional research skip path. The core is a pure
// function of (session, input artifacts, configuration); process
// lifecycle lives in cmd.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"patentsmith/internal/artifact"
	"patentsmith/internal/backend"
	"patentsmith/internal/config"
	"patentsmith/internal/convert"
	"patentsmith/internal/errs"
	"patentsmith/internal/fanout"
	"patentsmith/internal/logging"
	"patentsmith/internal/prompt"
	"patentsmith/internal/research"
	"patentsmith/internal/session"
	"patentsmith/internal/stage"
	"patentsmith/internal/validate"
)

// Config wires one run. Backend, Store and Session are required;
// Research may be nil, which skips the patent-searcher stage.
type Config struct {
	Backend   backend.Backend
	Store     *artifact.Store
	Session   *session.Session
	Converter convert.Converter

	// Research is the optional prior-art collaborator. Nil or
	// unavailable marks patent-searcher skipped.
	Research research.Provider

	// InputPath is the disclosure document the first stage converts.
	InputPath string

	// TaskPrompt carries operator constraints into every stage prompt.
	TaskPrompt string

	MaxStageRetries int
	Parallelism     int
	ExpansionCap    int
	RequestTimeout  time.Duration

	// MaxSearchResults caps live search references. Zero uses the
	// config default.
	MaxSearchResults int

	// Events receives progress notifications when non-nil. Sends never
	// block; an unread event is dropped.
	Events chan<- Event

	// Now is the report timestamp source. Tests pin it.
	Now func() time.Time

	Logger *zap.Logger
}

// Outcome is the terminal run result. Partial artifacts from completed
// stages always remain on disk.
type Outcome struct {
	Status      session.Status
	FailedStage stage.ID
	Err         error
}

// Runner executes one session end to end.
type Runner struct {
	backend   backend.Backend
	store     *artifact.Store
	sess      *session.Session
	converter convert.Converter
	research  research.Provider

	inputPath  string
	taskPrompt string

	maxRetries     int
	parallelism    int
	expansionCap   int
	requestTimeout time.Duration
	maxSearch      int

	events chan<- Event
	now    func() time.Time
	logger *zap.Logger
}

// New builds a Runner, clamping tunables into their legal ranges.
func New(cfg Config) *Runner {
	if cfg.MaxStageRetries < 1 {
		cfg.MaxStageRetries = config.DefaultMaxStageRetries
	}
	if cfg.Parallelism < config.MinParallelism {
		cfg.Parallelism = config.DefaultParallelism
	}
	if cfg.Parallelism > config.MaxParallelism {
		cfg.Parallelism = config.MaxParallelism
	}
	if cfg.ExpansionCap < 1 {
		cfg.ExpansionCap = config.DefaultExpansionCap
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = config.DefaultRequestTimeoutSeconds * time.Second
	}
	if cfg.MaxSearchResults < 1 {
		cfg.MaxSearchResults = 8
	}
	if cfg.Converter == nil {
		cfg.Converter = convert.TextConverter{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		backend:        cfg.Backend,
		store:          cfg.Store,
		sess:           cfg.Session,
		converter:      cfg.Converter,
		research:       cfg.Research,
		inputPath:      cfg.InputPath,
		taskPrompt:     cfg.TaskPrompt,
		maxRetries:     cfg.MaxStageRetries,
		parallelism:    cfg.Parallelism,
		expansionCap:   cfg.ExpansionCap,
		requestTimeout: cfg.RequestTimeout,
		maxSearch:      cfg.MaxSearchResults,
		events:         cfg.Events,
		now:            cfg.Now,
		logger:         logging.OrNop(cfg.Logger).Named("pipeline"),
	}
}

// Run executes the stage sequence. Each stage's artifacts are fully
// committed and validated before the next stage starts; the first stage
// that exhausts its retries ends the run.
func (r *Runner) Run(ctx context.Context) Outcome {
	if err := r.store.EnsureLayout(); err != nil {
		return r.finish(ctx, stage.ID(""), err)
	}

	r.sess.Status = session.StatusRunning
	r.saveSession()
	r.logLine("run started: session=%s backend=%s", r.sess.ID, r.sess.Backend)

	for _, d := range stage.Catalog() {
		if err := ctx.Err(); err != nil {
			wrapped := errs.Wrap(errs.TransientFailure, err, "run cancelled").WithStage(string(d.ID))
			r.sess.SetStage(d.ID, session.StageFailed, 0, wrapped.Error())
			return r.finish(ctx, d.ID, wrapped)
		}

		if d.Optional && !r.researchAvailable(ctx) {
			r.logger.Info("stage skipped", zap.String("stage", string(d.ID)))
			r.logLine("stage %s: skipped (research unavailable)", d.ID)
			r.sess.SetStage(d.ID, session.StageSkipped, 0, "")
			r.saveSession()
			r.emit(Event{Type: EventStageSkipped, Stage: d.ID})
			continue
		}

		if err := r.checkRequires(d); err != nil {
			r.sess.SetStage(d.ID, session.StageFailed, 0, err.Error())
			r.appendErrorLog(d.ID, 1, err)
			return r.finish(ctx, d.ID, err)
		}

		r.emit(Event{Type: EventStageStarted, Stage: d.ID, MaxAttempts: r.maxRetries})
		if err := r.runStage(ctx, d); err != nil {
			return r.finish(ctx, d.ID, err)
		}
	}

	return r.finish(ctx, "", nil)
}

// runStage drives one stage through the attempt state machine. The
// retry cap covers both transport and validation failures; fatal kinds
// end the stage on their first occurrence.
func (r *Runner) runStage(ctx context.Context, d stage.Descriptor) error {
	attempt := stage.NewAttempt(d.ID)

	for {
		if err := attempt.Begin(); err != nil {
			return err
		}
		r.sess.SetStage(d.ID, session.StageRunning, attempt.Number, "")
		r.saveSession()
		r.emit(Event{Type: EventAttemptStarted, Stage: d.ID, Attempt: attempt.Number, MaxAttempts: r.maxRetries})
		r.logger.Info("stage attempt",
			zap.String("stage", string(d.ID)),
			zap.Int("attempt", attempt.Number),
			zap.Int("cap", r.maxRetries))

		err := r.execute(ctx, d)
		if err == nil {
			err = validate.Stage(r.store, d)
		}
		if err == nil {
			if terr := attempt.Succeed(); terr != nil {
				return terr
			}
			r.sess.SetStage(d.ID, session.StageSucceeded, attempt.Number, "")
			r.saveSession()
			r.logLine("stage %s: succeeded (attempt %d)", d.ID, attempt.Number)
			r.emit(Event{Type: EventStageSucceeded, Stage: d.ID, Attempt: attempt.Number})
			return nil
		}

		if e, ok := err.(*errs.Error); ok {
			e.WithStage(string(d.ID)).WithAttempt(attempt.Number)
		}
		r.appendErrorLog(d.ID, attempt.Number, err)
		r.logger.Warn("stage attempt failed",
			zap.String("stage", string(d.ID)),
			zap.Int("attempt", attempt.Number),
			zap.Error(err))

		if !errs.Retryable(err) || attempt.Number >= r.maxRetries || ctx.Err() != nil {
			if terr := attempt.Fail(); terr != nil {
				return terr
			}
			r.sess.SetStage(d.ID, session.StageFailed, attempt.Number, err.Error())
			r.saveSession()
			r.logLine("stage %s: failed after %d attempt(s): %v", d.ID, attempt.Number, err)
			r.emit(Event{Type: EventStageFailed, Stage: d.ID, Attempt: attempt.Number, Err: err.Error()})
			return err
		}
		if terr := attempt.Retry(); terr != nil {
			return terr
		}
	}
}

// checkRequires gates the stage on its upstream artifacts. A missing
// one is fatal before any backend call.
func (r *Runner) checkRequires(d stage.Descriptor) error {
	for _, rel := range d.Requires {
		if !r.store.Exists(rel) {
			return errs.Newf(errs.MissingDependency, "stage %s requires missing artifact %s", d.ID, rel).
				WithStage(string(d.ID))
		}
	}
	return nil
}

func (r *Runner) researchAvailable(ctx context.Context) bool {
	return r.research != nil && r.research.Available(ctx)
}

// generate issues one backend call with the request's own timeout, or
// the configured default for requests that carry none.
func (r *Runner) generate(ctx context.Context, req prompt.Request) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.requestTimeout
	}
	return r.backend.Generate(ctx, req.System, req.User, backend.Options{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Timeout:     timeout,
	})
}

func (r *Runner) newFanout() *fanout.Executor {
	return fanout.New(fanout.Config{
		Backend:      r.backend,
		Parallelism:  r.parallelism,
		RetryCap:     r.maxRetries,
		ExpansionCap: r.expansionCap,
		Logger:       r.logger,
	})
}

func (r *Runner) finish(ctx context.Context, failedStage stage.ID, err error) Outcome {
	status := session.StatusSucceeded
	detail := ""
	if err != nil {
		status = session.StatusFailed
		detail = err.Error()
	}
	r.sess.Finish(status, r.now(), detail)
	r.saveSession()
	r.logLine("run finished: status=%s", status)
	r.emit(Event{Type: EventRunFinished, Succeeded: err == nil, Stage: failedStage, Err: detail})
	return Outcome{Status: status, FailedStage: failedStage, Err: err}
}

// saveSession persists the snapshot; a persistence hiccup never fails
// the run itself.
func (r *Runner) saveSession() {
	if err := r.sess.Save(r.store); err != nil {
		r.logger.Warn("session snapshot not saved", zap.Error(err))
	}
}

func (r *Runner) logLine(format string, args ...any) {
	if err := r.store.AppendLog(format, args...); err != nil {
		r.logger.Warn("generation log append failed", zap.Error(err))
	}
}

func (r *Runner) appendErrorLog(id stage.ID, attempt int, cause error) {
	if err := r.store.AppendErrorLog(string(id), attempt, r.maxRetries, cause); err != nil {
		r.logger.Warn("error log append failed",
			zap.String("stage", string(id)),
			zap.Error(err))
	}
}
