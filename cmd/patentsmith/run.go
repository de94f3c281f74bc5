package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"patentsmith/internal/artifact"
	"patentsmith/internal/backend"
	"patentsmith/internal/config"
	"patentsmith/internal/pipeline"
	"patentsmith/internal/research"
	"patentsmith/internal/session"
	"patentsmith/internal/tui"
)

var (
	runInput       string
	runSessionID   string
	runBackend     string
	runTaskPrompt  string
	runMaxRetries  int
	runParallelism int
	runOutputDir   string
	runPlain       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a patent draft from a disclosure document",
	Long: `Runs the full generation pipeline against the input document.
A fresh session directory is created under the output root; progress is
shown in a terminal UI unless --plain is given or stdout is not a TTY.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "disclosure document (.md/.txt/.json)")
	runCmd.Flags().StringVar(&runSessionID, "session-id", "", "session id (defaults to a fresh UUID)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "model provider: anthropic, openai or gemini (default: auto-detect)")
	runCmd.Flags().StringVar(&runTaskPrompt, "task-prompt", "", "extra operator constraints injected into every stage prompt")
	runCmd.Flags().IntVar(&runMaxRetries, "max-stage-retries", 0, "attempts per stage (default 3)")
	runCmd.Flags().IntVar(&runParallelism, "parallelism", 0, "concurrent description section calls, 1..6 (default 2)")
	runCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "root directory for session output")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "line-based progress instead of the terminal UI")
	_ = runCmd.MarkFlagRequired("input")
}

func loadRunConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, usageError{err: err}
	}
	cfg.ApplyEnv()

	if runBackend != "" {
		cfg.Backend = runBackend
	}
	if runTaskPrompt != "" {
		cfg.TaskPrompt = runTaskPrompt
	}
	if cmd.Flags().Changed("max-stage-retries") {
		cfg.MaxStageRetries = runMaxRetries
	}
	if cmd.Flags().Changed("parallelism") {
		cfg.Parallelism = runParallelism
	}
	if runOutputDir != "" {
		cfg.OutputDir = runOutputDir
	}
	cfg.Normalize()
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := os.Stat(runInput); err != nil {
		return usageErrorf("input document %s: %v", runInput, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := backend.New(ctx, cfg)
	if err != nil {
		return err
	}

	sess := session.New(runSessionID, b.Name(), time.Now())
	store := artifact.NewStore(filepath.Join(cfg.OutputDir, sess.ID))

	events := make(chan pipeline.Event, 256)
	runner := pipeline.New(pipeline.Config{
		Backend:          b,
		Store:            store,
		Session:          sess,
		Research:         newResearchProvider(cfg),
		InputPath:        runInput,
		TaskPrompt:       cfg.TaskPrompt,
		MaxStageRetries:  cfg.MaxStageRetries,
		Parallelism:      cfg.Parallelism,
		ExpansionCap:     cfg.ExpansionCap,
		RequestTimeout:   cfg.RequestTimeout(),
		MaxSearchResults: cfg.Research.MaxResults,
		Events:           events,
		Logger:           logger,
	})

	logger.Info("run starting",
		zap.String("session", sess.ID),
		zap.String("backend", b.Name()),
		zap.String("model", b.Model()),
		zap.String("output", store.Root()))
	fmt.Printf("session %s (%s/%s)\n", sess.ID, b.Name(), b.Model())

	outcomeCh := make(chan pipeline.Outcome, 1)
	go func() {
		outcomeCh <- runner.Run(ctx)
		close(events)
	}()

	if runPlain || !stdoutIsTTY() {
		consumePlain(events)
	} else {
		showProgressUI(sess.ID, events)
	}

	outcome := <-outcomeCh
	if outcome.Err != nil {
		fmt.Printf("run failed at %s: %v\n", outcome.FailedStage, outcome.Err)
		fmt.Printf("partial artifacts: %s\n", store.Root())
		return outcome.Err
	}
	fmt.Printf("complete patent: %s\n", store.Path(artifact.CompletePatent))
	return nil
}

// newResearchProvider builds the optional search collaborator. Nil
// means the patent-searcher stage is skipped.
func newResearchProvider(cfg config.Config) research.Provider {
	if cfg.Research.Disabled {
		return nil
	}
	opts := []research.Option{research.WithLogger(logger)}
	if cfg.Research.BrowserURL != "" {
		opts = append(opts, research.WithEnricher(research.NewPageEnricher(cfg.Research.BrowserURL, logger)))
	}
	return research.NewDuckDuckGo(opts...)
}

// consumePlain prints one line per progress event until the run ends.
func consumePlain(events <-chan pipeline.Event) {
	for ev := range events {
		switch ev.Type {
		case pipeline.EventAttemptStarted:
			fmt.Printf("[%s] attempt %d/%d\n", ev.Stage, ev.Attempt, ev.MaxAttempts)
		case pipeline.EventStageSucceeded:
			fmt.Printf("[%s] succeeded\n", ev.Stage)
		case pipeline.EventStageSkipped:
			fmt.Printf("[%s] skipped\n", ev.Stage)
		case pipeline.EventStageFailed:
			fmt.Printf("[%s] failed: %s\n", ev.Stage, ev.Err)
		}
	}
}

// showProgressUI runs the bubbletea view, forwarding pipeline events
// into the program. Quitting the view does not cancel the run.
func showProgressUI(sessionID string, events <-chan pipeline.Event) {
	program := tea.NewProgram(tui.NewModel(sessionID))
	go func() {
		for ev := range events {
			program.Send(ev)
		}
	}()
	if _, err := program.Run(); err != nil {
		logger.Warn("progress view failed, continuing headless", zap.Error(err))
		consumePlain(events)
	}
}

func stdoutIsTTY() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
