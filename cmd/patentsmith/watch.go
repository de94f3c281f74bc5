package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"patentsmith/internal/config"
	"patentsmith/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session directory and print artifact writes",
	Args:  cobra.ExactArgs(1),
	RunE:  watchSession,
}

func init() {
	watchCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "root directory holding session output")
}

func watchSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return usageError{err: err}
	}
	if runOutputDir != "" {
		cfg.OutputDir = runOutputDir
	}
	cfg.Normalize()

	sessionDir := filepath.Join(cfg.OutputDir, args[0])
	if _, err := os.Stat(sessionDir); err != nil {
		return usageErrorf("session directory %s: %v", sessionDir, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New(sessionDir, watch.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("watching %s (ctrl-c to stop)\n", sessionDir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-w.Changes():
			if !ok {
				return nil
			}
			fmt.Println(watch.Describe(change))
		}
	}
}
