package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"patentsmith/internal/artifact"
	"patentsmith/internal/config"
	"patentsmith/internal/prompt"
)

var showRaw bool

// previewBudget bounds the rendered document, keeping head and tail.
const previewBudget = 20000

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Render the final patent document of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  showPatent,
}

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "print the raw markdown without rendering")
	showCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "root directory holding session output")
}

func showPatent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return usageError{err: err}
	}
	if runOutputDir != "" {
		cfg.OutputDir = runOutputDir
	}
	cfg.Normalize()

	store := artifact.NewStore(filepath.Join(cfg.OutputDir, args[0]))
	doc, err := store.ReadText(artifact.CompletePatent)
	if err != nil {
		return usageErrorf("session %s has no final document: %v", args[0], err)
	}
	doc = prompt.Trim(doc, previewBudget)

	if showRaw {
		fmt.Println(doc)
		return nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(doc)
		return nil
	}
	rendered, err := renderer.Render(doc)
	if err != nil {
		fmt.Println(doc)
		return nil
	}
	fmt.Print(rendered)
	return nil
}
