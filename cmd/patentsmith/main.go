// patentsmith drives an LLM backend through an eight-stage pipeline
// that turns a technical disclosure into a complete CN patent draft.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"patentsmith/internal/errs"
	"patentsmith/internal/logging"
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

// usageError marks configuration and usage failures that exit with
// code 2 instead of the pipeline-failure code 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "patentsmith",
	Short: "patentsmith - LLM patent document pipeline",
	Long: `patentsmith turns a technical disclosure document into a complete
CN patent application draft (abstract, claims, description, mermaid
figures) through a fixed eight-stage generation pipeline.

Every stage persists its artifacts under the session directory before
the next stage starts, so partial output survives any failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to patentsmith.json config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(backendsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps failures to the documented exit codes: 2 for
// configuration and usage problems, 1 for pipeline failures.
func exitCodeFor(err error) int {
	var ue usageError
	if errors.As(err, &ue) || errs.Is(err, errs.AuthenticationFailure) {
		return 2
	}
	return 1
}
