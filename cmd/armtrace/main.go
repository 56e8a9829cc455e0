// Command armtrace is the subcommand CLI surface over the Query Façade:
// parse a trace, reconstruct registers, and run forward/backward taint
// queries from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "armtrace",
		Short: "ARM32/ARM64 instruction trace analyzer",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(withLogger(cmd.Context(), newLogger(verbose)))
		return nil
	}

	root.AddCommand(
		newRegsCmd(),
		newForwardCmd(),
		newBackwardCmd(),
		newChainCmd(),
		newProvenanceCmd(),
		newCandidatesCmd(),
	)
	return root
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
