package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cxapython/armtrace/internal/query"
)

func newForwardCmd() *cobra.Command {
	var tf traceFlags
	var idx int
	var regs []string
	var sameCallOnly bool
	var maxSteps int
	var trackMemory bool
	var advanced bool

	cmd := &cobra.Command{
		Use:   "forward",
		Short: "run the forward taint engine from an event index",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, &tf)
			if err != nil {
				return err
			}
			req := query.ForwardRequest{
				StartIdx:     idx,
				SourceRegs:   regs,
				SameCallOnly: sameCallOnly,
				MaxSteps:     maxSteps,
				TrackMemory:  trackMemory,
			}
			var hits []int
			if advanced {
				hits = sess.AdvancedTaint(req)
			} else {
				hits = sess.TaintForward(req)
			}
			for _, i := range hits {
				fmt.Fprintln(cmd.OutOrStdout(), i)
			}
			return nil
		},
	}
	bindTraceFlags(cmd, &tf)
	cmd.Flags().IntVar(&idx, "index", 0, "start event index")
	cmd.Flags().StringSliceVar(&regs, "reg", nil, "source register(s) to taint (repeatable)")
	cmd.Flags().BoolVar(&sameCallOnly, "same-call-only", false, "restrict propagation to the starting call frame")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "step budget (0 = default for the mode)")
	cmd.Flags().BoolVar(&trackMemory, "track-memory", true, "enable byte-level memory taint")
	cmd.Flags().BoolVar(&advanced, "advanced", false, "use the advanced-mode step budget")
	cmd.MarkFlagRequired("reg")
	return cmd
}
