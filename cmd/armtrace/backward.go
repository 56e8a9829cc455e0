package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cxapython/armtrace/internal/query"
)

func newBackwardCmd() *cobra.Command {
	var tf traceFlags
	var idx int
	var reg string
	var sameCallOnly bool
	var maxSteps int

	cmd := &cobra.Command{
		Use:   "backward",
		Short: "run the backward taint engine from an event index, reporting termination tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, &tf)
			if err != nil {
				return err
			}
			res := sess.TaintBackward(query.BackwardRequest{
				StartIdx:     idx,
				Reg:          reg,
				SameCallOnly: sameCallOnly,
				MaxSteps:     maxSteps,
			})
			for _, i := range res.Hits {
				fmt.Fprintln(cmd.OutOrStdout(), i)
			}
			for _, t := range res.Terminations {
				fmt.Fprintf(cmd.OutOrStdout(), "# termination: index=%d reg=%s tag=%s\n", t.Index, t.Reg, t.Tag)
			}
			if res.BudgetExceeded {
				fmt.Fprintln(cmd.OutOrStdout(), "# budget exceeded")
			}
			return nil
		},
	}
	bindTraceFlags(cmd, &tf)
	cmd.Flags().IntVar(&idx, "index", 0, "start event index")
	cmd.Flags().StringVar(&reg, "reg", "", "target register")
	cmd.Flags().BoolVar(&sameCallOnly, "same-call-only", false, "restrict propagation to the starting call frame")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "step budget (0 = default)")
	cmd.MarkFlagRequired("reg")
	return cmd
}
