package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cxapython/armtrace/internal/query"
)

func parseSide(s string) (query.Side, error) {
	switch s {
	case "before":
		return query.SideBefore, nil
	case "after":
		return query.SideAfter, nil
	default:
		return 0, fmt.Errorf("armtrace: --side must be \"before\" or \"after\", got %q", s)
	}
}

func newChainCmd() *cobra.Command {
	var tf traceFlags
	var idx int
	var reg string
	var side string

	cmd := &cobra.Command{
		Use:   "chain",
		Short: "walk the basic value chain for a register from an event index (memory-unaware forward, memory-hopping backward)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, &tf)
			if err != nil {
				return err
			}
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			for _, i := range sess.ValueChain(reg, idx, s) {
				fmt.Fprintln(cmd.OutOrStdout(), i)
			}
			return nil
		},
	}
	bindTraceFlags(cmd, &tf)
	cmd.Flags().IntVar(&idx, "index", 0, "start event index")
	cmd.Flags().StringVar(&reg, "reg", "", "register to follow")
	cmd.Flags().StringVar(&side, "side", "after", "direction: before or after")
	cmd.MarkFlagRequired("reg")
	return cmd
}
