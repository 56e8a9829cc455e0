package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProvenanceCmd() *cobra.Command {
	var tf traceFlags
	var idx int
	var reg string
	var side string

	cmd := &cobra.Command{
		Use:   "provenance",
		Short: "build the provenance graph for a register from an event index",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, &tf)
			if err != nil {
				return err
			}
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			nodes, edges := sess.ProvenanceGraph(reg, idx, s)
			for _, n := range nodes {
				fmt.Fprintf(cmd.OutOrStdout(), "node %d\n", n)
			}
			for _, e := range edges {
				fmt.Fprintf(cmd.OutOrStdout(), "edge %s %d -> %d (%s)\n", e.Kind, e.Src, e.Dst, e.Meta)
			}
			return nil
		},
	}
	bindTraceFlags(cmd, &tf)
	cmd.Flags().IntVar(&idx, "index", 0, "start event index")
	cmd.Flags().StringVar(&reg, "reg", "", "register to trace")
	cmd.Flags().StringVar(&side, "side", "before", "direction: before or after")
	cmd.MarkFlagRequired("reg")
	return cmd
}
