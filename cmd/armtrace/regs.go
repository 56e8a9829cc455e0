package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newRegsCmd() *cobra.Command {
	var tf traceFlags
	var idx int

	cmd := &cobra.Command{
		Use:   "regs",
		Short: "print the register map observable after a given event index",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, &tf)
			if err != nil {
				return err
			}
			if idx < 0 || idx >= sess.Len() {
				return fmt.Errorf("armtrace: index %d out of range (0..%d)", idx, sess.Len()-1)
			}
			regs := sess.RegsAt(idx)

			names := make([]string, 0, len(regs))
			for name := range regs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = 0x%x\n", name, regs[name])
			}
			return nil
		},
	}
	bindTraceFlags(cmd, &tf)
	cmd.Flags().IntVar(&idx, "index", 0, "event index")
	return cmd
}
