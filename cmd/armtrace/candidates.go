package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newCandidatesCmd() *cobra.Command {
	var tf traceFlags
	var reg string
	var valueStr string

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "list events where a register was observed with a given value",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, &tf)
			if err != nil {
				return err
			}
			value, err := parseUint64(valueStr)
			if err != nil {
				return fmt.Errorf("armtrace: --value: %w", err)
			}
			for _, c := range sess.FindValueCandidates(reg, value) {
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", c.Index, c.Summary)
			}
			return nil
		},
	}
	bindTraceFlags(cmd, &tf)
	cmd.Flags().StringVar(&reg, "reg", "", "register name")
	cmd.Flags().StringVar(&valueStr, "value", "", "observed value, decimal or 0x-prefixed hex")
	cmd.MarkFlagRequired("reg")
	cmd.MarkFlagRequired("value")
	return cmd
}

func parseUint64(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
