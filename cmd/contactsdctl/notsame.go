package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/contactsdb/internal/engineerr"
)

var notSameCmd = &cobra.Command{
	Use:   "mark-not-same <contactIdA> <contactIdB>",
	Short: "Record that two contacts must never be aggregated together",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return engineerr.New(engineerr.BadArgument, "mark-not-same", "contactIdA must be an integer")
		}
		b, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return engineerr.New(engineerr.BadArgument, "mark-not-same", "contactIdB must be an integer")
		}
		return agg.MarkNotSame(rootCtx, int32(a), int32(b))
	},
}

func init() {
	rootCmd.AddCommand(notSameCmd)
}
