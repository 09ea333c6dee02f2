package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/contactsdb/internal/engineerr"
)

var removeCmd = &cobra.Command{
	Use:   "remove <contactId...>",
	Short: "Remove one or more contacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int32, 0, len(args))
		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 32)
			if err != nil {
				return engineerr.New(engineerr.BadArgument, "remove", "contactId must be an integer: "+a)
			}
			ids = append(ids, int32(id))
		}
		return pipe.Remove(rootCtx, ids)
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
