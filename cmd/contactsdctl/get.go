package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/contactsdb/internal/engineerr"
)

var getCmd = &cobra.Command{
	Use:   "get <contactId>",
	Short: "Fetch a contact by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return engineerr.New(engineerr.BadArgument, "get", "contactId must be an integer")
		}
		c, err := store.GetContact(rootCtx, int32(id))
		if err != nil {
			return err
		}
		return printContact(c)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
