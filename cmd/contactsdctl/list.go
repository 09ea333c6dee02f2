package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/contactsdb/internal/types"
)

var listTarget string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List contact ids for a sync target (default: local)",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := types.SyncTarget(listTarget)
		if target == "" {
			target = types.SyncTargetLocal
		}
		ids, err := store.ListContactIDs(rootCtx, target)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listTarget, "target", "local", "Sync target: local, was_local, aggregate, export, or a remote name")
	rootCmd.AddCommand(listCmd)
}
