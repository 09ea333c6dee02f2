package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/syncdelta"
	"github.com/steveyegge/contactsdb/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drive the sync-delta protocol (component G) for a remote target",
}

var (
	syncTarget string
	syncSince  int64
)

var syncFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch changed/added/deleted contacts for a sync target since a timestamp",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncTarget == "" {
			return engineerr.New(engineerr.BadArgument, "sync fetch", "--target is required")
		}
		result, err := sync_.Fetch(rootCtx, types.SyncTarget(syncTarget), syncSince, nil)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var syncUpdateFile string
var syncUpdatePolicy string

var syncUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply remote (contactId, original, updated) pairs read from --file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncTarget == "" {
			return engineerr.New(engineerr.BadArgument, "sync update", "--target is required")
		}
		if syncUpdateFile == "" {
			return engineerr.New(engineerr.BadArgument, "sync update", "--file is required")
		}
		raw, err := os.ReadFile(syncUpdateFile)
		if err != nil {
			return err
		}
		var pairs []syncdelta.Pair
		if err := json.Unmarshal(raw, &pairs); err != nil {
			return fmt.Errorf("parsing %s: %w", syncUpdateFile, err)
		}
		policy := syncdelta.ConflictPolicy(syncUpdatePolicy)
		if policy == "" {
			policy = syncdelta.PreserveLocalChanges
		}
		return sync_.Update(rootCtx, types.SyncTarget(syncTarget), policy, pairs)
	},
}

func init() {
	syncCmd.PersistentFlags().StringVar(&syncTarget, "target", "", "Sync target name (e.g. export, or a remote service name)")
	syncFetchCmd.Flags().Int64Var(&syncSince, "since", 0, "Unix timestamp; only changes after this time are returned")
	syncUpdateCmd.Flags().StringVar(&syncUpdateFile, "file", "", "JSON file containing a []syncdelta.Pair array")
	syncUpdateCmd.Flags().StringVar(&syncUpdatePolicy, "policy", string(syncdelta.PreserveLocalChanges), "Conflict policy: PreserveLocalChanges or PreserveRemoteChanges")

	syncCmd.AddCommand(syncFetchCmd, syncUpdateCmd)
	rootCmd.AddCommand(syncCmd)
}
