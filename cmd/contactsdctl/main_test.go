package main

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/storage/sqlite"
	"github.com/steveyegge/contactsdb/internal/types"
)

// run executes rootCmd with args against a fresh --db under t.TempDir(),
// capturing combined stdout (cobra's own, not fmt.Print* writes made by
// RunE bodies that go straight to os.Stdout).
func run(t *testing.T, dbPath string, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append([]string{"--db", dbPath}, args...))
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCtx = context.Background()
	return rootCmd.Execute()
}

func itoa(id int32) string { return strconv.Itoa(int(id)) }

// localIDs reopens dbPath (the CLI closes its store after every command)
// and lists its local contact ids in ascending order.
func localIDs(t *testing.T, dbPath string) []int32 {
	t.Helper()
	s, err := sqlite.New(context.Background(), sqlite.Config{Path: dbPath})
	require.NoError(t, err)
	defer s.Close()
	ids, err := s.ListContactIDs(context.Background(), types.SyncTargetLocal)
	require.NoError(t, err)
	return ids
}

func TestSaveGetListRemove(t *testing.T) {
	dbPath := t.TempDir() + "/cli_test.db"

	require.NoError(t, run(t, dbPath, "save", "--first", "Ada", "--last", "Lovelace"))

	// The bootstrapped self contact (id 1) is local too; the saved contact
	// comes after it.
	ids := localIDs(t, dbPath)
	require.Len(t, ids, 2)
	require.Equal(t, types.SelfLocalContactID, ids[0])

	require.NoError(t, run(t, dbPath, "get", itoa(ids[1])))
	require.NoError(t, run(t, dbPath, "list", "--target", "local"))
	require.NoError(t, run(t, dbPath, "remove", itoa(ids[1])))
}

func TestMarkNotSameRejectsSelfPair(t *testing.T) {
	dbPath := t.TempDir() + "/cli_notsame_test.db"
	require.NoError(t, run(t, dbPath, "save", "--first", "Grace", "--last", "Hopper"))

	ids := localIDs(t, dbPath)
	require.Len(t, ids, 2)
	require.Equal(t, types.SelfLocalContactID, ids[0])

	err := run(t, dbPath, "mark-not-same", itoa(ids[1]), itoa(ids[1]))
	require.Error(t, err)
}
