package contactsdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb"
	"github.com/steveyegge/contactsdb/internal/config"
)

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	ctx := context.Background()
	engine, err := contactsdb.Open(ctx, dbPath, config.Defaults())
	require.NoError(t, err)
	defer engine.Close()

	require.NotNil(t, engine.Storage)
	require.NotNil(t, engine.Aggregation)
	require.NotNil(t, engine.Pipeline)
	require.NotNil(t, engine.Sync)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	ctx := context.Background()
	_, err := contactsdb.Open(ctx, "", config.Defaults())
	require.Error(t, err)
}
