package syncdelta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/aggregation"
	"github.com/steveyegge/contactsdb/internal/storage/sqlite"
	"github.com/steveyegge/contactsdb/internal/types"
)

const exampleSyncTarget = types.SyncTarget("phone")

func newTestSyncer(t *testing.T) (*Syncer, *sqlite.Store, *aggregation.Engine) {
	t.Helper()
	s, err := sqlite.New(context.Background(), sqlite.Config{Path: t.TempDir() + "/sync_test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	agg := aggregation.New(s)
	syncer := New(s, agg)
	return syncer, s, agg
}

func TestUpdatePreserveRemoteChangesNotSupported(t *testing.T) {
	ctx := context.Background()
	syncer, _, _ := newTestSyncer(t)
	err := syncer.Update(ctx, exampleSyncTarget, PreserveRemoteChanges, nil)
	assert.Error(t, err)
}

func TestUpdateCreationAttachesNewRemoteContact(t *testing.T) {
	ctx := context.Background()
	syncer, s, _ := newTestSyncer(t)

	updated := &types.Contact{
		ID: 1, // nonzero marks "non-empty" for the pair interpretation
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": "Remote", "LastName": "Person"}},
		},
	}
	err := syncer.Update(ctx, exampleSyncTarget, PreserveLocalChanges, []Pair{
		{OriginalRemote: nil, UpdatedRemote: updated},
	})
	require.NoError(t, err)

	ids, err := s.ListContactIDs(ctx, exampleSyncTarget)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	aggID, ok, err := s.AggregateOf(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotZero(t, aggID)
}

func TestFetchReturnsAddedForNewLocalContact(t *testing.T) {
	ctx := context.Background()
	syncer, s, agg := newTestSyncer(t)

	c := &types.Contact{
		SyncTarget: types.SyncTargetLocal,
		Created:    time.Now(),
		Modified:   time.Now(),
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": "Barbara", "LastName": "Liskov"}},
		},
	}
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id
	_, err = agg.AttachOrCreate(ctx, c)
	require.NoError(t, err)

	result, err := syncer.Fetch(ctx, exampleSyncTarget, -1, nil)
	require.NoError(t, err)
	require.Len(t, result.Added, 1)
	name, ok := result.Added[0].FirstDetailOfType(types.DetailName)
	require.True(t, ok)
	assert.Equal(t, "Barbara", name.Fields["FirstName"])
}

func TestUpdateDeletionPrunesChildlessAggregate(t *testing.T) {
	ctx := context.Background()
	syncer, s, agg := newTestSyncer(t)

	c := &types.Contact{
		SyncTarget: exampleSyncTarget,
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": "Vint", "LastName": "Cerf"}},
		},
	}
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id
	aggID, err := agg.AttachOrCreate(ctx, c)
	require.NoError(t, err)

	err = syncer.Update(ctx, exampleSyncTarget, PreserveLocalChanges, []Pair{
		{OriginalRemote: c, UpdatedRemote: nil},
	})
	require.NoError(t, err)

	exists, _, err := s.ContactExists(ctx, aggID)
	require.NoError(t, err)
	assert.False(t, exists, "aggregate left with no live constituents must be pruned")
}

func TestUpdateModificationRegeneratesAggregate(t *testing.T) {
	ctx := context.Background()
	syncer, s, agg := newTestSyncer(t)

	c := &types.Contact{
		SyncTarget: types.SyncTargetLocal,
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": "Radia", "LastName": "Perlman"}},
		},
	}
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id
	aggID, err := agg.AttachOrCreate(ctx, c)
	require.NoError(t, err)

	original := &types.Contact{ID: id, Details: append([]types.Detail(nil), c.Details...)}
	updated := &types.Contact{ID: id, Details: append(append([]types.Detail(nil), c.Details...),
		types.Detail{Type: types.DetailBirthday, Fields: map[string]any{"BirthDate": "1951-12-18"}})}

	err = syncer.Update(ctx, exampleSyncTarget, PreserveLocalChanges, []Pair{
		{OriginalRemote: original, UpdatedRemote: updated},
	})
	require.NoError(t, err)

	agg1, err := s.GetContact(ctx, aggID)
	require.NoError(t, err)
	assert.Len(t, agg1.DetailsOfType(types.DetailBirthday), 1, "composed addition must be re-promoted into the aggregate")
}

func TestFetchExportReturnsWholeAggregateMinusNonexportable(t *testing.T) {
	ctx := context.Background()
	syncer, s, agg := newTestSyncer(t)

	c := &types.Contact{
		SyncTarget: types.SyncTargetLocal,
		Created:    time.Now(),
		Modified:   time.Now(),
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": "Radia", "LastName": "Perlman"}},
			{Type: types.DetailNote, Fields: map[string]any{"Note": "secret"}, Nonexportable: true},
		},
	}
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id
	aggID, err := agg.AttachOrCreate(ctx, c)
	require.NoError(t, err)

	result, err := syncer.Fetch(ctx, types.SyncTargetExport, -1, []int32{aggID})
	require.NoError(t, err)
	require.Len(t, result.Changed, 2, "the bootstrapped self aggregate is returned too")
	var exported *types.Contact
	for _, changed := range result.Changed {
		if changed.ID == aggID {
			exported = changed
		}
	}
	require.NotNil(t, exported)
	assert.Empty(t, exported.DetailsOfType(types.DetailNote))
}
