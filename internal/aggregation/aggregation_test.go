package aggregation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/storage/sqlite"
	"github.com/steveyegge/contactsdb/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.New(context.Background(), sqlite.Config{Path: t.TempDir() + "/agg_test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func nameContact(target types.SyncTarget, first, last string) *types.Contact {
	return &types.Contact{
		SyncTarget: target,
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": first, "LastName": last}},
		},
	}
}

func TestAttachOrCreateMintsFreshAggregateWhenNoMatch(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	c := nameContact(types.SyncTargetLocal, "Ada", "Lovelace")
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id

	aggID, err := e.AttachOrCreate(ctx, c)
	require.NoError(t, err)
	assert.NotZero(t, aggID)

	agg, err := s.GetContact(ctx, aggID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncTargetAggregate, agg.SyncTarget)
	name, ok := agg.FirstDetailOfType(types.DetailName)
	require.True(t, ok)
	assert.Equal(t, "Ada", name.Fields["FirstName"])
}

func TestAttachOrCreateAttachesMatchingSecondContact(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	first := nameContact(types.SyncTargetLocal, "Grace", "Hopper")
	id1, err := s.CreateContact(ctx, first)
	require.NoError(t, err)
	first.ID = id1
	agg1, err := e.AttachOrCreate(ctx, first)
	require.NoError(t, err)

	second := nameContact(types.SyncTargetWasLocal, "Grace", "Hopper")
	id2, err := s.CreateContact(ctx, second)
	require.NoError(t, err)
	second.ID = id2
	agg2, err := e.AttachOrCreate(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, agg1, agg2, "same full name should attach to the same aggregate")

	constituents, err := s.ConstituentsOf(ctx, agg1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{id1, id2}, constituents)
}

func TestMarkNotSamePreventsMatching(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	first := nameContact(types.SyncTargetLocal, "Grace", "Hopper")
	id1, err := s.CreateContact(ctx, first)
	require.NoError(t, err)
	first.ID = id1
	agg1, err := e.AttachOrCreate(ctx, first)
	require.NoError(t, err)

	second := nameContact(types.SyncTargetWasLocal, "Grace", "Hopper")
	id2, err := s.CreateContact(ctx, second)
	require.NoError(t, err)
	second.ID = id2

	require.NoError(t, e.MarkNotSame(ctx, agg1, id2))

	agg2, err := e.AttachOrCreate(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, agg1, agg2, "IsNot edge must block attachment")
}

func TestMarkNotSameRejectsSelf(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	err := e.MarkNotSame(ctx, 5, 5)
	assert.Error(t, err)
}

func TestPromoteCopiesNonComposedDetailOnce(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	c := nameContact(types.SyncTargetLocal, "Linus", "Torvalds")
	c.Details = append(c.Details, types.Detail{Type: types.DetailEmailAddress, Fields: map[string]any{"Address": "linus@example.com"}})
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id

	aggID, err := e.AttachOrCreate(ctx, c)
	require.NoError(t, err)

	agg, err := s.GetContact(ctx, aggID)
	require.NoError(t, err)
	emails := agg.DetailsOfType(types.DetailEmailAddress)
	require.Len(t, emails, 1)
	assert.Equal(t, "linus@example.com", emails[0].Fields["Address"])

	// Promoting again (e.g. a second write of the same constituent) must
	// not duplicate the already-equivalent detail.
	require.NoError(t, e.Promote(ctx, aggID, c))
	agg, err = s.GetContact(ctx, aggID)
	require.NoError(t, err)
	assert.Len(t, agg.DetailsOfType(types.DetailEmailAddress), 1)
}

func TestPruneAndRecoverRemovesChildlessAggregate(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	c := nameContact(types.SyncTargetLocal, "Margaret", "Hamilton")
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id
	aggID, err := e.AttachOrCreate(ctx, c)
	require.NoError(t, err)

	require.NoError(t, s.RemoveRelationships(ctx, []types.Relationship{
		{FirstID: aggID, SecondID: id, Type: types.RelationshipAggregates},
	}))

	require.NoError(t, e.PruneAndRecover(ctx, []int32{aggID}))

	exists, _, err := s.ContactExists(ctx, aggID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMatchCandidateNeverAttachesToSelfAggregate(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	// The self aggregate (contactId 2) has no Name/Gender details, so it
	// would otherwise pass eligible()'s empty-vs-empty checks for any
	// nameless incoming contact and collect constituents it must never have
	// (spec.md §4.E.1, invariant 7).
	c := &types.Contact{SyncTarget: types.SyncTargetLocal}
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id

	aggID, err := e.AttachOrCreate(ctx, c)
	require.NoError(t, err)
	assert.NotEqual(t, types.SelfAggregateContactID, aggID)

	constituents, err := s.ConstituentsOf(ctx, types.SelfAggregateContactID)
	require.NoError(t, err)
	assert.Empty(t, constituents)
}

func TestRecoverOrphansReattachesConstituent(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)

	c := nameContact(types.SyncTargetLocal, "Katherine", "Johnson")
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	c.ID = id

	require.NoError(t, e.RecoverOrphans(ctx, []int32{id}))

	aggID, ok, err := s.AggregateOf(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotZero(t, aggID)
}
