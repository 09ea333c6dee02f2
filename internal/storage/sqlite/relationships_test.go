package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/types"
)

func mustCreate(t *testing.T, s *Store, target types.SyncTarget) int32 {
	t.Helper()
	id, err := s.CreateContact(context.Background(), newContact(target, "X", "Y"))
	require.NoError(t, err)
	return id
}

func TestAddAndQueryRelationships(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	agg := mustCreate(t, s, types.SyncTargetAggregate)
	constituent := mustCreate(t, s, types.SyncTargetLocal)

	err := s.AddRelationships(ctx, []types.Relationship{
		{FirstID: agg, SecondID: constituent, Type: types.RelationshipAggregates},
	})
	require.NoError(t, err)

	constituents, err := s.ConstituentsOf(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, []int32{constituent}, constituents)

	aggID, ok, err := s.AggregateOf(ctx, constituent)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, agg, aggID)
}

func TestAddRelationshipsDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustCreate(t, s, types.SyncTargetAggregate)
	b := mustCreate(t, s, types.SyncTargetLocal)

	rel := types.Relationship{FirstID: a, SecondID: b, Type: types.RelationshipAggregates}
	require.NoError(t, s.AddRelationships(ctx, []types.Relationship{rel, rel}))

	rels, err := s.RelationshipsFor(ctx, a)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestAddRelationshipsRejectsSelfEdge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustCreate(t, s, types.SyncTargetAggregate)
	err := s.AddRelationships(ctx, []types.Relationship{{FirstID: a, SecondID: a, Type: types.RelationshipIsNot}})
	assert.Error(t, err)
}

func TestRemoveRelationshipsNonexistentReturnsDoesNotExist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustCreate(t, s, types.SyncTargetAggregate)
	b := mustCreate(t, s, types.SyncTargetLocal)

	err := s.RemoveRelationships(ctx, []types.Relationship{{FirstID: a, SecondID: b, Type: types.RelationshipAggregates}})
	assert.Error(t, err)
}

func TestIsNot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := mustCreate(t, s, types.SyncTargetAggregate)
	b := mustCreate(t, s, types.SyncTargetAggregate)

	isNot, err := s.IsNot(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, isNot)

	require.NoError(t, s.AddRelationships(ctx, []types.Relationship{{FirstID: a, SecondID: b, Type: types.RelationshipIsNot}}))

	isNot, err = s.IsNot(ctx, b, a)
	require.NoError(t, err)
	assert.True(t, isNot, "IsNot must be order-independent")
}
