package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/types"
)

func TestSetAndGetIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := mustCreate(t, s, types.SyncTargetLocal)
	require.NoError(t, s.SetIdentity(ctx, types.IdentitySelfContactID, id))

	got, ok, err := s.GetIdentity(ctx, types.IdentitySelfContactID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestSetIdentitySelfContactIDCannotBeRetargeted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := mustCreate(t, s, types.SyncTargetLocal)
	second := mustCreate(t, s, types.SyncTargetAggregate)

	require.NoError(t, s.SetIdentity(ctx, types.IdentitySelfContactID, first))
	err := s.SetIdentity(ctx, types.IdentitySelfContactID, second)
	assert.Error(t, err)
}

func TestGetIdentityMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetIdentity(ctx, types.IdentityName("nonexistent"))
	require.NoError(t, err)
	assert.False(t, ok)
}
