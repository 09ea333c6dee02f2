package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/types"
)

func newContact(syncTarget types.SyncTarget, first, last string) *types.Contact {
	return &types.Contact{
		SyncTarget: syncTarget,
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": first, "LastName": last}},
			{Type: types.DetailEmailAddress, Fields: map[string]any{"Address": first + "@example.com"}},
		},
	}
}

func TestCreateAndGetContact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := newContact(types.SyncTargetLocal, "Ada", "Lovelace")
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := s.GetContact(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.SyncTargetLocal, got.SyncTarget)

	name, ok := got.FirstDetailOfType(types.DetailName)
	require.True(t, ok)
	assert.Equal(t, "Ada", name.Fields["FirstName"])
	assert.Equal(t, "Lovelace", name.Fields["LastName"])

	email, ok := got.FirstDetailOfType(types.DetailEmailAddress)
	require.True(t, ok)
	assert.Equal(t, "Ada@example.com", email.Fields["Address"])
}

func TestContactExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exists, _, err := s.ContactExists(ctx, 999)
	require.NoError(t, err)
	assert.False(t, exists)

	id, err := s.CreateContact(ctx, newContact(types.SyncTargetLocal, "Grace", "Hopper"))
	require.NoError(t, err)

	exists, target, err := s.ContactExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, types.SyncTargetLocal, target)
}

func TestUpdateContactFullRewrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := newContact(types.SyncTargetLocal, "Alan", "Turing")
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)

	updated := newContact(types.SyncTargetLocal, "Alan", "Turing")
	updated.Details = append(updated.Details, types.Detail{Type: types.DetailNickname, Fields: map[string]any{"Nickname": "Prof"}})
	require.NoError(t, s.UpdateContact(ctx, id, updated, nil))

	got, err := s.GetContact(ctx, id)
	require.NoError(t, err)
	nick, ok := got.FirstDetailOfType(types.DetailNickname)
	require.True(t, ok)
	assert.Equal(t, "Prof", nick.Fields["Nickname"])
}

func TestUpdateContactMaskedRewrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := newContact(types.SyncTargetLocal, "Barbara", "Liskov")
	c.Details = append(c.Details, types.Detail{Type: types.DetailNickname, Fields: map[string]any{"Nickname": "Barb"}})
	id, err := s.CreateContact(ctx, c)
	require.NoError(t, err)

	mask := storage.NewMask(types.DetailEmailAddress)
	updated := &types.Contact{
		SyncTarget: types.SyncTargetLocal,
		Details: []types.Detail{
			{Type: types.DetailEmailAddress, Fields: map[string]any{"Address": "barbara@acm.org"}},
		},
	}
	require.NoError(t, s.UpdateContact(ctx, id, updated, mask))

	got, err := s.GetContact(ctx, id)
	require.NoError(t, err)

	email, ok := got.FirstDetailOfType(types.DetailEmailAddress)
	require.True(t, ok)
	assert.Equal(t, "barbara@acm.org", email.Fields["Address"])

	nick, ok := got.FirstDetailOfType(types.DetailNickname)
	require.True(t, ok, "nickname outside the mask must survive untouched")
	assert.Equal(t, "Barb", nick.Fields["Nickname"])
}

func TestRemoveContactsWritesTombstone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateContact(ctx, newContact(types.SyncTargetLocal, "Edsger", "Dijkstra"))
	require.NoError(t, err)

	require.NoError(t, s.RemoveContacts(ctx, []int32{id}))

	exists, _, err := s.ContactExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	tombstones, err := s.TombstonesSince(ctx, types.SyncTargetLocal, 0, nil)
	require.NoError(t, err)
	var found bool
	for _, ts := range tombstones {
		if ts.ContactID == id {
			found = true
		}
	}
	assert.True(t, found, "expected a tombstone for the removed contact")
}

func TestRemoveContactsRejectsSelfContacts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RemoveContacts(ctx, []int32{types.SelfLocalContactID})
	require.Error(t, err)
	assert.Equal(t, engineerr.BadArgument, engineerr.Of(err))

	err = s.RemoveContacts(ctx, []int32{types.SelfAggregateContactID})
	require.Error(t, err)
	assert.Equal(t, engineerr.BadArgument, engineerr.Of(err))

	exists, _, err := s.ContactExists(ctx, types.SelfLocalContactID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListContactIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, err := s.CreateContact(ctx, newContact(types.SyncTargetLocal, "Katherine", "Johnson"))
	require.NoError(t, err)
	_, err = s.CreateContact(ctx, newContact(types.SyncTargetAggregate, "Katherine", "Johnson"))
	require.NoError(t, err)

	ids, err := s.ListContactIDs(ctx, types.SyncTargetLocal)
	require.NoError(t, err)
	assert.Contains(t, ids, id1)
	assert.Len(t, ids, 2, "the bootstrapped self contact is local too")
}
