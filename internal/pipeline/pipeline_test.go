package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/contactsdb/internal/aggregation"
	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/storage/sqlite"
	"github.com/steveyegge/contactsdb/internal/transient"
	"github.com/steveyegge/contactsdb/internal/types"
)

type recordingNotifier struct {
	added, changed, presence, removed []int32
	targets                           []types.SyncTarget
}

func (n *recordingNotifier) ContactsAdded(ids []int32)                 { n.added = ids }
func (n *recordingNotifier) ContactsChanged(ids []int32)               { n.changed = ids }
func (n *recordingNotifier) ContactsPresenceChanged(ids []int32)       { n.presence = ids }
func (n *recordingNotifier) SyncTargetsChanged(ts []types.SyncTarget)  { n.targets = ts }
func (n *recordingNotifier) ContactsRemoved(ids []int32)               { n.removed = ids }

func newTestPipeline(t *testing.T) (*Pipeline, *sqlite.Store, *recordingNotifier) {
	t.Helper()
	s, err := sqlite.New(context.Background(), sqlite.Config{Path: t.TempDir() + "/pipeline_test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	agg := aggregation.New(s)
	n := &recordingNotifier{}
	p := New(s, agg, WithNotifier(n), WithTransient(transient.NewMemoryStore()))
	return p, s, n
}

func personContact(target types.SyncTarget, first, last string) *types.Contact {
	return &types.Contact{
		SyncTarget: target,
		Details: []types.Detail{
			{Type: types.DetailName, Fields: map[string]any{"FirstName": first, "LastName": last}},
		},
	}
}

func TestSaveCreatesAndAttachesAggregate(t *testing.T) {
	ctx := context.Background()
	p, s, n := newTestPipeline(t)

	c := personContact(types.SyncTargetLocal, "Jane", "Doe")
	result, err := p.Save(ctx, []*types.Contact{c}, nil)
	require.NoError(t, err)
	require.Len(t, result.Errors, 0)
	assert.NotZero(t, c.ID)
	assert.Equal(t, []int32{c.ID}, n.added)

	aggID, ok, err := s.AggregateOf(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)

	agg, err := s.GetContact(ctx, aggID)
	require.NoError(t, err)
	name, ok := agg.FirstDetailOfType(types.DetailName)
	require.True(t, ok)
	assert.Equal(t, "Jane", name.Fields["FirstName"])
}

func TestSaveRejectsMixedSyncTargets(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(t)

	batch := []*types.Contact{
		personContact(types.SyncTargetLocal, "A", "B"),
		personContact(types.SyncTargetAggregate, "C", "D"),
	}
	_, err := p.Save(ctx, batch, nil)
	assert.Error(t, err)
}

func TestSaveDerivesDisplayLabel(t *testing.T) {
	ctx := context.Background()
	p, s, _ := newTestPipeline(t)

	c := personContact(types.SyncTargetLocal, "Ada", "Lovelace")
	_, err := p.Save(ctx, []*types.Contact{c}, nil)
	require.NoError(t, err)

	stored, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	label, ok := stored.FirstDetailOfType(types.DetailDisplayLabel)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", label.Fields["Label"])
}

func TestSaveInvalidDetailTypeFails(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(t)

	c := &types.Contact{
		SyncTarget: types.SyncTargetLocal,
		Details:    []types.Detail{{Type: types.DetailType("Bogus")}},
	}
	_, err := p.Save(ctx, []*types.Contact{c}, nil)
	assert.Error(t, err)
}

func TestPresenceOnlyUpdateRoutesToTransient(t *testing.T) {
	ctx := context.Background()
	p, s, _ := newTestPipeline(t)

	c := personContact(types.SyncTargetLocal, "Rob", "Pike")
	_, err := p.Save(ctx, []*types.Contact{c}, nil)
	require.NoError(t, err)

	c.Details = append(c.Details, types.Detail{Type: types.DetailPresence, Fields: map[string]any{"PresenceState": int(types.PresenceAvailable)}})
	mask := storage.NewMask(types.DetailPresence)
	result, err := p.Save(ctx, []*types.Contact{c}, mask)
	require.NoError(t, err)
	assert.Equal(t, []int32{c.ID}, result.Changes.PresenceOnlyChanged)

	stored, err := s.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.DetailsOfType(types.DetailPresence), "presence-only write must not hit durable storage")
}

func TestRemoveEmitsRemovedNotification(t *testing.T) {
	ctx := context.Background()
	p, _, n := newTestPipeline(t)

	c := personContact(types.SyncTargetLocal, "Tim", "Berners-Lee")
	_, err := p.Save(ctx, []*types.Contact{c}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Remove(ctx, []int32{c.ID}))
	assert.Equal(t, []int32{c.ID}, n.removed)
}

func TestRemoveRejectsSelfContacts(t *testing.T) {
	ctx := context.Background()
	p, s, n := newTestPipeline(t)

	err := p.Remove(ctx, []int32{types.SelfLocalContactID})
	require.Error(t, err)
	assert.Equal(t, engineerr.BadArgument, engineerr.Of(err))

	err = p.Remove(ctx, []int32{types.SelfAggregateContactID})
	require.Error(t, err)
	assert.Equal(t, engineerr.BadArgument, engineerr.Of(err))

	assert.Nil(t, n.removed, "rejected removal must not emit a notification")

	exists, _, existsErr := s.ContactExists(ctx, types.SelfLocalContactID)
	require.NoError(t, existsErr)
	assert.True(t, exists, "self contact must remain in the DB")
}
