// Package syncdelta implements the sync delta protocol (spec.md §4.G,
// component G): a timestamp-based fetch/update contract between the engine
// and an arbitrary sync target, including the reserved "export" target's
// whole-aggregate view.
package syncdelta

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/contactsdb/internal/aggregation"
	"github.com/steveyegge/contactsdb/internal/compare"
	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/schema"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/types"
)

// ConflictPolicy selects how Update reconciles a remote modification against
// a local value that may have changed since the remote last saw it
// (spec.md §4.G.2). Only PreserveLocalChanges is implemented.
type ConflictPolicy string

const (
	PreserveLocalChanges  ConflictPolicy = "PreserveLocalChanges"
	PreserveRemoteChanges ConflictPolicy = "PreserveRemoteChanges"
)

// Pair is one element of Update's pairs argument: the remote's view of a
// contact before and after its own edit.
type Pair struct {
	OriginalRemote *types.Contact // nil/zero-ID means "did not exist remotely"
	UpdatedRemote  *types.Contact
}

// FetchResult is fetch's return value.
type FetchResult struct {
	Changed      []*types.Contact
	Added        []*types.Contact
	Deleted      []int32
	NewTimestamp int64
}

// Syncer is component G.
type Syncer struct {
	store storage.Storage
	agg   *aggregation.Engine
}

// New builds a Syncer over store and agg. agg supplies Update's
// attach-or-create, aggregate-regeneration, and childless-pruning steps
// (spec.md §4.G.2's closing "regenerate the affected aggregates and run
// childless pruning").
func New(store storage.Storage, agg *aggregation.Engine) *Syncer {
	return &Syncer{store: store, agg: agg}
}

var tracer = otel.Tracer("github.com/steveyegge/contactsdb/syncdelta")

// Fetch implements spec.md §4.G.1.
func (s *Syncer) Fetch(ctx context.Context, target types.SyncTarget, since int64, exportedIDs []int32) (*FetchResult, error) {
	ctx, span := tracer.Start(ctx, "syncdelta.Fetch", trace.WithAttributes())
	defer span.End()

	if target == types.SyncTargetExport {
		return s.fetchExport(ctx, since, exportedIDs)
	}

	aggregateIDs, err := s.store.ListContactIDs(ctx, types.SyncTargetAggregate)
	if err != nil {
		return nil, err
	}
	exported := toSet(exportedIDs)

	result := &FetchResult{NewTimestamp: since}
	seenAdded := map[int32]bool{}

	for _, aggID := range aggregateIDs {
		constituents, err := s.store.ConstituentsOf(ctx, aggID)
		if err != nil {
			return nil, err
		}

		relevant := false
		maxModified := since
		for _, cid := range constituents {
			c, err := s.store.GetContact(ctx, cid)
			if err != nil {
				return nil, err
			}
			if c.SyncTarget == target && modifiedUnix(c) > since {
				relevant = true
			}
			if modifiedUnix(c) > maxModified {
				maxModified = modifiedUnix(c)
			}
		}
		if exported[aggID] && maxModified > since {
			relevant = true
		}
		if !relevant {
			continue
		}

		partial, err := buildPartialAggregate(ctx, s.store, aggID, constituents, target)
		if err != nil {
			return nil, err
		}
		if partial == nil {
			continue
		}
		result.Changed = append(result.Changed, partial)
		if maxModified > result.NewTimestamp {
			result.NewTimestamp = maxModified
		}
	}

	localIDs, err := s.store.ListContactIDs(ctx, types.SyncTargetLocal)
	if err != nil {
		return nil, err
	}
	for _, cid := range localIDs {
		c, err := s.store.GetContact(ctx, cid)
		if err != nil {
			return nil, err
		}
		if c.IsIncidental || createdUnix(c) <= since {
			continue
		}
		aggID, ok, err := s.store.AggregateOf(ctx, cid)
		if err != nil {
			return nil, err
		}
		if !ok || seenAdded[aggID] {
			continue
		}
		seenAdded[aggID] = true
		constituents, err := s.store.ConstituentsOf(ctx, aggID)
		if err != nil {
			return nil, err
		}
		partial, err := buildPartialAggregate(ctx, s.store, aggID, constituents, target)
		if err != nil {
			return nil, err
		}
		if partial != nil {
			result.Added = append(result.Added, partial)
		}
		if createdUnix(c) > result.NewTimestamp {
			result.NewTimestamp = createdUnix(c)
		}
	}

	tombstones, err := s.store.TombstonesSince(ctx, target, since, exportedIDs)
	if err != nil {
		return nil, err
	}
	for _, ts := range tombstones {
		result.Deleted = append(result.Deleted, ts.ContactID)
		if u := ts.DeletedAt.Unix(); u > result.NewTimestamp {
			result.NewTimestamp = u
		}
	}

	return result, nil
}

func (s *Syncer) fetchExport(ctx context.Context, since int64, exportedIDs []int32) (*FetchResult, error) {
	aggregateIDs, err := s.store.ListContactIDs(ctx, types.SyncTargetAggregate)
	if err != nil {
		return nil, err
	}
	result := &FetchResult{NewTimestamp: since}
	for _, aggID := range aggregateIDs {
		agg, err := s.store.GetContact(ctx, aggID)
		if err != nil {
			return nil, err
		}
		if modifiedUnix(agg) <= since {
			continue
		}
		result.Changed = append(result.Changed, stripNonexportable(agg))
		if modifiedUnix(agg) > result.NewTimestamp {
			result.NewTimestamp = modifiedUnix(agg)
		}
	}
	tombstones, err := s.store.TombstonesSince(ctx, types.SyncTargetExport, since, exportedIDs)
	if err != nil {
		return nil, err
	}
	for _, ts := range tombstones {
		result.Deleted = append(result.Deleted, ts.ContactID)
		if u := ts.DeletedAt.Unix(); u > result.NewTimestamp {
			result.NewTimestamp = u
		}
	}
	return result, nil
}

func stripNonexportable(c *types.Contact) *types.Contact {
	cp := *c
	cp.Details = nil
	for _, d := range c.Details {
		if !d.Nonexportable {
			cp.Details = append(cp.Details, d)
		}
	}
	return &cp
}

// buildPartialAggregate assembles the view of an aggregate visible to a
// given sync target: details only from constituents whose syncTarget is
// local, was_local, or equal to target (and, for target's own constituent,
// including incidentals). The partial's id is the base constituent id
// (target's own constituent if any, else the local one).
func buildPartialAggregate(ctx context.Context, store storage.Storage, aggID int32, constituentIDs []int32, target types.SyncTarget) (*types.Contact, error) {
	var base *types.Contact
	var localID int32
	details := make([]types.Detail, 0)

	for _, cid := range constituentIDs {
		c, err := store.GetContact(ctx, cid)
		if err != nil {
			return nil, err
		}
		include := c.SyncTarget == types.SyncTargetLocal ||
			c.SyncTarget == types.SyncTargetWasLocal ||
			c.SyncTarget == target
		if !include {
			continue
		}
		if c.SyncTarget == target {
			if c.IsIncidental || base == nil {
				base = c
			}
		}
		if c.SyncTarget == types.SyncTargetLocal {
			localID = cid
		}
		details = append(details, c.Details...)
	}
	if base == nil {
		if localID == 0 {
			return nil, nil
		}
		baseContact, err := store.GetContact(ctx, localID)
		if err != nil {
			return nil, err
		}
		base = baseContact
	}

	out := *base
	out.ID = base.ID
	out.Details = dedupDetails(details)
	return &out, nil
}

func dedupDetails(details []types.Detail) []types.Detail {
	out := make([]types.Detail, 0, len(details))
	for _, d := range details {
		dup := false
		for _, existing := range out {
			if compare.Equivalent(existing, d) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out
}

func modifiedUnix(c *types.Contact) int64 {
	if c.Modified.IsZero() {
		return 0
	}
	return c.Modified.Unix()
}

func createdUnix(c *types.Contact) int64 {
	if c.Created.IsZero() {
		return 0
	}
	return c.Created.Unix()
}

func toSet(ids []int32) map[int32]bool {
	m := make(map[int32]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Update implements spec.md §4.G.2.
func (s *Syncer) Update(ctx context.Context, target types.SyncTarget, policy ConflictPolicy, pairs []Pair) error {
	ctx, span := tracer.Start(ctx, "syncdelta.Update")
	defer span.End()

	if policy == PreserveRemoteChanges {
		return engineerr.New(engineerr.NotSupported, "syncdelta.Update", "PreserveRemoteChanges")
	}
	if policy != PreserveLocalChanges {
		return engineerr.New(engineerr.BadArgument, "syncdelta.Update", string(policy))
	}

	for _, pair := range pairs {
		if err := s.applyPair(ctx, target, pair); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) applyPair(ctx context.Context, target types.SyncTarget, pair Pair) error {
	originalEmpty := pair.OriginalRemote == nil || pair.OriginalRemote.ID == 0
	updatedEmpty := pair.UpdatedRemote == nil || pair.UpdatedRemote.ID == 0

	switch {
	case originalEmpty && updatedEmpty:
		return nil
	case originalEmpty && !updatedEmpty:
		return s.applyCreation(ctx, target, pair.UpdatedRemote)
	case !originalEmpty && updatedEmpty:
		return s.applyDeletion(ctx, target, pair.OriginalRemote)
	default:
		return s.applyModification(ctx, target, pair.OriginalRemote, pair.UpdatedRemote)
	}
}

func (s *Syncer) applyCreation(ctx context.Context, target types.SyncTarget, updated *types.Contact) error {
	c := &types.Contact{SyncTarget: target, Details: append([]types.Detail(nil), updated.Details...)}
	id, err := s.store.CreateContact(ctx, c)
	if err != nil {
		return err
	}
	c.ID = id
	if s.agg == nil {
		return nil
	}
	_, err = s.agg.AttachOrCreate(ctx, c)
	return err
}

// applyDeletion removes only the constituent for this sync target. If the
// constituent that would be deleted is actually the contact's sole local
// constituent (no same-sync-target counterpart exists), the deletion is
// silently ignored (spec.md §4.G.2). Otherwise, once the constituent is
// gone, the aggregate it belonged to is pruned if it is now childless
// (spec.md §4.G.2's closing step, invariant 2).
func (s *Syncer) applyDeletion(ctx context.Context, target types.SyncTarget, original *types.Contact) error {
	aggID, ok, err := s.store.AggregateOf(ctx, original.ID)
	if !ok || err != nil {
		return err
	}
	constituents, err := s.store.ConstituentsOf(ctx, aggID)
	if err != nil {
		return err
	}
	existing, err := s.store.GetContact(ctx, original.ID)
	if err != nil {
		return err
	}
	if existing.SyncTarget != target {
		if existing.SyncTarget == types.SyncTargetLocal && !hasCounterpart(ctx, s.store, constituents, target) {
			return nil
		}
	}
	if err := s.store.RemoveContacts(ctx, []int32{original.ID}); err != nil {
		return err
	}
	if s.agg == nil {
		return nil
	}
	return s.agg.PruneAndRecover(ctx, []int32{aggID})
}

func hasCounterpart(ctx context.Context, store storage.Storage, constituentIDs []int32, target types.SyncTarget) bool {
	for _, cid := range constituentIDs {
		c, err := store.GetContact(ctx, cid)
		if err == nil && c.SyncTarget == target {
			return true
		}
	}
	return false
}

// applyModification implements the PreserveLocalChanges conflict policy:
// for each detail-level change identified by provenance, if the local value
// no longer matches originalRemote, the remote modification is dropped.
// Every constituent-level write it makes is followed by Regenerate, so
// composed and promoted aggregate fields reflect the new constituent state
// (spec.md §4.G.2's closing step).
func (s *Syncer) applyModification(ctx context.Context, target types.SyncTarget, original, updated *types.Contact) error {
	added, removed := compare.Delta(original.Details, updated.Details)

	aggID, ok, err := s.store.AggregateOf(ctx, original.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	agg, err := s.store.GetContact(ctx, aggID)
	if err != nil {
		return err
	}

	dirtyAgg := false
	for _, d := range removed {
		if !stillMatchesLocal(agg, d) {
			continue
		}
		removeEquivalentDetail(agg, d)
		dirtyAgg = true
	}

	targetConstituentID, err := findConstituentByTarget(ctx, s.store, aggID, target)
	if err != nil {
		return err
	}

	touchedConstituent := false
	for _, d := range added {
		desc, ok := schema.Lookup(d.Type)
		if !ok || desc.Unpromoted {
			continue
		}
		if desc.Composed {
			if err := s.applyComposedToLocal(ctx, aggID, d); err != nil {
				return err
			}
			touchedConstituent = true
			continue
		}
		if targetConstituentID == 0 {
			continue
		}
		c, err := s.store.GetContact(ctx, targetConstituentID)
		if err != nil {
			return err
		}
		cp := d.Clone()
		cp.DetailID = 0
		c.Details = append(c.Details, cp)
		if err := s.store.UpdateContact(ctx, targetConstituentID, c, nil); err != nil {
			return err
		}
		touchedConstituent = true
	}

	if dirtyAgg {
		if err := s.store.UpdateContact(ctx, aggID, agg, nil); err != nil {
			return err
		}
	}

	if !touchedConstituent || s.agg == nil {
		return nil
	}
	return s.agg.Regenerate(ctx, aggID)
}

func stillMatchesLocal(agg *types.Contact, d types.Detail) bool {
	for _, existing := range agg.Details {
		if existing.Type == d.Type && compare.Equivalent(existing, d) {
			return true
		}
	}
	return false
}

func removeEquivalentDetail(c *types.Contact, d types.Detail) {
	for i, existing := range c.Details {
		if existing.Type == d.Type && compare.Equivalent(existing, d) {
			c.Details = append(c.Details[:i], c.Details[i+1:]...)
			return
		}
	}
}

func findConstituentByTarget(ctx context.Context, store storage.Storage, aggID int32, target types.SyncTarget) (int32, error) {
	ids, err := store.ConstituentsOf(ctx, aggID)
	if err != nil {
		return 0, err
	}
	for _, cid := range ids {
		c, err := store.GetContact(ctx, cid)
		if err != nil {
			return 0, err
		}
		if c.SyncTarget == target {
			return cid, nil
		}
	}
	return 0, nil
}

// applyComposedToLocal redirects a composed-field remote modification to
// the aggregate's local constituent, creating an incidental one if none
// exists (spec.md §4.G.2).
func (s *Syncer) applyComposedToLocal(ctx context.Context, aggID int32, d types.Detail) error {
	ids, err := s.store.ConstituentsOf(ctx, aggID)
	if err != nil {
		return err
	}
	for _, cid := range ids {
		c, err := s.store.GetContact(ctx, cid)
		if err != nil {
			return err
		}
		if c.SyncTarget == types.SyncTargetLocal {
			c.Details = append(c.Details, d.Clone())
			return s.store.UpdateContact(ctx, cid, c, nil)
		}
	}

	incidental := &types.Contact{
		SyncTarget:   types.SyncTargetLocal,
		IsIncidental: true,
		Details: []types.Detail{
			{Type: types.DetailIncidental, Fields: map[string]any{"AggregateId": int(aggID)}},
			d.Clone(),
		},
	}
	id, err := s.store.CreateContact(ctx, incidental)
	if err != nil {
		return err
	}
	return s.store.AddRelationships(ctx, []types.Relationship{
		{FirstID: aggID, SecondID: id, Type: types.RelationshipAggregates},
	})
}
