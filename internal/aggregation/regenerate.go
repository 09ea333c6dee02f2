package aggregation

import (
	"context"

	"github.com/steveyegge/contactsdb/internal/compare"
	"github.com/steveyegge/contactsdb/internal/schema"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/types"
)

// DownPromote implements spec.md §4.E.3: when an aggregate's composed or
// copied details are edited directly (e.g. by a sync update), the delta is
// routed back down to the constituent that contributed the original value,
// or to a modifiable/local constituent when there is no provenance to
// follow.
func (e *Engine) DownPromote(ctx context.Context, aggregateID int32, original, updated *types.Contact) error {
	added, removed := compare.Delta(original.Details, updated.Details)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	constituentIDs, err := e.store.ConstituentsOf(ctx, aggregateID)
	if err != nil {
		return err
	}
	if len(constituentIDs) == 0 {
		return nil
	}

	constituents := make(map[int32]*types.Contact, len(constituentIDs))
	for _, cid := range constituentIDs {
		c, err := e.store.GetContact(ctx, cid)
		if err != nil {
			return err
		}
		constituents[cid] = c
	}

	dirty := map[int32]bool{}
	for _, d := range removed {
		target := routeDetail(constituents, d)
		if target == 0 {
			continue
		}
		removeEquivalent(constituents[target], d)
		dirty[target] = true
	}
	for _, d := range added {
		desc, ok := schema.Lookup(d.Type)
		if !ok || desc.Unpromoted {
			continue
		}
		target := routeDetail(constituents, d)
		if target == 0 {
			target = firstModifiable(constituentIDs, constituents)
		}
		if target == 0 {
			continue
		}
		cp := d.Clone()
		cp.DetailID = 0
		cp.Provenance = ""
		constituents[target].Details = append(constituents[target].Details, cp)
		dirty[target] = true
	}

	for cid := range dirty {
		if err := e.store.UpdateContact(ctx, cid, constituents[cid], nil); err != nil {
			return err
		}
	}
	return nil
}

// routeDetail finds the constituent that a detail's provenance points at,
// or 0 if the provenance is absent or points outside this constituent set.
func routeDetail(constituents map[int32]*types.Contact, d types.Detail) int32 {
	if d.Provenance == "" {
		return 0
	}
	originID, _, _, ok := types.ParseProvenance(d.Provenance)
	if !ok {
		return 0
	}
	if _, present := constituents[originID]; present {
		return originID
	}
	return 0
}

func firstModifiable(order []int32, constituents map[int32]*types.Contact) int32 {
	for _, cid := range order {
		c := constituents[cid]
		if c.SyncTarget == types.SyncTargetLocal || c.IsIncidental {
			return cid
		}
	}
	return 0
}

func removeEquivalent(c *types.Contact, d types.Detail) {
	for i, existing := range c.Details {
		if existing.Type == d.Type && compare.Equivalent(existing, d) {
			c.Details = append(c.Details[:i], c.Details[i+1:]...)
			return
		}
	}
}

// Regenerate implements spec.md §4.E.4: discard everything an aggregate
// acquired through promotion and rebuild it from its live constituents,
// local-sourced constituents promoted first so their values win composed
// field ties.
func (e *Engine) Regenerate(ctx context.Context, aggregateID int32) error {
	aggregate, err := e.store.GetContact(ctx, aggregateID)
	if err != nil {
		return err
	}

	aggregate.Details = keepIdentityDetails(aggregate.Details)

	constituentIDs, err := e.store.ConstituentsOf(ctx, aggregateID)
	if err != nil {
		return err
	}
	constituents := make([]*types.Contact, 0, len(constituentIDs))
	for _, cid := range constituentIDs {
		c, err := e.store.GetContact(ctx, cid)
		if err != nil {
			return err
		}
		if c.IsDeactivated {
			continue
		}
		constituents = append(constituents, c)
	}
	orderLocalFirst(constituents)

	if err := e.store.UpdateContact(ctx, aggregateID, aggregate, nil); err != nil {
		return err
	}
	for _, c := range constituents {
		if err := e.Promote(ctx, aggregateID, c); err != nil {
			return err
		}
	}
	instruments.regenerations.Add(ctx, 1)
	return nil
}

// keepIdentityDetails strips every promoted/copied detail from an
// aggregate, keeping only the identity/unpromoted details (SyncTarget,
// Guid, Type, DisplayLabel, GlobalPresence, StatusFlags, OriginMetadata,
// Deactivated, Incidental) that regeneration never rebuilds.
func keepIdentityDetails(details []types.Detail) []types.Detail {
	out := details[:0:0]
	for _, d := range details {
		if schema.IsUnpromoted(d.Type) {
			out = append(out, d)
		}
	}
	return out
}

func orderLocalFirst(cs []*types.Contact) {
	i := 0
	for j, c := range cs {
		if c.SyncTarget == types.SyncTargetLocal {
			cs[i], cs[j] = cs[j], cs[i]
			i++
		}
	}
}

// PruneAndRecover implements spec.md §4.E.5 over a caller-supplied set of
// candidate aggregate ids (the ids touched by the write that just
// completed — this engine has no whole-table scan of aggregates). An
// aggregate with zero live constituents is removed; its promoted details
// are not recovered anywhere, since nothing else references them.
//
// PruneAndRecover only removes aggregates; it does not re-attach orphaned
// constituents (contacts left with no Aggregates edge). That is done by
// RecoverOrphans, which this function does not call.
func (e *Engine) PruneAndRecover(ctx context.Context, candidateAggregateIDs []int32) error {
	for _, aggID := range candidateAggregateIDs {
		constituents, err := e.store.ConstituentsOf(ctx, aggID)
		if err != nil {
			return err
		}
		if len(liveOf(ctx, e.store, constituents)) > 0 {
			continue
		}
		if aggID == types.SelfAggregateContactID {
			continue
		}
		if err := e.store.RemoveContacts(ctx, []int32{aggID}); err != nil {
			return err
		}
		instruments.prunes.Add(ctx, 1)
	}
	return nil
}

func liveOf(ctx context.Context, store storage.Storage, ids []int32) []int32 {
	var out []int32
	for _, id := range ids {
		c, err := store.GetContact(ctx, id)
		if err != nil || c.IsDeactivated {
			continue
		}
		out = append(out, id)
	}
	return out
}

// RecoverOrphans re-attaches every constituent in candidateIDs that
// currently has no Aggregates edge pointing at it.
func (e *Engine) RecoverOrphans(ctx context.Context, candidateIDs []int32) error {
	for _, cid := range candidateIDs {
		_, ok, err := e.store.AggregateOf(ctx, cid)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		c, err := e.store.GetContact(ctx, cid)
		if err != nil {
			return err
		}
		if c.SyncTarget == types.SyncTargetAggregate || c.IsDeactivated {
			continue
		}
		if _, err := e.AttachOrCreate(ctx, c); err != nil {
			return err
		}
		instruments.orphansRecovered.Add(ctx, 1)
	}
	return nil
}
