// Package pipeline is the write pipeline (spec.md §4.F, component F): the
// single entry point through which every contact mutation is validated,
// derived-field-recomputed, persisted via the contact/relationship stores
// (B/C), reconciled with the aggregation engine (E), and turned into
// notifications.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/contactsdb/internal/aggregation"
	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/schema"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/transient"
	"github.com/steveyegge/contactsdb/internal/types"
)

// Notifier receives the five notification categories emitted on a
// successful commit (spec.md §4.F "Notifications"). Implementations are
// expected to be cheap/non-blocking; Pipeline calls them synchronously
// after commit in added, changed, presenceChanged, syncTargetsChanged,
// removed order.
type Notifier interface {
	ContactsAdded(ids []int32)
	ContactsChanged(ids []int32)
	ContactsPresenceChanged(ids []int32)
	SyncTargetsChanged(targets []types.SyncTarget)
	ContactsRemoved(ids []int32)
}

// NoopNotifier discards every notification; a Pipeline built by New
// without WithNotifier uses it.
type NoopNotifier struct{}

func (NoopNotifier) ContactsAdded([]int32)                 {}
func (NoopNotifier) ContactsChanged([]int32)               {}
func (NoopNotifier) ContactsPresenceChanged([]int32)       {}
func (NoopNotifier) SyncTargetsChanged([]types.SyncTarget) {}
func (NoopNotifier) ContactsRemoved([]int32)               {}

// Pipeline is component F.
type Pipeline struct {
	store     storage.Storage
	agg       *aggregation.Engine
	transient transient.Store
	notifier  Notifier
	log       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTransient wires in the transient store used for presence-only
// suppression. Without this option, presence-only writes are always
// durable.
func WithTransient(t transient.Store) Option {
	return func(p *Pipeline) { p.transient = t }
}

// WithNotifier wires in a Notifier. Without this option, notifications are
// discarded.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New builds a Pipeline over store, using agg for aggregation reconciliation.
func New(store storage.Storage, agg *aggregation.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		agg:      agg,
		notifier: NoopNotifier{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var tracer = otel.Tracer("github.com/steveyegge/contactsdb/pipeline")

var instruments struct {
	saved           metric.Int64Counter
	failed          metric.Int64Counter
	transientRouted metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/steveyegge/contactsdb/pipeline")
	instruments.saved, _ = m.Int64Counter("contactsdb.pipeline.saved",
		metric.WithDescription("Contacts successfully saved through the write pipeline"))
	instruments.failed, _ = m.Int64Counter("contactsdb.pipeline.failed",
		metric.WithDescription("Per-contact save failures"))
	instruments.transientRouted, _ = m.Int64Counter("contactsdb.pipeline.transient_routed",
		metric.WithDescription("Presence-only writes routed to the transient store"))
}

// SaveResult is the outcome of a batch Save: the accumulated change set,
// plus a per-index error for any contact in the batch that failed.
type SaveResult struct {
	Changes *types.ChangeSet
	Errors  map[int]error
}

// Save implements spec.md §4.F: a batch Save of contacts sharing one sync
// target (local and was_local count as the same target), under one mask.
func (p *Pipeline) Save(ctx context.Context, contacts []*types.Contact, mask storage.ContactMask) (*SaveResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Save", trace.WithAttributes(attribute.Int("batch.size", len(contacts))))
	defer span.End()

	if err := checkSharedSyncTarget(contacts); err != nil {
		span.RecordError(err)
		return nil, err
	}

	changes := types.NewChangeSet()
	errs := make(map[int]error)
	touchedAggregates := map[int32]bool{}
	wasNew := make([]bool, len(contacts))

	for i, c := range contacts {
		wasNew[i] = c.ID == 0
		if err := p.saveOne(ctx, c, mask, changes, touchedAggregates); err != nil {
			errs[i] = err
			instruments.failed.Add(ctx, 1)
		} else {
			instruments.saved.Add(ctx, 1)
		}
	}

	if len(errs) > 0 {
		// Transaction discipline (spec.md §4.F): any per-contact failure
		// rolls back the whole batch. Ids that would have been newly
		// assigned are reset, and every contact that was not itself the
		// failing one still gets a Locked entry so the caller never
		// assumes partial success.
		for i, c := range contacts {
			if wasNew[i] {
				c.ID = 0
			}
			if _, failed := errs[i]; failed {
				continue
			}
			errs[i] = engineerr.New(engineerr.Locked, "pipeline.Save", "batch rolled back")
		}
		return &SaveResult{Errors: errs}, engineerr.Worst(collectErrors(errs)...)
	}

	aggIDs := make([]int32, 0, len(touchedAggregates))
	for id := range touchedAggregates {
		aggIDs = append(aggIDs, id)
	}
	if len(aggIDs) > 0 {
		if err := p.agg.PruneAndRecover(ctx, aggIDs); err != nil {
			return nil, err
		}
	}

	p.emit(changes)
	return &SaveResult{Changes: changes, Errors: errs}, nil
}

func collectErrors(errs map[int]error) []error {
	out := make([]error, 0, len(errs))
	for _, e := range errs {
		out = append(out, e)
	}
	return out
}

func checkSharedSyncTarget(contacts []*types.Contact) error {
	var target types.SyncTarget
	for _, c := range contacts {
		t := normalizeLocal(c.SyncTarget)
		if target == "" {
			target = t
			continue
		}
		if t != target {
			return engineerr.New(engineerr.UnspecifiedError, "pipeline.Save", "batch contains mixed sync targets")
		}
	}
	return nil
}

func normalizeLocal(t types.SyncTarget) types.SyncTarget {
	if t == types.SyncTargetWasLocal {
		return types.SyncTargetLocal
	}
	return t
}

// rejectSelfContacts implements spec.md §8's boundary rule: deleting the
// fixed self-local or self-aggregate contact id leaves the DB unchanged and
// reports BadArgument (spec.md invariant 7, "not ... removable").
func rejectSelfContacts(ids []int32) error {
	for _, id := range ids {
		if id == types.SelfLocalContactID || id == types.SelfAggregateContactID {
			return engineerr.New(engineerr.BadArgument, "pipeline.Remove", fmt.Sprintf("contact %d is a self contact and cannot be removed", id))
		}
	}
	return nil
}

// saveOne runs the per-contact steps of spec.md §4.F step 1-5 for a single
// contact, mutating changes/touchedAggregates in place.
func (p *Pipeline) saveOne(ctx context.Context, c *types.Contact, mask storage.ContactMask, changes *types.ChangeSet, touchedAggregates map[int32]bool) error {
	if err := validateDetails(c); err != nil {
		return err
	}
	deriveFields(c, c.ID == 0)

	if c.ID == 0 {
		return p.createOne(ctx, c, changes, touchedAggregates)
	}
	return p.updateOne(ctx, c, mask, changes, touchedAggregates)
}

// validateDetails implements spec.md §4.F step 1 against the schema
// registry (component A): every detail type must be registered, and
// singular types may appear at most once.
func validateDetails(c *types.Contact) error {
	counts := map[types.DetailType]int{}
	for _, d := range c.Details {
		desc, ok := schema.Lookup(d.Type)
		if !ok {
			return engineerr.New(engineerr.InvalidDetail, "pipeline.validateDetails", string(d.Type))
		}
		counts[d.Type]++
		if desc.Singular && counts[d.Type] > 1 {
			return engineerr.New(engineerr.LimitReached, "pipeline.validateDetails", string(d.Type))
		}
	}
	return nil
}

func (p *Pipeline) createOne(ctx context.Context, c *types.Contact, changes *types.ChangeSet, touchedAggregates map[int32]bool) error {
	id, err := p.store.CreateContact(ctx, c)
	if err != nil {
		return err
	}
	c.ID = id
	changes.Added = append(changes.Added, id)
	changes.AddSyncTarget(c.SyncTarget)

	if c.SyncTarget == types.SyncTargetAggregate {
		return nil
	}

	aggID, err := p.retargetOrAttach(ctx, c)
	if err != nil {
		return err
	}
	if aggID != 0 {
		touchedAggregates[aggID] = true
	}
	return nil
}

// retargetOrAttach implements spec.md §4.F step 3's retargeting rule: when
// a new contact matches an existing aggregate that predates it, that
// aggregate's current local constituent (if any) is retargeted to
// was_local so the new contact becomes the local one.
func (p *Pipeline) retargetOrAttach(ctx context.Context, c *types.Contact) (int32, error) {
	aggID, matched, err := p.agg.MatchCandidate(ctx, c)
	if err != nil {
		return 0, err
	}
	if matched && c.SyncTarget == types.SyncTargetLocal {
		if err := p.retargetExistingLocal(ctx, aggID, c.ID); err != nil {
			return 0, err
		}
	}
	return p.agg.AttachOrCreate(ctx, c)
}

func (p *Pipeline) retargetExistingLocal(ctx context.Context, aggID, newLocalID int32) error {
	constituents, err := p.store.ConstituentsOf(ctx, aggID)
	if err != nil {
		return err
	}
	for _, cid := range constituents {
		if cid == newLocalID {
			continue
		}
		existing, err := p.store.GetContact(ctx, cid)
		if err != nil {
			return err
		}
		if existing.SyncTarget != types.SyncTargetLocal {
			continue
		}
		existing.SyncTarget = types.SyncTargetWasLocal
		if err := p.store.UpdateContact(ctx, cid, existing, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) updateOne(ctx context.Context, c *types.Contact, mask storage.ContactMask, changes *types.ChangeSet, touchedAggregates map[int32]bool) error {
	exists, previousTarget, err := p.store.ContactExists(ctx, c.ID)
	if err != nil {
		return err
	}
	if !exists {
		return engineerr.New(engineerr.DoesNotExist, "pipeline.updateOne", fmt.Sprintf("contact %d", c.ID))
	}

	if isPresenceOnlyMask(mask) && p.transient != nil {
		if err := p.transient.Put(ctx, c.ID, c); err != nil {
			return err
		}
		instruments.transientRouted.Add(ctx, 1)
		changes.PresenceOnlyChanged = append(changes.PresenceOnlyChanged, c.ID)
		return nil
	}
	if p.transient != nil {
		if err := p.transient.Invalidate(ctx, c.ID); err != nil {
			return err
		}
	}

	var original *types.Contact
	if previousTarget == types.SyncTargetAggregate {
		original, err = p.store.GetContact(ctx, c.ID)
		if err != nil {
			return err
		}
	}

	if err := p.store.UpdateContact(ctx, c.ID, c, mask); err != nil {
		return err
	}
	changes.Changed = append(changes.Changed, c.ID)
	changes.AddSyncTarget(c.SyncTarget)

	if previousTarget == types.SyncTargetAggregate {
		return p.agg.DownPromote(ctx, c.ID, original, c)
	}

	aggID, ok, err := p.store.AggregateOf(ctx, c.ID)
	if err != nil {
		return err
	}
	if ok {
		touchedAggregates[aggID] = true
		return p.agg.Regenerate(ctx, aggID)
	}
	return nil
}

// Remove deletes contacts, writes tombstones (done atomically by the store),
// purges any transient entries, and emits the removed-ids notification.
func (p *Pipeline) Remove(ctx context.Context, ids []int32) error {
	ctx, span := tracer.Start(ctx, "pipeline.Remove")
	defer span.End()

	if err := rejectSelfContacts(ids); err != nil {
		span.RecordError(err)
		return err
	}

	aggregates := map[int32]bool{}
	for _, id := range ids {
		if aggID, ok, err := p.store.AggregateOf(ctx, id); err == nil && ok {
			aggregates[aggID] = true
		}
	}

	if err := p.store.RemoveContacts(ctx, ids); err != nil {
		span.RecordError(err)
		return err
	}

	if p.transient != nil {
		for _, id := range ids {
			_ = p.transient.Invalidate(ctx, id)
		}
	}

	aggIDs := make([]int32, 0, len(aggregates))
	for id := range aggregates {
		aggIDs = append(aggIDs, id)
	}
	if len(aggIDs) > 0 {
		if err := p.agg.PruneAndRecover(ctx, aggIDs); err != nil {
			return err
		}
	}

	changes := types.NewChangeSet()
	changes.Removed = ids
	p.emit(changes)
	return nil
}

func (p *Pipeline) emit(changes *types.ChangeSet) {
	if changes.Empty() && len(changes.SyncTargetsChanged) == 0 {
		return
	}
	if len(changes.Added) > 0 {
		p.notifier.ContactsAdded(changes.Added)
	}
	if len(changes.Changed) > 0 {
		p.notifier.ContactsChanged(changes.Changed)
	}
	if len(changes.PresenceOnlyChanged) > 0 {
		p.notifier.ContactsPresenceChanged(changes.PresenceOnlyChanged)
	}
	if targets := changes.SortedSyncTargets(); len(targets) > 0 {
		p.notifier.SyncTargetsChanged(targets)
	}
	if len(changes.Removed) > 0 {
		p.notifier.ContactsRemoved(changes.Removed)
	}
}
