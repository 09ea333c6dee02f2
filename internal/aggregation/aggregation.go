// Package aggregation is the aggregation engine (spec.md §4.E, component
// E): matching a constituent contact to a candidate aggregate, promoting
// and down-promoting details between them, regenerating aggregates, and
// pruning childless aggregates while recovering orphans.
package aggregation

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/contactsdb/internal/compare"
	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/schema"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/types"
)

// defaultAttachThreshold is the minimum match score (spec.md §4.E.1)
// required to attach an incoming contact to an existing aggregate rather
// than minting a fresh one.
const defaultAttachThreshold = 15

// Engine is the aggregation engine. It persists through the same Storage
// interface the write pipeline uses; it does not depend on the pipeline
// package, so the pipeline is free to call into it without an import
// cycle.
type Engine struct {
	store     storage.Storage
	threshold int
}

// New returns an aggregation engine backed by store, using a default
// attach threshold of 15.
func New(store storage.Storage) *Engine {
	return &Engine{store: store, threshold: defaultAttachThreshold}
}

// WithAttachThreshold overrides the attach threshold (internal/config's
// attach_threshold setting), for deployments that want a stricter or
// looser match than spec.md's default.
func (e *Engine) WithAttachThreshold(threshold int) *Engine {
	e.threshold = threshold
	return e
}

var meter = otel.Meter("github.com/steveyegge/contactsdb/aggregation")

var instruments struct {
	newAggregates    metric.Int64Counter
	attachments      metric.Int64Counter
	promotions       metric.Int64Counter
	regenerations    metric.Int64Counter
	prunes           metric.Int64Counter
	orphansRecovered metric.Int64Counter
}

func init() {
	instruments.newAggregates, _ = meter.Int64Counter("contactsdb.aggregation.new_aggregates",
		metric.WithDescription("Fresh aggregates created because no candidate scored high enough"))
	instruments.attachments, _ = meter.Int64Counter("contactsdb.aggregation.attachments",
		metric.WithDescription("Constituents attached to an existing aggregate"))
	instruments.promotions, _ = meter.Int64Counter("contactsdb.aggregation.promotions",
		metric.WithDescription("Details promoted from a constituent to its aggregate"))
	instruments.regenerations, _ = meter.Int64Counter("contactsdb.aggregation.regenerations")
	instruments.prunes, _ = meter.Int64Counter("contactsdb.aggregation.prunes",
		metric.WithDescription("Aggregates removed for having no live constituent"))
	instruments.orphansRecovered, _ = meter.Int64Counter("contactsdb.aggregation.orphans_recovered")
}

// MatchCandidate implements spec.md §4.E.1: find the best-scoring aggregate
// candidate for an incoming non-aggregate contact, or ok=false if none
// scores at least attachThreshold.
func (e *Engine) MatchCandidate(ctx context.Context, incoming *types.Contact) (aggregateID int32, ok bool, err error) {
	candidateIDs, err := e.store.ListContactIDs(ctx, types.SyncTargetAggregate)
	if err != nil {
		return 0, false, err
	}

	var bestID int32
	bestScore := 0
	for _, cid := range candidateIDs {
		candidate, err := e.store.GetContact(ctx, cid)
		if err != nil {
			return 0, false, err
		}
		eligible, err := e.eligible(ctx, incoming, candidate)
		if err != nil {
			return 0, false, err
		}
		if !eligible {
			continue
		}
		score := scoreCandidate(incoming, candidate)
		if score > bestScore {
			bestScore = score
			bestID = cid
		}
	}
	if bestScore >= e.threshold {
		return bestID, true, nil
	}
	return 0, false, nil
}

func (e *Engine) eligible(ctx context.Context, incoming, candidate *types.Contact) (bool, error) {
	if candidate.ID == types.SelfAggregateContactID {
		return false, nil
	}
	lastA, lastB := incoming.LowerLastName(), candidate.LowerLastName()
	if lastA != "" && lastB != "" && lastA != lastB {
		return false, nil
	}
	if !genderCompatible(incoming.Gender(), candidate.Gender()) {
		return false, nil
	}
	isNot, err := e.store.IsNot(ctx, incoming.ID, candidate.ID)
	if err != nil {
		return false, err
	}
	return !isNot, nil
}

func genderCompatible(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}

// scoreCandidate sums the additive weights of spec.md §4.E.1's matching
// rules. Each rule contributes its weight once, not per matching pair.
func scoreCandidate(a, b *types.Contact) int {
	score := 0
	firstA, firstB := a.LowerFirstName(), b.LowerFirstName()
	lastA, lastB := a.LowerLastName(), b.LowerLastName()

	switch {
	case firstA != "" && firstA == firstB && lastA != "" && lastA == lastB:
		score += 20
	case firstA == "" && firstB == "" && lastA == "" && lastB == "" && nicknameMatches(a, b):
		score += 15
	case firstA != "" && firstA == firstB && (lastA == "" || lastB == ""):
		score += 12
	case lastA != "" && lastA == lastB && (firstA == "" || firstB == ""):
		score += 12
	}

	if anyEmailMatches(a, b) {
		score += 3
	}
	if anyPhoneMatches(a, b) {
		score += 3
	}
	if anyOnlineAccountMatches(a, b) {
		score += 3
	}
	if nicknameMatches(a, b) {
		score += 1
	}
	return score
}

func nicknameMatches(a, b *types.Contact) bool {
	na, nb := a.LowerNickname(), b.LowerNickname()
	return na != "" && na == nb
}

func anyEmailMatches(a, b *types.Contact) bool {
	for _, da := range a.DetailsOfType(types.DetailEmailAddress) {
		ea := strings.ToLower(stringOf(da, "Address"))
		if ea == "" {
			continue
		}
		for _, db := range b.DetailsOfType(types.DetailEmailAddress) {
			if ea == strings.ToLower(stringOf(db, "Address")) {
				return true
			}
		}
	}
	return false
}

func anyPhoneMatches(a, b *types.Contact) bool {
	for _, da := range a.DetailsOfType(types.DetailPhoneNumber) {
		na := stringOf(da, "NormalizedNumber")
		if na == "" {
			continue
		}
		for _, db := range b.DetailsOfType(types.DetailPhoneNumber) {
			if na == stringOf(db, "NormalizedNumber") {
				return true
			}
		}
	}
	return false
}

func anyOnlineAccountMatches(a, b *types.Contact) bool {
	for _, da := range a.DetailsOfType(types.DetailOnlineAccount) {
		ua := strings.ToLower(stringOf(da, "AccountUri"))
		if ua == "" {
			continue
		}
		for _, db := range b.DetailsOfType(types.DetailOnlineAccount) {
			if ua == strings.ToLower(stringOf(db, "AccountUri")) {
				return true
			}
		}
	}
	return false
}

func stringOf(d types.Detail, field string) string {
	v, _ := d.Fields[field].(string)
	return v
}

// CreateAggregate mints a fresh, empty aggregate contact.
func (e *Engine) CreateAggregate(ctx context.Context) (int32, error) {
	id, err := e.store.CreateContact(ctx, &types.Contact{SyncTarget: types.SyncTargetAggregate})
	if err != nil {
		return 0, err
	}
	instruments.newAggregates.Add(ctx, 1)
	return id, nil
}

// AttachOrCreate runs the full §4.E.1 flow for a newly-created constituent:
// find a matching aggregate, or mint a fresh one; link the Aggregates edge;
// promote the constituent's details into it.
func (e *Engine) AttachOrCreate(ctx context.Context, constituent *types.Contact) (aggregateID int32, err error) {
	aggregateID, matched, err := e.MatchCandidate(ctx, constituent)
	if err != nil {
		return 0, err
	}
	if matched {
		instruments.attachments.Add(ctx, 1)
	} else {
		aggregateID, err = e.CreateAggregate(ctx)
		if err != nil {
			return 0, err
		}
	}
	if err := e.store.AddRelationships(ctx, []types.Relationship{
		{FirstID: aggregateID, SecondID: constituent.ID, Type: types.RelationshipAggregates},
	}); err != nil {
		return 0, err
	}
	if err := e.Promote(ctx, aggregateID, constituent); err != nil {
		return 0, err
	}
	return aggregateID, nil
}

// Promote applies spec.md §4.E.2: merges one constituent's details into its
// aggregate, field-by-field for composed types and by equivalence-gated
// copy for everything else.
func (e *Engine) Promote(ctx context.Context, aggregateID int32, constituent *types.Contact) error {
	aggregate, err := e.store.GetContact(ctx, aggregateID)
	if err != nil {
		return err
	}

	remote := !isLocalLike(constituent.SyncTarget)
	changed := false
	for _, d := range constituent.Details {
		desc, ok := schema.Lookup(d.Type)
		if !ok {
			return engineerr.New(engineerr.InvalidDetail, "aggregation.Promote", string(d.Type))
		}
		if desc.Unpromoted {
			continue
		}
		if desc.Composed {
			if composeIntoAggregate(aggregate, d) {
				changed = true
			}
			continue
		}
		if hasEquivalent(aggregate, d) {
			continue
		}
		copyDetail := d.Clone()
		copyDetail.DetailID = 0
		if remote && !d.Modifiable {
			copyDetail.AccessConstraint |= types.AccessReadOnly | types.AccessIrremovable
		}
		aggregate.Details = append(aggregate.Details, copyDetail)
		changed = true
	}

	if !changed {
		return nil
	}
	instruments.promotions.Add(ctx, 1)
	return e.store.UpdateContact(ctx, aggregateID, aggregate, nil)
}

func isLocalLike(t types.SyncTarget) bool {
	return t == types.SyncTargetLocal || t == types.SyncTargetWasLocal
}

// hasEquivalent reports whether the aggregate already carries a detail
// equivalent to d.
func hasEquivalent(aggregate *types.Contact, d types.Detail) bool {
	for _, existing := range aggregate.DetailsOfType(d.Type) {
		if compare.Equivalent(existing, d) {
			return true
		}
	}
	return false
}

// composeIntoAggregate merges one composed detail (Name, Timestamp, Gender,
// Favorite, Birthday) into the aggregate's single instance, filling only
// empty fields (Name/Gender/Favorite/Birthday) or taking the newer value
// (Timestamp.LastModified) / earliest valid value (Timestamp.Created).
// Returns true if the aggregate's stored detail changed.
func composeIntoAggregate(aggregate *types.Contact, incoming types.Detail) bool {
	existing, found := aggregate.FirstDetailOfType(incoming.Type)
	if !found {
		cp := incoming.Clone()
		cp.DetailID = 0
		cp.Provenance = ""
		aggregate.Details = append(aggregate.Details, cp)
		return true
	}

	changed := false
	if incoming.Type == types.DetailTimestamp {
		return composeTimestamp(aggregate, existing, incoming)
	}
	for k, v := range incoming.Fields {
		cur, has := existing.Fields[k]
		if !has || isEmptyValue(cur) {
			if existing.Fields == nil {
				existing.Fields = map[string]any{}
			}
			existing.Fields[k] = v
			changed = true
		}
	}
	if changed {
		replaceDetail(aggregate, existing)
	}
	return changed
}

func composeTimestamp(aggregate *types.Contact, existing, incoming types.Detail) bool {
	changed := false
	existingCreated, _ := existing.Fields["Created"]
	incomingCreated, _ := incoming.Fields["Created"]
	if timeBefore(incomingCreated, existingCreated) {
		existing.Fields["Created"] = incomingCreated
		changed = true
	}
	existingModified, _ := existing.Fields["LastModified"]
	incomingModified, _ := incoming.Fields["LastModified"]
	if timeAfter(incomingModified, existingModified) {
		existing.Fields["LastModified"] = incomingModified
		changed = true
	}
	if changed {
		replaceDetail(aggregate, existing)
	}
	return changed
}

func timeBefore(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if !okB || tb.IsZero() {
		return okA && !ta.IsZero()
	}
	if !okA || ta.IsZero() {
		return false
	}
	return ta.Before(tb)
}

func timeAfter(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if !okB || tb.IsZero() {
		return okA && !ta.IsZero()
	}
	if !okA || ta.IsZero() {
		return false
	}
	return ta.After(tb)
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case string:
		return x == ""
	case nil:
		return true
	case bool:
		return !x
	default:
		return false
	}
}

func replaceDetail(c *types.Contact, updated types.Detail) {
	for i := range c.Details {
		if c.Details[i].Type == updated.Type && c.Details[i].DetailID == updated.DetailID {
			c.Details[i] = updated
			return
		}
	}
	c.Details = append(c.Details, updated)
}

// MarkNotSame records that idA and idB must never be aggregated together
// (supplemented feature, grounded on original_source's MarkNotSame).
func (e *Engine) MarkNotSame(ctx context.Context, idA, idB int32) error {
	if idA == idB {
		return engineerr.New(engineerr.BadArgument, "aggregation.MarkNotSame", "ids must differ")
	}
	return e.store.AddRelationships(ctx, []types.Relationship{
		{FirstID: idA, SecondID: idB, Type: types.RelationshipIsNot},
	})
}
