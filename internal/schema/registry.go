// Package schema is the detail schema registry (spec.md §4.A, component A).
// It is a compile-time table describing every detail type; it is the
// single source of truth consulted by the contact store, the detail
// comparator, the aggregation engine and the write pipeline. Adding a new
// detail type requires registering it here and nowhere else.
package schema

import "github.com/steveyegge/contactsdb/internal/types"

// FieldKind is the semantic kind of a detail field column.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldStringList
	FieldInteger
	FieldDate
	FieldBoolean
	FieldOther
)

// Field describes one column of a detail type.
type Field struct {
	Name string
	Kind FieldKind
}

// Descriptor is the per-detail-type entry in the registry (spec.md §4.A).
type Descriptor struct {
	Type types.DetailType

	// Table is the child-table name, or "primary" when the detail's
	// columns live directly on the Contacts row.
	Table string

	Fields []Field

	// Singular details may appear at most once per contact.
	Singular bool

	// Composed details are merged field-by-field into aggregates rather
	// than copied wholesale (spec.md §4.E.2).
	Composed bool

	// Unpromoted details are never copied to an aggregate during normal
	// promotion.
	Unpromoted bool

	// AbsolutelyUnpromoted details are never copied even under forced
	// promotion (down-promotion's reverse direction never applies to
	// these; they are always local-only).
	AbsolutelyUnpromoted bool

	// MigratesFromPrimary allows writing this detail to migrate a value
	// from the primary Contacts row (e.g. a legacy Birthday column).
	MigratesFromPrimary bool
}

// registry is keyed by DetailType; see All() for registration order.
var registry = buildRegistry()

func buildRegistry() map[types.DetailType]Descriptor {
	all := []Descriptor{
		{
			Type:     types.DetailName,
			Table:    "primary",
			Fields:   []Field{{"FirstName", FieldString}, {"LastName", FieldString}, {"MiddleName", FieldString}, {"Prefix", FieldString}, {"Suffix", FieldString}},
			Singular: true,
			Composed: true,
		},
		{
			Type:   types.DetailNickname,
			Table:  "Nicknames",
			Fields: []Field{{"Nickname", FieldString}},
		},
		{
			Type:   types.DetailPhoneNumber,
			Table:  "PhoneNumbers",
			Fields: []Field{{"Number", FieldString}, {"NormalizedNumber", FieldString}, {"SubTypes", FieldStringList}},
		},
		{
			Type:   types.DetailEmailAddress,
			Table:  "EmailAddresses",
			Fields: []Field{{"Address", FieldString}},
		},
		{
			Type:   types.DetailAddress,
			Table:  "Addresses",
			Fields: []Field{{"Street", FieldString}, {"City", FieldString}, {"Region", FieldString}, {"PostCode", FieldString}, {"Country", FieldString}, {"PostOfficeBox", FieldString}},
		},
		{
			Type:   types.DetailOrganization,
			Table:  "Organizations",
			Fields: []Field{{"Name", FieldString}, {"Role", FieldString}, {"Title", FieldString}, {"Department", FieldStringList}},
		},
		{
			Type:                 types.DetailAvatar,
			Table:                "Avatars",
			Fields:               []Field{{"ImageURL", FieldString}, {"VideoURL", FieldString}},
			AbsolutelyUnpromoted: false,
		},
		{
			Type:   types.DetailOnlineAccount,
			Table:  "OnlineAccounts",
			Fields: []Field{{"AccountUri", FieldString}, {"ServiceProvider", FieldString}, {"SubTypes", FieldStringList}},
		},
		{
			Type:   types.DetailPresence,
			Table:  "Presences",
			Fields: []Field{{"PresenceState", FieldInteger}, {"Message", FieldString}, {"Timestamp", FieldDate}},
		},
		{
			Type:   types.DetailAnniversary,
			Table:  "Anniversaries",
			Fields: []Field{{"OriginalDate", FieldDate}, {"SubType", FieldString}, {"Event", FieldString}},
		},
		{
			Type:                types.DetailBirthday,
			Table:               "Birthdays",
			Fields:              []Field{{"BirthDate", FieldDate}},
			Singular:            true,
			Composed:            true,
			MigratesFromPrimary: true,
		},
		{
			Type:   types.DetailNote,
			Table:  "Notes",
			Fields: []Field{{"Note", FieldString}},
		},
		{
			Type:   types.DetailUrl,
			Table:  "Urls",
			Fields: []Field{{"Url", FieldString}, {"SubType", FieldString}},
		},
		{
			Type:   types.DetailTag,
			Table:  "Tags",
			Fields: []Field{{"Tag", FieldString}},
		},
		{
			Type:   types.DetailHobby,
			Table:  "Hobbies",
			Fields: []Field{{"Hobby", FieldString}},
		},
		{
			Type:     types.DetailGender,
			Table:    "primary",
			Fields:   []Field{{"Gender", FieldString}},
			Singular: true,
			Composed: true,
		},
		{
			Type:     types.DetailFavorite,
			Table:    "primary",
			Fields:   []Field{{"IsFavorite", FieldBoolean}},
			Singular: true,
			Composed: true,
		},
		{
			Type:     types.DetailTimestamp,
			Table:    "primary",
			Fields:   []Field{{"Created", FieldDate}, {"LastModified", FieldDate}},
			Singular: true,
			Composed: true,
		},
		{
			Type:                 types.DetailSyncTarget,
			Table:                "primary",
			Fields:               []Field{{"SyncTarget", FieldString}},
			Singular:             true,
			Unpromoted:           true,
			AbsolutelyUnpromoted: true,
		},
		{
			Type:                types.DetailGuid,
			Table:               "primary",
			Fields:              []Field{{"Guid", FieldString}},
			Singular:            true,
			Unpromoted:          true,
			MigratesFromPrimary: true,
		},
		{
			Type:       types.DetailType_,
			Table:      "primary",
			Fields:     []Field{{"Type", FieldString}},
			Singular:   true,
			Unpromoted: true,
		},
		{
			Type:       types.DetailDisplayLabel,
			Table:      "primary",
			Fields:     []Field{{"Label", FieldString}},
			Singular:   true,
			Unpromoted: true,
		},
		{
			Type:                types.DetailGlobalPresence,
			Table:               "primary",
			Fields:              []Field{{"PresenceState", FieldInteger}, {"Nickname", FieldString}},
			Singular:            true,
			Unpromoted:          true,
			MigratesFromPrimary: true,
		},
		{
			Type:                 types.DetailStatusFlags,
			Table:                "primary",
			Fields:               []Field{{"HasPhoneNumber", FieldBoolean}, {"HasEmailAddress", FieldBoolean}, {"HasOnlineAccount", FieldBoolean}, {"IsOnline", FieldBoolean}},
			Singular:             true,
			Unpromoted:           true,
			AbsolutelyUnpromoted: true,
		},
		{
			Type:                types.DetailOriginMetadata,
			Table:               "primary",
			Fields:              []Field{{"GroupId", FieldString}, {"Id", FieldString}, {"Enabled", FieldBoolean}},
			Singular:            true,
			Unpromoted:          true,
			MigratesFromPrimary: true,
		},
		{
			Type:                 types.DetailDeactivated,
			Table:                "primary",
			Fields:               []Field{{"Deactivated", FieldBoolean}},
			Singular:             true,
			Unpromoted:           true,
			AbsolutelyUnpromoted: true,
		},
		{
			Type:                 types.DetailIncidental,
			Table:                "primary",
			Fields:               []Field{{"AggregateId", FieldInteger}},
			Singular:             true,
			Unpromoted:           true,
			AbsolutelyUnpromoted: true,
		},
	}

	m := make(map[types.DetailType]Descriptor, len(all))
	for _, d := range all {
		m[d.Type] = d
	}
	return m
}

// Lookup returns the descriptor for a detail type and whether it is
// registered. An unregistered type is a validation error for the write
// pipeline (InvalidDetailError, spec.md §4.F step 1).
func Lookup(t types.DetailType) (Descriptor, bool) {
	d, ok := registry[t]
	return d, ok
}

// MustLookup panics if t is not registered; used only for detail types the
// engine itself constructs (never for externally-supplied detail types).
func MustLookup(t types.DetailType) Descriptor {
	d, ok := registry[t]
	if !ok {
		panic("schema: unregistered detail type " + string(t))
	}
	return d
}

// All returns every registered descriptor, in a fixed deterministic order
// (registration order in buildRegistry), for callers that must iterate the
// full set.
func All() []Descriptor {
	order := []types.DetailType{
		types.DetailName, types.DetailNickname, types.DetailPhoneNumber,
		types.DetailEmailAddress, types.DetailAddress, types.DetailOrganization,
		types.DetailAvatar, types.DetailOnlineAccount, types.DetailPresence,
		types.DetailAnniversary, types.DetailBirthday, types.DetailNote,
		types.DetailUrl, types.DetailTag, types.DetailHobby, types.DetailGender,
		types.DetailFavorite, types.DetailTimestamp, types.DetailSyncTarget,
		types.DetailGuid, types.DetailType_, types.DetailDisplayLabel,
		types.DetailGlobalPresence, types.DetailStatusFlags,
		types.DetailOriginMetadata, types.DetailDeactivated, types.DetailIncidental,
	}
	out := make([]Descriptor, 0, len(order))
	for _, t := range order {
		out = append(out, registry[t])
	}
	return out
}

// IsComposed reports whether t is composed into aggregates.
func IsComposed(t types.DetailType) bool {
	d, ok := Lookup(t)
	return ok && d.Composed
}

// IsUnpromoted reports whether t is never copied to an aggregate.
func IsUnpromoted(t types.DetailType) bool {
	d, ok := Lookup(t)
	return ok && d.Unpromoted
}

// IsAbsolutelyUnpromoted reports whether t is never copied even under
// forced promotion.
func IsAbsolutelyUnpromoted(t types.DetailType) bool {
	d, ok := Lookup(t)
	return ok && d.AbsolutelyUnpromoted
}

// IsSingular reports whether a contact may hold at most one instance of t.
func IsSingular(t types.DetailType) bool {
	d, ok := Lookup(t)
	return ok && d.Singular
}
