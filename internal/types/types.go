// Package types holds the contacts engine's data model (spec.md §3):
// Contact, Detail, Relationship, Tombstone, Identity and OOB entries.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SyncTarget names the origin of a contact's data. The four well-known
// values are predefined; anything else is an opaque sync-source name.
type SyncTarget string

const (
	SyncTargetLocal     SyncTarget = "local"
	SyncTargetWasLocal  SyncTarget = "was_local"
	SyncTargetAggregate SyncTarget = "aggregate"
	SyncTargetExport    SyncTarget = "export"
)

// IsBuiltin reports whether t is one of the four predefined sync targets.
func (t SyncTarget) IsBuiltin() bool {
	switch t {
	case SyncTargetLocal, SyncTargetWasLocal, SyncTargetAggregate, SyncTargetExport:
		return true
	default:
		return false
	}
}

// Context is a detail context (Home/Work/Other/Default/Large).
type Context string

const (
	ContextHome    Context = "Home"
	ContextWork    Context = "Work"
	ContextOther   Context = "Other"
	ContextDefault Context = "Default"
	ContextLarge   Context = "Large"
)

// JoinContexts renders contexts as the ';'-joined string stored on a
// detail row.
func JoinContexts(cs []Context) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ";")
}

// SplitContexts parses the ';'-joined string stored on a detail row.
func SplitContexts(s string) []Context {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]Context, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, Context(p))
		}
	}
	return out
}

// AccessConstraint is a bitset of access restrictions on a detail.
type AccessConstraint int

const (
	AccessNone       AccessConstraint = 0
	AccessReadOnly   AccessConstraint = 1 << 0
	AccessIrremovable AccessConstraint = 1 << 1
)

func (a AccessConstraint) Has(f AccessConstraint) bool { return a&f != 0 }

// PresenceState is the state of an OnlineAccount/Presence detail, ordered
// so that "most available" sorts lowest, matching spec.md §4.B's
// globalPresence tie-break ("most available state").
type PresenceState int

const (
	PresenceAvailable PresenceState = iota
	PresenceAway
	PresenceExtendedAway
	PresenceBusy
	PresenceHidden
	PresenceOffline
	PresenceUnknown
)

// IsOnline reports whether a presence state counts toward isOnline
// (spec.md invariant 6: states < Offline).
func (p PresenceState) IsOnline() bool { return p < PresenceOffline }

// DetailType enumerates every detail kind the schema registry (component
// A) knows about.
type DetailType string

const (
	DetailName           DetailType = "Name"
	DetailNickname       DetailType = "Nickname"
	DetailPhoneNumber    DetailType = "PhoneNumber"
	DetailEmailAddress   DetailType = "EmailAddress"
	DetailAddress        DetailType = "Address"
	DetailOrganization   DetailType = "Organization"
	DetailAvatar         DetailType = "Avatar"
	DetailOnlineAccount  DetailType = "OnlineAccount"
	DetailPresence       DetailType = "Presence"
	DetailAnniversary    DetailType = "Anniversary"
	DetailBirthday       DetailType = "Birthday"
	DetailNote           DetailType = "Note"
	DetailUrl            DetailType = "Url"
	DetailTag            DetailType = "Tag"
	DetailHobby          DetailType = "Hobby"
	DetailGender         DetailType = "Gender"
	DetailFavorite       DetailType = "Favorite"
	DetailTimestamp      DetailType = "Timestamp"
	DetailSyncTarget     DetailType = "SyncTarget"
	DetailGuid           DetailType = "Guid"
	DetailType_          DetailType = "Type" // Trailing "_" because DetailType already names this Go type; field name only.
	DetailDisplayLabel   DetailType = "DisplayLabel"
	DetailGlobalPresence DetailType = "GlobalPresence"
	DetailStatusFlags    DetailType = "StatusFlags"
	DetailOriginMetadata DetailType = "OriginMetadata"
	DetailDeactivated    DetailType = "Deactivated"
	DetailIncidental     DetailType = "Incidental"
)

// Detail is a typed record attached to a contact (spec.md §3).
type Detail struct {
	DetailID         int32
	Type             DetailType
	Fields           map[string]any
	Contexts         []Context
	AccessConstraint AccessConstraint
	Provenance       string // "<contactId>:<detailId>:<syncTarget>", empty if unset
	Modifiable       bool
	Nonexportable    bool
}

// Provenance builds the provenance string for a detail originating on
// contact originID with the given sync target.
func Provenance(originID, detailID int32, target SyncTarget) string {
	return fmt.Sprintf("%d:%d:%s", originID, detailID, target)
}

// ParseProvenance splits a provenance string into its components. ok is
// false if the string is not well-formed.
func ParseProvenance(p string) (contactID, detailID int32, target SyncTarget, ok bool) {
	parts := strings.SplitN(p, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", false
	}
	var cid, did int64
	if _, err := fmt.Sscanf(parts[0], "%d", &cid); err != nil {
		return 0, 0, "", false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &did); err != nil {
		return 0, 0, "", false
	}
	return int32(cid), int32(did), SyncTarget(parts[2]), true
}

// Clone returns a deep-enough copy of d suitable for promoting to another
// contact (detail values are owned, not shared — DESIGN NOTES in spec.md §9).
func (d Detail) Clone() Detail {
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	contexts := append([]Context(nil), d.Contexts...)
	cp := d
	cp.Fields = fields
	cp.Contexts = contexts
	return cp
}

// Contact is the primary entity (spec.md §3).
type Contact struct {
	ID              int32
	SyncTarget      SyncTarget
	Created         time.Time
	Modified        time.Time
	IsDeactivated   bool
	IsIncidental    bool
	HasPhoneNumber  bool
	HasEmailAddress bool
	HasOnlineAccount bool
	IsOnline        bool
	Details         []Detail
}

// DetailsOfType returns the contact's details of the given type, in
// storage order.
func (c *Contact) DetailsOfType(t DetailType) []Detail {
	var out []Detail
	for _, d := range c.Details {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// FirstDetailOfType returns the first detail of the given type, or
// (Detail{}, false).
func (c *Contact) FirstDetailOfType(t DetailType) (Detail, bool) {
	for _, d := range c.Details {
		if d.Type == t {
			return d, true
		}
	}
	return Detail{}, false
}

// FindByProvenance implements component D's findByProvenance primitive.
func (c *Contact) FindByProvenance(provenance string, t DetailType) (Detail, bool) {
	for _, d := range c.Details {
		if d.Type == t && d.Provenance == provenance {
			return d, true
		}
	}
	return Detail{}, false
}

// stringField reads a string field, defaulting to "".
func (d Detail) stringField(name string) string {
	v, _ := d.Fields[name].(string)
	return v
}

// LowerLastName returns the case-folded last name from this contact's Name
// detail, or "" if none.
func (c *Contact) LowerLastName() string {
	if n, ok := c.FirstDetailOfType(DetailName); ok {
		return strings.ToLower(n.stringField("LastName"))
	}
	return ""
}

// LowerFirstName mirrors LowerLastName for the first name field.
func (c *Contact) LowerFirstName() string {
	if n, ok := c.FirstDetailOfType(DetailName); ok {
		return strings.ToLower(n.stringField("FirstName"))
	}
	return ""
}

// LowerNickname returns the case-folded value of the first Nickname
// detail, or "".
func (c *Contact) LowerNickname() string {
	if n, ok := c.FirstDetailOfType(DetailNickname); ok {
		return strings.ToLower(n.stringField("Nickname"))
	}
	return ""
}

// Gender returns the value of the Gender detail's "Gender" field, or "" if
// unset/absent.
func (c *Contact) Gender() string {
	if g, ok := c.FirstDetailOfType(DetailGender); ok {
		return g.stringField("Gender")
	}
	return ""
}

// Relationship is a directed typed edge between two contacts (spec.md §3).
type RelationshipType string

const (
	RelationshipAggregates RelationshipType = "Aggregates"
	RelationshipIsNot      RelationshipType = "IsNot"
)

type Relationship struct {
	FirstID  int32
	SecondID int32
	Type     RelationshipType
}

// Tombstone is a deletion record retained for sync-delta queries.
type Tombstone struct {
	ContactID  int32
	SyncTarget SyncTarget
	DeletedAt  time.Time
}

// IdentityName names a well-known special contact.
type IdentityName string

const IdentitySelfContactID IdentityName = "SelfContactId"

// Fixed contact ids guaranteed to always exist (spec.md invariant 7).
const (
	SelfLocalContactID     int32 = 1
	SelfAggregateContactID int32 = 2
)

// OOBEntry is a (scope, key) -> value tuple, with an opportunistic
// compression code (spec.md §4.H).
type CompressionCode int

const (
	CompressionNone           CompressionCode = 0
	CompressionBinaryZstd     CompressionCode = 1
	CompressionUTF8Zstd       CompressionCode = 2
)

type OOBEntry struct {
	Scope           string
	Key             string
	Value           []byte
	IsText          bool
	CompressionCode CompressionCode
}

// ChangeSet accumulates the ids a write-pipeline transaction touched, for
// the five notification categories in spec.md §4.F/§5.
type ChangeSet struct {
	Added             []int32
	Changed           []int32
	PresenceOnlyChanged []int32
	Removed           []int32
	SyncTargetsChanged map[SyncTarget]bool
}

// NewChangeSet returns an empty, ready-to-use ChangeSet.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{SyncTargetsChanged: make(map[SyncTarget]bool)}
}

func (cs *ChangeSet) AddSyncTarget(t SyncTarget) {
	if cs.SyncTargetsChanged == nil {
		cs.SyncTargetsChanged = make(map[SyncTarget]bool)
	}
	cs.SyncTargetsChanged[t] = true
}

// SortedSyncTargets returns the changed sync targets in a deterministic
// order, for notification emission and tests.
func (cs *ChangeSet) SortedSyncTargets() []SyncTarget {
	out := make([]SyncTarget, 0, len(cs.SyncTargetsChanged))
	for t := range cs.SyncTargetsChanged {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Empty reports whether no category of this change set has anything in
// it — used to decide whether a notification would be a no-op.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Changed) == 0 &&
		len(cs.PresenceOnlyChanged) == 0 && len(cs.Removed) == 0
}

// Merge folds other into cs, used when a batch save accumulates per-contact
// results into one transaction-wide change set.
func (cs *ChangeSet) Merge(other *ChangeSet) {
	if other == nil {
		return
	}
	cs.Added = append(cs.Added, other.Added...)
	cs.Changed = append(cs.Changed, other.Changed...)
	cs.PresenceOnlyChanged = append(cs.PresenceOnlyChanged, other.PresenceOnlyChanged...)
	cs.Removed = append(cs.Removed, other.Removed...)
	for t := range other.SyncTargetsChanged {
		cs.AddSyncTarget(t)
	}
}
