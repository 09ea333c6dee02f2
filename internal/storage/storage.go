// Package storage defines the interfaces every contacts engine backend
// must implement: the contact store (component B), the relationship store
// (component C), the OOB store (component H) and the identity store
// (component I). The only production implementation is
// internal/storage/sqlite.
package storage

import (
	"context"

	"github.com/steveyegge/contactsdb/internal/types"
)

// ContactMask restricts an update to a subset of detail types (spec.md
// §4.B update_contact). An empty mask means "rewrite every child table".
type ContactMask map[types.DetailType]bool

// NewMask builds a ContactMask from a list of detail types.
func NewMask(ts ...types.DetailType) ContactMask {
	if len(ts) == 0 {
		return nil
	}
	m := make(ContactMask, len(ts))
	for _, t := range ts {
		m[t] = true
	}
	return m
}

// ContactStore is component B: row-level CRUD across the primary Contacts
// table and per-detail-type child tables, with tombstones on delete.
type ContactStore interface {
	// CreateContact inserts the primary row (with already-computed derived
	// fields) and one child-table row per detail, returning the assigned
	// contactId.
	CreateContact(ctx context.Context, c *types.Contact) (int32, error)

	// UpdateContact rewrites the primary row, and rewrites child tables
	// per mask (all of them if mask is empty). Each rewrite is a full
	// delete-then-reinsert of that detail type for the contact.
	UpdateContact(ctx context.Context, id int32, c *types.Contact, mask ContactMask) error

	// RemoveContacts deletes rows and writes tombstones atomically.
	RemoveContacts(ctx context.Context, ids []int32) error

	// GetContact loads a contact (with all its details) by id.
	GetContact(ctx context.Context, id int32) (*types.Contact, error)

	// ContactExists reports whether id exists and, if so, its sync target.
	ContactExists(ctx context.Context, id int32) (exists bool, target types.SyncTarget, err error)

	// ListContactIDs returns every contact id with the given sync target
	// (supplemental operation; spec.md §4 Design Notes original_source
	// fetchContactIds).
	ListContactIDs(ctx context.Context, target types.SyncTarget) ([]int32, error)
}

// RelationshipStore is component C.
type RelationshipStore interface {
	// AddRelationships inserts edges, deduplicating silently on
	// (firstId, secondId, type) conflicts, as a single batched statement.
	AddRelationships(ctx context.Context, rels []types.Relationship) error

	// RemoveRelationships deletes the given edges. Removing a nonexistent
	// edge returns a DoesNotExist error.
	RemoveRelationships(ctx context.Context, rels []types.Relationship) error

	// RelationshipsFor returns every edge where id is the first or second
	// endpoint.
	RelationshipsFor(ctx context.Context, id int32) ([]types.Relationship, error)

	// ConstituentsOf returns the ids of contacts linked to aggregateID by
	// an Aggregates edge (aggregateID as firstId).
	ConstituentsOf(ctx context.Context, aggregateID int32) ([]int32, error)

	// AggregateOf returns the aggregate id that constituentID is linked to
	// via an Aggregates edge (constituentID as secondId), or ok=false.
	AggregateOf(ctx context.Context, constituentID int32) (aggregateID int32, ok bool, err error)

	// IsNot reports whether an IsNot edge exists between a and b
	// (in either direction).
	IsNot(ctx context.Context, a, b int32) (bool, error)
}

// OOBStore is component H.
type OOBStore interface {
	StoreOOB(ctx context.Context, scope string, kv map[string][]byte, isText map[string]bool) error
	FetchOOB(ctx context.Context, scope string, keys []string) (map[string][]byte, error)
	RemoveOOB(ctx context.Context, scope string, keys []string) error // nil keys = wildcard remove of entire scope
	HasOOB(ctx context.Context, scope, key string) (bool, error)
}

// IdentityStore is component I.
type IdentityStore interface {
	SetIdentity(ctx context.Context, name types.IdentityName, contactID int32) error
	GetIdentity(ctx context.Context, name types.IdentityName) (int32, bool, error)
}

// Storage is the full backend surface the write pipeline, aggregation
// engine and sync protocol are built against.
type Storage interface {
	ContactStore
	RelationshipStore
	OOBStore
	IdentityStore

	// TombstonesSince returns tombstones recorded strictly after since for
	// the given sync target (or for ids in exportedIDs), used by the sync
	// delta protocol (component G).
	TombstonesSince(ctx context.Context, target types.SyncTarget, since int64, exportedIDs []int32) ([]types.Tombstone, error)

	Close() error
}
