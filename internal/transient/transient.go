// Package transient defines the boundary to component J, the shared-memory
// transient store that durable writes can be suppressed in favor of for
// presence-only updates (spec.md §4.B "Transient suppression", §1/§5). The
// real implementation lives outside this engine's scope; this package only
// fixes the interface and a test double exercising it.
package transient

import (
	"context"

	"github.com/steveyegge/contactsdb/internal/types"
)

// Store is everything the write pipeline needs from the transient layer:
// a place to park presence-only updates instead of writing them durably,
// and a way to invalidate an entry once a durable write supersedes it.
type Store interface {
	// Put records contact's current presence-only fields in shared memory,
	// replacing any previous entry.
	Put(ctx context.Context, contactID int32, c *types.Contact) error

	// Invalidate drops any transient entry for contactID, called whenever a
	// durable write touches that contact.
	Invalidate(ctx context.Context, contactID int32) error

	// Get returns the transient overlay for contactID, if any.
	Get(ctx context.Context, contactID int32) (*types.Contact, bool, error)
}
