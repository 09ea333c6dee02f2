package sqlite

import (
	"context"
	"database/sql"

	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/types"
)

// SetIdentity implements storage.IdentityStore, component I. The
// SelfContactId identity is fixed at creation time (spec.md invariant 7:
// contacts 1 and 2 always exist as the local/aggregate self) and cannot be
// retargeted.
func (s *Store) SetIdentity(ctx context.Context, name types.IdentityName, contactID int32) error {
	if name == types.IdentitySelfContactID {
		var existing int32
		err := s.db.QueryRowContext(ctx, `SELECT contact_id FROM identities WHERE name = ?`, string(name)).Scan(&existing)
		if err == nil && existing != contactID {
			return engineerr.New(engineerr.NotSupported, "sqlite.SetIdentity", "SelfContactId cannot be changed once set")
		}
	}
	err := s.withImmediateTx(ctx, "sqlite.SetIdentity", func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO identities (name, contact_id) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET contact_id = excluded.contact_id`,
			string(name), contactID)
		return err
	})
	return engineerr.Wrap("sqlite.SetIdentity", err)
}

// GetIdentity implements storage.IdentityStore.
func (s *Store) GetIdentity(ctx context.Context, name types.IdentityName) (int32, bool, error) {
	var id int32
	err := s.db.QueryRowContext(ctx, `SELECT contact_id FROM identities WHERE name = ?`, string(name)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, engineerr.Wrap("sqlite.GetIdentity", err)
	}
	return id, true, nil
}

// TombstonesSince implements storage.Storage's sync-delta support query
// (spec.md §4.G.1): tombstones for the given sync target, or for any id in
// exportedIDs, recorded strictly after since.
func (s *Store) TombstonesSince(ctx context.Context, target types.SyncTarget, since int64, exportedIDs []int32) ([]types.Tombstone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id, sync_target, deleted_at FROM deleted_contacts`)
	if err != nil {
		return nil, engineerr.Wrap("sqlite.TombstonesSince", err)
	}
	defer rows.Close()

	exported := make(map[int32]bool, len(exportedIDs))
	for _, id := range exportedIDs {
		exported[id] = true
	}

	var out []types.Tombstone
	for rows.Next() {
		var t types.Tombstone
		var syncTarget, deletedAt string
		if err := rows.Scan(&t.ContactID, &syncTarget, &deletedAt); err != nil {
			return nil, engineerr.Wrap("sqlite.TombstonesSince", err)
		}
		t.SyncTarget = types.SyncTarget(syncTarget)
		t.DeletedAt = parseTime(deletedAt)
		if t.DeletedAt.Unix() <= since {
			continue
		}
		if t.SyncTarget != target && !exported[t.ContactID] {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
