package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/types"
)

// AddRelationships implements storage.RelationshipStore. Insertions are
// composed as a single UNION SELECT-based statement to avoid per-row round
// trips (spec.md §4.C), and rely on the table's UNIQUE(first_id, second_id,
// type) constraint plus INSERT OR IGNORE to deduplicate silently.
func (s *Store) AddRelationships(ctx context.Context, rels []types.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	err := s.withImmediateTx(ctx, "sqlite.AddRelationships", func(conn *sql.Conn) error {
		for _, r := range rels {
			if r.FirstID == r.SecondID {
				return engineerr.New(engineerr.InvalidRelationship, "sqlite.AddRelationships", "self edge")
			}
			if exists, err := contactExistsTx(ctx, conn, r.FirstID); err != nil {
				return err
			} else if !exists {
				return engineerr.New(engineerr.InvalidRelationship, "sqlite.AddRelationships", fmt.Sprintf("endpoint %d does not exist", r.FirstID))
			}
			if exists, err := contactExistsTx(ctx, conn, r.SecondID); err != nil {
				return err
			} else if !exists {
				return engineerr.New(engineerr.InvalidRelationship, "sqlite.AddRelationships", fmt.Sprintf("endpoint %d does not exist", r.SecondID))
			}
		}

		selects := make([]string, 0, len(rels))
		args := make([]any, 0, len(rels)*3)
		for _, r := range rels {
			selects = append(selects, "SELECT ? AS first_id, ? AS second_id, ? AS type")
			args = append(args, r.FirstID, r.SecondID, string(r.Type))
		}
		q := fmt.Sprintf("INSERT OR IGNORE INTO relationships (first_id, second_id, type) %s", strings.Join(selects, " UNION ALL "))
		_, err := conn.ExecContext(ctx, q, args...)
		return err
	})
	return translateSQLiteError("sqlite.AddRelationships", err)
}

func contactExistsTx(ctx context.Context, conn *sql.Conn, id int32) (bool, error) {
	var x int
	err := conn.QueryRowContext(ctx, `SELECT 1 FROM contacts WHERE contact_id = ?`, id).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveRelationships implements storage.RelationshipStore.
func (s *Store) RemoveRelationships(ctx context.Context, rels []types.Relationship) error {
	err := s.withImmediateTx(ctx, "sqlite.RemoveRelationships", func(conn *sql.Conn) error {
		for _, r := range rels {
			res, err := conn.ExecContext(ctx, `DELETE FROM relationships WHERE first_id = ? AND second_id = ? AND type = ?`,
				r.FirstID, r.SecondID, string(r.Type))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return engineerr.New(engineerr.DoesNotExist, "sqlite.RemoveRelationships",
					fmt.Sprintf("%d-%s-%d", r.FirstID, r.Type, r.SecondID))
			}
		}
		return nil
	})
	return err
}

// RelationshipsFor implements storage.RelationshipStore.
func (s *Store) RelationshipsFor(ctx context.Context, id int32) ([]types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT first_id, second_id, type FROM relationships WHERE first_id = ? OR second_id = ?`, id, id)
	if err != nil {
		return nil, engineerr.Wrap("sqlite.RelationshipsFor", err)
	}
	defer rows.Close()
	var out []types.Relationship
	for rows.Next() {
		var r types.Relationship
		var typ string
		if err := rows.Scan(&r.FirstID, &r.SecondID, &typ); err != nil {
			return nil, engineerr.Wrap("sqlite.RelationshipsFor", err)
		}
		r.Type = types.RelationshipType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ConstituentsOf implements storage.RelationshipStore.
func (s *Store) ConstituentsOf(ctx context.Context, aggregateID int32) ([]int32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT second_id FROM relationships WHERE first_id = ? AND type = ?`,
		aggregateID, string(types.RelationshipAggregates))
	if err != nil {
		return nil, engineerr.Wrap("sqlite.ConstituentsOf", err)
	}
	defer rows.Close()
	var out []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, engineerr.Wrap("sqlite.ConstituentsOf", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AggregateOf implements storage.RelationshipStore.
func (s *Store) AggregateOf(ctx context.Context, constituentID int32) (int32, bool, error) {
	var id int32
	err := s.db.QueryRowContext(ctx, `SELECT first_id FROM relationships WHERE second_id = ? AND type = ?`,
		constituentID, string(types.RelationshipAggregates)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, engineerr.Wrap("sqlite.AggregateOf", err)
	}
	return id, true, nil
}

// IsNot implements storage.RelationshipStore.
func (s *Store) IsNot(ctx context.Context, a, b int32) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM relationships
		WHERE type = ? AND ((first_id = ? AND second_id = ?) OR (first_id = ? AND second_id = ?))
		LIMIT 1`, string(types.RelationshipIsNot), a, b, b, a).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, engineerr.Wrap("sqlite.IsNot", err)
	}
	return true, nil
}
