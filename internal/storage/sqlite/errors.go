package sqlite

import (
	"strings"

	"github.com/steveyegge/contactsdb/internal/engineerr"
)

// translateSQLiteError maps modernc.org/sqlite's string-based constraint
// errors onto engine error kinds.
func translateSQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return engineerr.New(engineerr.AlreadyExists, op, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return engineerr.New(engineerr.InvalidRelationship, op, msg)
	default:
		return engineerr.Wrap(op, err)
	}
}
