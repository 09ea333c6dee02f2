// Package engineerr defines the error-kind enumeration shared by every
// component of the contacts engine, and the sentinel errors each kind
// wraps.
package engineerr

import (
	"database/sql"
	"errors"
	"fmt"
)

// Kind is one of the error kinds from spec.md §7. It is never the
// concrete error type returned to callers; callers use errors.Is against
// the sentinels below, or Of(err) to recover the Kind for logging/metrics.
type Kind int

const (
	NoError Kind = iota
	DoesNotExist
	AlreadyExists
	InvalidDetail
	InvalidRelationship
	InvalidContactType
	LimitReached
	BadArgument
	NotSupported
	Locked
	UnspecifiedError
)

func (k Kind) String() string {
	switch k {
	case NoError:
		return "NoError"
	case DoesNotExist:
		return "DoesNotExist"
	case AlreadyExists:
		return "AlreadyExists"
	case InvalidDetail:
		return "InvalidDetail"
	case InvalidRelationship:
		return "InvalidRelationship"
	case InvalidContactType:
		return "InvalidContactType"
	case LimitReached:
		return "LimitReached"
	case BadArgument:
		return "BadArgument"
	case NotSupported:
		return "NotSupported"
	case Locked:
		return "Locked"
	default:
		return "UnspecifiedError"
	}
}

// Sentinel errors, one per Kind. The helpers below attach operation
// context via fmt.Errorf("%w", ...).
var (
	ErrDoesNotExist        = errors.New("does not exist")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidDetail       = errors.New("invalid detail")
	ErrInvalidRelationship = errors.New("invalid relationship")
	ErrInvalidContactType  = errors.New("invalid contact type")
	ErrLimitReached        = errors.New("limit reached")
	ErrBadArgument         = errors.New("bad argument")
	ErrNotSupported        = errors.New("not supported")
	ErrLocked              = errors.New("locked")
	ErrUnspecified         = errors.New("unspecified error")
)

var sentinelByKind = map[Kind]error{
	DoesNotExist:        ErrDoesNotExist,
	AlreadyExists:       ErrAlreadyExists,
	InvalidDetail:       ErrInvalidDetail,
	InvalidRelationship: ErrInvalidRelationship,
	InvalidContactType:  ErrInvalidContactType,
	LimitReached:        ErrLimitReached,
	BadArgument:         ErrBadArgument,
	NotSupported:        ErrNotSupported,
	Locked:              ErrLocked,
	UnspecifiedError:    ErrUnspecified,
}

// New builds an error of the given kind with operation context.
func New(kind Kind, op string, detail string) error {
	base := sentinelByKind[kind]
	if base == nil {
		base = ErrUnspecified
	}
	if detail == "" {
		return fmt.Errorf("%s: %w", op, base)
	}
	return fmt.Errorf("%s: %s: %w", op, detail, base)
}

// Wrap converts a lower-level error (typically from database/sql) into an
// engine error, translating sql.ErrNoRows into DoesNotExist.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrDoesNotExist)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Of recovers the Kind of an error produced by this package, defaulting to
// UnspecifiedError for anything else (including raw SQL errors that were
// never classified).
func Of(err error) Kind {
	if err == nil {
		return NoError
	}
	for k, sentinel := range sentinelByKind {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return UnspecifiedError
}

// Worst returns the error whose Kind sorts latest in severity among a set
// of per-item errors, matching spec.md §7's "worst error code observed is
// returned as the overall result".
func Worst(errs ...error) error {
	var worst error
	worstKind := NoError
	for _, e := range errs {
		if e == nil {
			continue
		}
		k := Of(e)
		if worst == nil || k > worstKind {
			worst = e
			worstKind = k
		}
	}
	return worst
}
