// Package compare implements the detail comparator (spec.md §4.D,
// component D): field-by-field equality, superset test, and
// provenance-aware identity of details.
package compare

import (
	"reflect"

	"github.com/steveyegge/contactsdb/internal/types"
)

// Equivalent reports whether a and b are the same type and have an
// identical field map, excluding the provenance field and access
// constraints. List-of-integer (and any list-typed) fields are compared
// as lists rather than as opaque values — the workaround spec.md §4.D
// calls out explicitly.
func Equivalent(a, b types.Detail) bool {
	if a.Type != b.Type {
		return false
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for k, av := range a.Fields {
		bv, ok := b.Fields[k]
		if !ok {
			return false
		}
		if !fieldEqual(av, bv) {
			return false
		}
	}
	return true
}

// fieldEqual compares one field value. Slices (string-list / int-list
// fields) are compared element-wise; everything else falls back to a
// direct comparison with a reflect.DeepEqual escape hatch for composite
// values (e.g. a stored map).
func fieldEqual(a, b any) bool {
	av, aIsSlice := toSlice(a)
	bv, bIsSlice := toSlice(b)
	if aIsSlice || bIsSlice {
		if !aIsSlice || !bIsSlice {
			return false
		}
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !fieldEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return a == b || reflect.DeepEqual(a, b)
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int32:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// Superset reports whether a is the same type as b and every field of b
// is present and equal in a (a may have additional fields b does not).
func Superset(a, b types.Detail) bool {
	if a.Type != b.Type {
		return false
	}
	for k, bv := range b.Fields {
		av, ok := a.Fields[k]
		if !ok || !fieldEqual(av, bv) {
			return false
		}
	}
	return true
}

// FindByProvenance returns the unique detail of type t on contact c
// carrying provenance p, or (Detail{}, false).
func FindByProvenance(c *types.Contact, provenance string, t types.DetailType) (types.Detail, bool) {
	return c.FindByProvenance(provenance, t)
}

// Delta computes the set of details present in updated but absent
// (non-equivalent) from original, and vice versa — used by down-promotion
// (§4.E.3) and the sync update detail-level diff (§4.G.2). Unpromoted
// types should be filtered by the caller before calling Delta where that
// matters; this function only computes set difference by equivalence.
func Delta(original, updated []types.Detail) (added, removed []types.Detail) {
	for _, u := range updated {
		found := false
		for _, o := range original {
			if Equivalent(u, o) {
				found = true
				break
			}
		}
		if !found {
			added = append(added, u)
		}
	}
	for _, o := range original {
		found := false
		for _, u := range updated {
			if Equivalent(o, u) {
				found = true
				break
			}
		}
		if !found {
			removed = append(removed, o)
		}
	}
	return added, removed
}
