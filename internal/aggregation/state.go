package aggregation

// State is the per-aggregate lifecycle state (spec.md §4.E.6). It is
// tracked only for observability (logging/metrics) — the database itself
// has no "state" column; the state is always re-derivable from an
// aggregate's current constituent set.
type State int

const (
	StateNonexistent State = iota
	StateCreated
	StateUpdated
	StateChildlessPending
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateNonexistent:
		return "Nonexistent"
	case StateCreated:
		return "Created"
	case StateUpdated:
		return "Updated"
	case StateChildlessPending:
		return "ChildlessPending"
	case StateRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// transitions enumerates every legal (from, to) pair in spec.md §4.E.6.
var transitions = map[State]map[State]bool{
	StateNonexistent:     {StateCreated: true},
	StateCreated:         {StateUpdated: true, StateChildlessPending: true},
	StateUpdated:         {StateUpdated: true, StateChildlessPending: true},
	StateChildlessPending: {StateRemoved: true, StateUpdated: true},
	StateRemoved:         {},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// NextState derives the state an aggregate should be in given its current
// state and its live (non-deactivated) constituent count.
func NextState(current State, nonDeactivatedConstituents int, committing bool) State {
	switch current {
	case StateNonexistent:
		if nonDeactivatedConstituents > 0 {
			return StateCreated
		}
		return StateNonexistent
	case StateChildlessPending:
		if nonDeactivatedConstituents > 0 {
			return StateUpdated
		}
		if committing {
			return StateRemoved
		}
		return StateChildlessPending
	default:
		if nonDeactivatedConstituents == 0 {
			return StateChildlessPending
		}
		return StateUpdated
	}
}
