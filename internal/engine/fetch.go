package engine

// FetchState tracks the asynchronous store lookup for one tracking unit.
type FetchState int

const (
	// StatePreFetch is the initial state; no store query issued yet.
	StatePreFetch FetchState = iota
	// StateFetching means a store query is outstanding. A further fetch
	// request in this state sets the refetch flag instead of issuing a
	// second query.
	StateFetching
	// StateReady means results were applied and the match set is built.
	StateReady
)

func (s FetchState) String() string {
	switch s {
	case StatePreFetch:
		return "pre-fetch"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}
