package request

// Legal transitions are enumerated, not inferred. Conditional store updates
// enforce the same edges under concurrency; these tables are the single place
// the state machine is written down.

var requestTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:   {ItemFulfilled, ItemRejected},
	ItemFulfilled: nil,
	ItemRejected:  nil,
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanItemTransition reports whether an item may move from one status to another.
func CanItemTransition(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a request status admits no further transitions.
func (s Status) IsTerminal() bool {
	return len(requestTransitions[s]) == 0
}

// IsTerminal reports whether an item status admits no further transitions.
func (s ItemStatus) IsTerminal() bool {
	return len(itemTransitions[s]) == 0
}
