package queue

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusAwaitingApproval Status = "awaiting-approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
	StatusReverted         Status = "reverted"
)

// transitions is the closed set of legal status moves:
// pending -> processing -> awaiting-approval -> processing -> completed|failed,
// cancelled from awaiting-approval, reverted only from completed.
var transitions = map[Status][]Status{
	StatusPending:          {StatusProcessing, StatusFailed},
	StatusProcessing:       {StatusAwaitingApproval, StatusCompleted, StatusFailed},
	StatusAwaitingApproval: {StatusProcessing, StatusCancelled},
	StatusCompleted:        {StatusReverted},
	StatusFailed:           {},
	StatusCancelled:        {},
	StatusReverted:         {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible except
// the operator-driven revert of a completed item.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusReverted
}
