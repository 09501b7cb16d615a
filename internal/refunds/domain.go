// Package refunds tracks customer refund requests through review. Amounts are
// whole Syrian pounds; SYP has no circulating subunit.
package refunds

import "time"

// Status is a refund's position in the review workflow.
type Status string

// Workflow states. Requested refunds are triaged into review, reviewed
// refunds are approved or rejected, and approved refunds are marked refunded
// once the payout is confirmed.
const (
	StatusRequested   Status = "requested"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusRefunded    Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusRequested:   {StatusUnderReview},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusRefunded},
}

// CanTransition reports whether the workflow permits moving to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Refund is one customer refund request.
type Refund struct {
	ID         int64
	OrderID    int64
	CustomerID int64
	VendorID   int64
	AmountSYP  int64
	Reason     string
	Status     Status
	ReviewerID *int64
	ReviewNote string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Filters narrows refund listings.
type Filters struct {
	Status   Status
	VendorID *int64
	Page     int
	PerPage  int
}
