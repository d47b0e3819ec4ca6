package domain

type RejectReason string

const (
	ReasonNone               RejectReason = ""
	ReasonUnknownItem        RejectReason = "unknown_item"
	ReasonInsufficientStock  RejectReason = "insufficient_stock"
	ReasonContention         RejectReason = "contention"
	ReasonStorageUnavailable RejectReason = "storage_unavailable"
)

type OutcomeKind string

const (
	OutcomeCommitted   OutcomeKind = "committed"
	OutcomeRejected    OutcomeKind = "rejected"
	OutcomeCompensated OutcomeKind = "compensated"
	OutcomeInProgress  OutcomeKind = "in_progress"
)

// Outcome is the terminal (or in-progress) answer for one order id.
type Outcome struct {
	OrderID string
	Kind    OutcomeKind
	Reason  RejectReason
	// Replayed is set when the answer came from an existing record.
	Replayed bool
}

func Committed(orderID string) Outcome {
	return Outcome{OrderID: orderID, Kind: OutcomeCommitted}
}

func Compensated(orderID string) Outcome {
	return Outcome{OrderID: orderID, Kind: OutcomeCompensated}
}

func Rejected(orderID string, reason RejectReason) Outcome {
	return Outcome{OrderID: orderID, Kind: OutcomeRejected, Reason: reason}
}

func InProgress(orderID string) Outcome {
	return Outcome{OrderID: orderID, Kind: OutcomeInProgress}
}
