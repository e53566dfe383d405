package enums

// JournalState records where a pending checkout stopped.
type JournalState string

const (
	JournalStateAwaitingGateway        JournalState = "awaiting_gateway"
	JournalStateAbandoned              JournalState = "abandoned"
	JournalStateReconciliationRequired JournalState = "reconciliation_required"
	// JournalStateNeedsSupport marks a paid entry whose snapshot the order
	// store rejects; retrying cannot settle it.
	JournalStateNeedsSupport JournalState = "needs_support"
)

// String implements fmt.Stringer.
func (s JournalState) String() string {
	return string(s)
}
