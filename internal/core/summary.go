package core

// CounterpartyBalance is one row of the dashboard rollup.
type CounterpartyBalance struct {
	CounterpartyID int64
	Name           string
	Balance        Money
}

// DashboardSummary is a read-only rollup of the ledger and schedule state.
// OwedByUser and OwedToUser are both reported as positive magnitudes.
type DashboardSummary struct {
	OwedByUser      Money
	OwedToUser      Money
	PendingDueCount int
	OverdueCount    int
	Counterparties  []CounterpartyBalance
	Upcoming        []Occurrence
}
