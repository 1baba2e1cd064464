package enum

// DiscrepancyEntity names the ledger table a discrepancy refers to.
type DiscrepancyEntity string

const (
	DiscrepancyEntityOrder    DiscrepancyEntity = "order"
	DiscrepancyEntityPosition DiscrepancyEntity = "position"
)

// DiscrepancyCheck names the reconciliation check that produced a record.
type DiscrepancyCheck string

const (
	CheckOrderMissingRemote    DiscrepancyCheck = "order_missing_remote"
	CheckOrderUnknownLocal     DiscrepancyCheck = "order_unknown_local"
	CheckPositionMissingRemote DiscrepancyCheck = "position_missing_remote"
	CheckPositionSizeMismatch  DiscrepancyCheck = "position_size_mismatch"
	CheckPositionUnknownLocal  DiscrepancyCheck = "position_unknown_local"
)
