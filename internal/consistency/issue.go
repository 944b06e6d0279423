package consistency

import "time"

// IssueType identifies a class of data inconsistency.
type IssueType string

const (
	// IssueBillAmountMismatch flags |pending - (amount - received)| above
	// tolerance.
	IssueBillAmountMismatch IssueType = "BILL_AMOUNT_MISMATCH"
	// IssueBillStatusMismatch flags a status that disagrees with the
	// pending amount.
	IssueBillStatusMismatch IssueType = "BILL_STATUS_MISMATCH"
	// IssueOrphanedReading flags a BILLED reading with no bill detail.
	IssueOrphanedReading IssueType = "ORPHANED_READING"
	// IssueUnmarkedReading flags a reading with a bill detail that is not
	// BILLED.
	IssueUnmarkedReading IssueType = "UNMARKED_READING"
	// IssueDuplicateReadingDetails flags a reading referenced by more than
	// one bill detail; this needs a human to pick the surviving bill.
	IssueDuplicateReadingDetails IssueType = "DUPLICATE_READING_DETAILS"
	// IssueDetailAmountMismatch flags a detail where amount differs from
	// usage times unit price.
	IssueDetailAmountMismatch IssueType = "DETAIL_AMOUNT_MISMATCH"
	// IssueDetailSumMismatch flags a utility bill whose details do not sum
	// to the bill amount.
	IssueDetailSumMismatch IssueType = "DETAIL_SUM_MISMATCH"
	// IssueMissingBillDetails flags a utility bill with no details at all.
	IssueMissingBillDetails IssueType = "MISSING_BILL_DETAILS"
	// IssueRoomStatusMismatch flags a room whose status disagrees with its
	// occupying contracts.
	IssueRoomStatusMismatch IssueType = "ROOM_STATUS_MISMATCH"
	// IssueOccupiedRoomNoContract flags an OCCUPIED room with zero
	// occupying contracts.
	IssueOccupiedRoomNoContract IssueType = "OCCUPIED_ROOM_WITHOUT_CONTRACT"
	// IssueCheckError is synthesized when a check itself fails to run.
	IssueCheckError IssueType = "CHECK_ERROR"
)

// Severity ranks how urgently an issue needs attention.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// severityRank orders severities for repair scheduling, most urgent first.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// FixCode names a concrete repair action for an issue.
type FixCode string

const (
	FixRecalcBillPending  FixCode = "RECALC_BILL_PENDING"
	FixRecalcBillStatus   FixCode = "RECALC_BILL_STATUS"
	FixResetOrphanedRead  FixCode = "RESET_ORPHANED_READING"
	FixMarkReadingBilled  FixCode = "MARK_READING_BILLED"
	FixSyncRoomStatus     FixCode = "SYNC_ROOM_STATUS"
	FixRebuildBillDetails FixCode = "REBUILD_BILL_DETAILS"
	FixRecalcDetailAmount FixCode = "RECALC_DETAIL_AMOUNT"
)

// Issue is one detected inconsistency with enough context to repair it.
type Issue struct {
	Type     IssueType
	Severity Severity
	// EntityID is the primary record the issue is about: bill, reading,
	// detail or room id depending on the type.
	EntityID string
	Message  string
	Fix      FixCode
	// Context carries secondary ids and observed values for diagnostics.
	Context map[string]any
}

// Report is the outcome of one audit sweep.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration
	// Checked counts entities examined per check name.
	Checked map[string]int
	Issues  []Issue
}

// CountBySeverity buckets the report's issues.
func (r *Report) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int, 4)
	for _, issue := range r.Issues {
		out[issue.Severity]++
	}
	return out
}

// Healthy reports whether the sweep found nothing to fix.
func (r *Report) Healthy() bool {
	return len(r.Issues) == 0
}
