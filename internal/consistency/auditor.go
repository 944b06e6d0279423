package consistency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	billing "rental-cloud/internal/billing/domain"
	metering "rental-cloud/internal/metering/domain"
	"rental-cloud/internal/observability/metrics"
	tenancy "rental-cloud/internal/tenancy/domain"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Auditor runs read-only consistency checks over bills, readings and rooms.
// A check that fails to run never aborts the sweep; it is reported as a
// CRITICAL CHECK_ERROR issue instead.
type Auditor struct {
	bills     billing.Repository
	readings  metering.ReadingRepository
	rooms     tenancy.RoomRepository
	contracts tenancy.ContractRepository
	clock     Clock
	log       zerolog.Logger
}

// AuditorOption configures the auditor.
type AuditorOption func(*Auditor)

// WithAuditorClock overrides the default clock.
func WithAuditorClock(clock Clock) AuditorOption {
	return func(a *Auditor) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAuditor constructs the consistency auditor.
func NewAuditor(
	bills billing.Repository,
	readings metering.ReadingRepository,
	rooms tenancy.RoomRepository,
	contracts tenancy.ContractRepository,
	log zerolog.Logger,
	opts ...AuditorOption,
) (*Auditor, error) {
	if bills == nil || readings == nil || rooms == nil || contracts == nil {
		return nil, errors.New("consistency: nil repository")
	}
	a := &Auditor{
		bills:     bills,
		readings:  readings,
		rooms:     rooms,
		contracts: contracts,
		clock:     SystemClock{},
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type check struct {
	name string
	run  func(ctx context.Context, report *Report) error
}

// Run executes every check and returns the aggregated report. Auditing never
// mutates data, so running it twice back to back yields the same issues.
func (a *Auditor) Run(ctx context.Context) *Report {
	start := a.clock.Now()
	report := &Report{
		StartedAt: start,
		Checked:   make(map[string]int),
	}

	checks := []check{
		{"bill_amounts", a.checkBillAmounts},
		{"bill_statuses", a.checkBillStatuses},
		{"reading_links", a.checkReadingLinks},
		{"bill_details", a.checkBillDetails},
		{"room_statuses", a.checkRoomStatuses},
	}
	for _, c := range checks {
		if err := c.run(ctx, report); err != nil {
			a.log.Error().Err(err).Str("check", c.name).Msg("consistency check failed to run")
			report.Issues = append(report.Issues, Issue{
				Type:     IssueCheckError,
				Severity: SeverityCritical,
				EntityID: c.name,
				Message:  fmt.Sprintf("check %s failed: %v", c.name, err),
				Context:  map[string]any{"check": c.name},
			})
		}
	}

	report.Duration = a.clock.Now().Sub(start)
	for _, issue := range report.Issues {
		metrics.IssueFound(string(issue.Severity))
	}
	a.log.Info().
		Int("issues", len(report.Issues)).
		Dur("duration", report.Duration).
		Msg("consistency sweep finished")
	return report
}

// checkBillAmounts verifies pending = amount - received within tolerance and
// received <= amount for every bill.
func (a *Auditor) checkBillAmounts(ctx context.Context, report *Report) error {
	bills, err := a.bills.List(ctx)
	if err != nil {
		return err
	}
	report.Checked["bill_amounts"] = len(bills)
	for i := range bills {
		bill := &bills[i]
		if bill.ConsistentAmounts() {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Type:     IssueBillAmountMismatch,
			Severity: SeverityHigh,
			EntityID: bill.ID,
			Message:  fmt.Sprintf("bill %s: pending %.2f does not match amount %.2f - received %.2f", bill.BillNumber, bill.PendingAmount, bill.Amount, bill.ReceivedAmount),
			Fix:      FixRecalcBillPending,
			Context: map[string]any{
				"amount":   bill.Amount,
				"received": bill.ReceivedAmount,
				"pending":  bill.PendingAmount,
			},
		})
	}
	return nil
}

// checkBillStatuses verifies the payment status agrees with the pending
// amount.
func (a *Auditor) checkBillStatuses(ctx context.Context, report *Report) error {
	bills, err := a.bills.List(ctx)
	if err != nil {
		return err
	}
	report.Checked["bill_statuses"] = len(bills)
	for i := range bills {
		bill := &bills[i]
		if bill.StatusConsistent() {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Type:     IssueBillStatusMismatch,
			Severity: SeverityMedium,
			EntityID: bill.ID,
			Message:  fmt.Sprintf("bill %s: status %s disagrees with pending %.2f", bill.BillNumber, bill.Status, bill.PendingAmount),
			Fix:      FixRecalcBillStatus,
			Context: map[string]any{
				"status":  string(bill.Status),
				"pending": bill.PendingAmount,
			},
		})
	}
	return nil
}

// checkReadingLinks cross-checks reading billed flags against bill details
// in both directions.
func (a *Auditor) checkReadingLinks(ctx context.Context, report *Report) error {
	readings, err := a.readings.List(ctx)
	if err != nil {
		return err
	}
	report.Checked["reading_links"] = len(readings)
	for i := range readings {
		reading := &readings[i]
		count, err := a.bills.CountDetailsByReading(ctx, reading.ID)
		if err != nil {
			return err
		}
		billed := reading.IsBilled || reading.Status == metering.ReadingBilled
		switch {
		case billed && count == 0:
			report.Issues = append(report.Issues, Issue{
				Type:     IssueOrphanedReading,
				Severity: SeverityMedium,
				EntityID: reading.ID,
				Message:  fmt.Sprintf("reading %s is marked billed but no bill detail references it", reading.ID),
				Fix:      FixResetOrphanedRead,
			})
		case !billed && count > 0:
			report.Issues = append(report.Issues, Issue{
				Type:     IssueUnmarkedReading,
				Severity: SeverityHigh,
				EntityID: reading.ID,
				Message:  fmt.Sprintf("reading %s has %d bill detail(s) but is not marked billed", reading.ID, count),
				Fix:      FixMarkReadingBilled,
				Context:  map[string]any{"details": count},
			})
		}
	}
	return nil
}

// checkBillDetails verifies every utility bill has details, each detail's
// amount matches usage times price, and the details sum to the bill amount.
func (a *Auditor) checkBillDetails(ctx context.Context, report *Report) error {
	bills, err := a.bills.List(ctx)
	if err != nil {
		return err
	}
	checked := 0
	for i := range bills {
		bill := &bills[i]
		if bill.Type != billing.BillUtilities {
			continue
		}
		checked++
		details, err := a.bills.ListDetailsByBill(ctx, bill.ID)
		if err != nil {
			return err
		}
		if len(details) == 0 {
			report.Issues = append(report.Issues, Issue{
				Type:     IssueMissingBillDetails,
				Severity: SeverityHigh,
				EntityID: bill.ID,
				Message:  fmt.Sprintf("utility bill %s has no details", bill.BillNumber),
				Fix:      FixRebuildBillDetails,
			})
			continue
		}
		for j := range details {
			detail := &details[j]
			if detail.AmountConsistent() {
				continue
			}
			report.Issues = append(report.Issues, Issue{
				Type:     IssueDetailAmountMismatch,
				Severity: SeverityHigh,
				EntityID: detail.ID,
				Message:  fmt.Sprintf("detail %s: amount %.2f does not match usage %.2f * price %.2f", detail.ID, detail.Amount, detail.Usage, detail.UnitPrice),
				Fix:      FixRecalcDetailAmount,
				Context:  map[string]any{"bill_id": bill.ID},
			})
		}
		sum := billing.SumDetailAmounts(details)
		if !billing.AmountsEqual(sum, bill.Amount) {
			report.Issues = append(report.Issues, Issue{
				Type:     IssueDetailSumMismatch,
				Severity: SeverityHigh,
				EntityID: bill.ID,
				Message:  fmt.Sprintf("utility bill %s: details sum %.2f does not match amount %.2f", bill.BillNumber, sum, bill.Amount),
				Fix:      FixRecalcBillPending,
				Context:  map[string]any{"sum": sum, "amount": bill.Amount},
			})
		}
	}
	report.Checked["bill_details"] = checked
	return nil
}

// checkRoomStatuses verifies each room's status against its occupying
// contracts.
func (a *Auditor) checkRoomStatuses(ctx context.Context, report *Report) error {
	rooms, err := a.rooms.List(ctx)
	if err != nil {
		return err
	}
	report.Checked["room_statuses"] = len(rooms)
	for i := range rooms {
		room := &rooms[i]
		if room.Status == tenancy.RoomMaintenance {
			continue
		}
		count, err := a.contracts.CountOccupying(ctx, room.ID)
		if err != nil {
			return err
		}
		occupiedStatus := room.Status == tenancy.RoomOccupied || room.Status == tenancy.RoomOverdue
		switch {
		case occupiedStatus && count == 0:
			report.Issues = append(report.Issues, Issue{
				Type:     IssueOccupiedRoomNoContract,
				Severity: SeverityMedium,
				EntityID: room.ID,
				Message:  fmt.Sprintf("room %s is %s but has no occupying contract", room.ID, room.Status),
				Fix:      FixSyncRoomStatus,
			})
		case !occupiedStatus && count > 0:
			report.Issues = append(report.Issues, Issue{
				Type:     IssueRoomStatusMismatch,
				Severity: SeverityHigh,
				EntityID: room.ID,
				Message:  fmt.Sprintf("room %s is %s but has %d occupying contract(s)", room.ID, room.Status, count),
				Fix:      FixSyncRoomStatus,
				Context:  map[string]any{"contracts": count},
			})
		}
	}
	return nil
}
