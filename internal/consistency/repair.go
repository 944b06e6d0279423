package consistency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	billing "rental-cloud/internal/billing/domain"
	"rental-cloud/internal/errorlog"
	metering "rental-cloud/internal/metering/domain"
	"rental-cloud/internal/observability/metrics"
	tenancy "rental-cloud/internal/tenancy/domain"
	"rental-cloud/internal/txn"
)

// RepairOptions tunes a repair run.
type RepairOptions struct {
	// MaxRepairs caps how many fixes a single run applies; 0 means no cap.
	MaxRepairs int
	// SkipCritical leaves CRITICAL issues for a human.
	SkipCritical bool
	// DryRun reports what would be repaired without writing anything.
	DryRun bool
}

// RepairResult is the outcome class of one attempted fix.
type RepairResult string

const (
	RepairFixed   RepairResult = "FIXED"
	RepairFailed  RepairResult = "FAILED"
	RepairSkipped RepairResult = "SKIPPED"
)

// manualEntryRemark marks a bill whose line items could not be recovered.
// Rebuild attempts check for it so repeated runs never stack the flag.
const manualEntryRemark = "明细缺失，需人工补录"

// RepairOutcome records one issue's repair attempt.
type RepairOutcome struct {
	Issue   Issue
	Result  RepairResult
	Message string
}

// RepairSummary aggregates a repair run.
type RepairSummary struct {
	Attempted int
	Fixed     int
	Failed    int
	Skipped   int
	Outcomes  []RepairOutcome
	Duration  time.Duration
}

// Repairer applies the fix named by each issue. Every fix runs in its own
// transaction so one failure never blocks the rest of the run.
type Repairer struct {
	bills     billing.Repository
	readings  metering.ReadingRepository
	rooms     tenancy.RoomRepository
	contracts tenancy.ContractRepository
	tx        *txn.Manager
	errs      *errorlog.Recorder
	clock     Clock
	log       zerolog.Logger
}

// RepairerOption configures the repairer.
type RepairerOption func(*Repairer)

// WithRepairerClock overrides the default clock.
func WithRepairerClock(clock Clock) RepairerOption {
	return func(r *Repairer) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRepairerErrorRecorder assigns the structured error sink.
func WithRepairerErrorRecorder(errs *errorlog.Recorder) RepairerOption {
	return func(r *Repairer) {
		r.errs = errs
	}
}

// NewRepairer constructs the repair engine.
func NewRepairer(
	bills billing.Repository,
	readings metering.ReadingRepository,
	rooms tenancy.RoomRepository,
	contracts tenancy.ContractRepository,
	tx *txn.Manager,
	log zerolog.Logger,
	opts ...RepairerOption,
) (*Repairer, error) {
	if bills == nil || readings == nil || rooms == nil || contracts == nil {
		return nil, errors.New("consistency: nil repository")
	}
	if tx == nil {
		return nil, errors.New("consistency: nil transaction manager")
	}
	r := &Repairer{
		bills:     bills,
		readings:  readings,
		rooms:     rooms,
		contracts: contracts,
		tx:        tx,
		clock:     SystemClock{},
		log:       log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Repair processes issues most severe first and applies each issue's fix.
// Re-running over an already-consistent dataset applies the same fixes with
// the same end state, so repeated repairs are safe.
func (r *Repairer) Repair(ctx context.Context, issues []Issue, opts RepairOptions) *RepairSummary {
	start := r.clock.Now()
	summary := &RepairSummary{}

	ordered := make([]Issue, len(issues))
	copy(ordered, issues)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := severityRank(ordered[i].Severity), severityRank(ordered[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Type < ordered[j].Type
	})

	for _, issue := range ordered {
		if opts.SkipCritical && issue.Severity == SeverityCritical {
			r.skip(summary, issue, "critical issues require manual review")
			continue
		}
		if issue.Fix == "" {
			r.skip(summary, issue, "no automatic fix for this issue")
			continue
		}
		if opts.MaxRepairs > 0 && summary.Attempted >= opts.MaxRepairs {
			r.skip(summary, issue, "repair cap reached")
			continue
		}
		if opts.DryRun {
			summary.Attempted++
			r.skip(summary, issue, fmt.Sprintf("dry run: would apply %s", issue.Fix))
			continue
		}

		summary.Attempted++
		message, err := r.applyFix(ctx, issue)
		if err != nil {
			summary.Failed++
			summary.Outcomes = append(summary.Outcomes, RepairOutcome{Issue: issue, Result: RepairFailed, Message: err.Error()})
			metrics.RepairFinished(metrics.ResultError)
			r.errs.Record(errorlog.Entry{
				Type:     "CONSISTENCY_REPAIR",
				Severity: errorlog.SeverityHigh,
				Message:  fmt.Sprintf("repair %s for %s failed: %v", issue.Fix, issue.EntityID, err),
				Context:  map[string]any{"issue_type": string(issue.Type), "entity_id": issue.EntityID},
			})
			r.log.Warn().Err(err).
				Str("fix", string(issue.Fix)).
				Str("entity_id", issue.EntityID).
				Msg("repair failed")
			continue
		}
		summary.Fixed++
		summary.Outcomes = append(summary.Outcomes, RepairOutcome{Issue: issue, Result: RepairFixed, Message: message})
		metrics.RepairFinished(metrics.ResultSuccess)
		r.log.Info().
			Str("fix", string(issue.Fix)).
			Str("entity_id", issue.EntityID).
			Msg("repair applied")
	}

	summary.Duration = r.clock.Now().Sub(start)
	return summary
}

func (r *Repairer) skip(summary *RepairSummary, issue Issue, message string) {
	summary.Skipped++
	summary.Outcomes = append(summary.Outcomes, RepairOutcome{Issue: issue, Result: RepairSkipped, Message: message})
	metrics.RepairFinished(metrics.ResultSkipped)
}

func (r *Repairer) applyFix(ctx context.Context, issue Issue) (string, error) {
	var op func(ctx context.Context) (string, error)
	switch issue.Fix {
	case FixRecalcBillPending:
		op = func(ctx context.Context) (string, error) { return r.recalcBillAmounts(ctx, issue.EntityID) }
	case FixRecalcBillStatus:
		op = func(ctx context.Context) (string, error) { return r.recalcBillStatus(ctx, issue.EntityID) }
	case FixResetOrphanedRead:
		op = func(ctx context.Context) (string, error) { return r.resetReading(ctx, issue.EntityID) }
	case FixMarkReadingBilled:
		op = func(ctx context.Context) (string, error) { return r.markReadingBilled(ctx, issue.EntityID) }
	case FixSyncRoomStatus:
		op = func(ctx context.Context) (string, error) { return r.syncRoomStatus(ctx, issue.EntityID) }
	case FixRebuildBillDetails:
		op = func(ctx context.Context) (string, error) { return r.rebuildBillDetails(ctx, issue.EntityID) }
	case FixRecalcDetailAmount:
		op = func(ctx context.Context) (string, error) { return r.recalcDetailAmount(ctx, issue.EntityID) }
	default:
		return "", fmt.Errorf("consistency: unknown fix code %q", issue.Fix)
	}

	result := r.tx.Execute(ctx, "consistency.repair."+string(issue.Fix), func(txCtx context.Context) (any, error) {
		return op(txCtx)
	}, txn.DefaultOptions())
	if !result.Success {
		return "", result.Err
	}
	return result.Data.(string), nil
}

// recalcBillAmounts re-derives a bill's amount from its details (for utility
// bills that have them), then resettles pending and status.
func (r *Repairer) recalcBillAmounts(ctx context.Context, billID string) (string, error) {
	bill, err := r.bills.GetByID(ctx, billID)
	if err != nil {
		return "", err
	}
	if bill.Type == billing.BillUtilities {
		details, err := r.bills.ListDetailsByBill(ctx, billID)
		if err != nil {
			return "", err
		}
		if len(details) > 0 {
			bill.Amount = billing.SumDetailAmounts(details)
		}
	}
	bill.RecalculatePending()
	bill.RecalculateStatus()
	if err := r.bills.Update(ctx, bill); err != nil {
		return "", err
	}
	return fmt.Sprintf("bill %s amounts resettled", bill.BillNumber), nil
}

func (r *Repairer) recalcBillStatus(ctx context.Context, billID string) (string, error) {
	bill, err := r.bills.GetByID(ctx, billID)
	if err != nil {
		return "", err
	}
	bill.RecalculateStatus()
	if err := r.bills.Update(ctx, bill); err != nil {
		return "", err
	}
	return fmt.Sprintf("bill %s status set to %s", bill.BillNumber, bill.Status), nil
}

func (r *Repairer) resetReading(ctx context.Context, readingID string) (string, error) {
	reading, err := r.readings.GetByID(ctx, readingID)
	if err != nil {
		return "", err
	}
	// Only reset when the detail really is absent; the issue may be stale.
	count, err := r.bills.CountDetailsByReading(ctx, readingID)
	if err != nil {
		return "", err
	}
	if count > 0 {
		return fmt.Sprintf("reading %s has details again, left as billed", readingID), nil
	}
	reading.ResetToPending()
	if err := r.readings.Update(ctx, reading); err != nil {
		return "", err
	}
	return fmt.Sprintf("reading %s reset to pending", readingID), nil
}

func (r *Repairer) markReadingBilled(ctx context.Context, readingID string) (string, error) {
	reading, err := r.readings.GetByID(ctx, readingID)
	if err != nil {
		return "", err
	}
	reading.MarkBilled()
	if err := r.readings.Update(ctx, reading); err != nil {
		return "", err
	}
	return fmt.Sprintf("reading %s marked billed", readingID), nil
}

func (r *Repairer) syncRoomStatus(ctx context.Context, roomID string) (string, error) {
	room, err := r.rooms.GetByID(ctx, roomID)
	if err != nil {
		return "", err
	}
	if room.Status == tenancy.RoomMaintenance {
		return fmt.Sprintf("room %s under maintenance, left untouched", roomID), nil
	}
	count, err := r.contracts.CountOccupying(ctx, roomID)
	if err != nil {
		return "", err
	}
	want := tenancy.RoomVacant
	if count > 0 {
		want = tenancy.RoomOccupied
	}
	if room.Status == want || (want == tenancy.RoomOccupied && room.Status == tenancy.RoomOverdue) {
		return fmt.Sprintf("room %s already consistent", roomID), nil
	}
	room.Status = want
	if err := r.rooms.Update(ctx, room); err != nil {
		return "", err
	}
	return fmt.Sprintf("room %s set to %s", roomID, want), nil
}

// rebuildBillDetails reconstructs a utility bill's line items. It prefers
// the reading ids stored in the bill metadata, falls back to the contract's
// billed readings created around the bill, and as a last resort flags the
// bill for manual completion.
func (r *Repairer) rebuildBillDetails(ctx context.Context, billID string) (string, error) {
	bill, err := r.bills.GetByID(ctx, billID)
	if err != nil {
		return "", err
	}

	readings, source := r.candidateReadings(ctx, bill)
	if len(readings) == 0 {
		if strings.Contains(bill.Remark, manualEntryRemark) {
			return fmt.Sprintf("bill %s already flagged for manual entry", bill.BillNumber), nil
		}
		if bill.Remark != "" {
			bill.Remark += "; "
		}
		bill.Remark += manualEntryRemark
		if err := r.bills.Update(ctx, bill); err != nil {
			return "", err
		}
		return fmt.Sprintf("bill %s has no recoverable readings, flagged for manual entry", bill.BillNumber), nil
	}

	for _, reading := range readings {
		detail := &billing.BillDetail{
			ID:             uuid.NewString(),
			BillID:         bill.ID,
			MeterReadingID: reading.ID,
			MeterType:      categoryForMeterType(reading.MeterType),
			Usage:          reading.Usage,
			UnitPrice:      reading.UnitPrice,
			Amount:         reading.Usage * reading.UnitPrice,
			PriceSource:    billing.PriceFromMeterConfig,
		}
		if err := r.bills.AddDetail(ctx, detail); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("bill %s details rebuilt from %s (%d line items)", bill.BillNumber, source, len(readings)), nil
}

// candidateReadings finds the readings a detail rebuild should be based on.
func (r *Repairer) candidateReadings(ctx context.Context, bill *billing.Bill) ([]*metering.MeterReading, string) {
	if bill.Metadata != nil && len(bill.Metadata.MeterReadingIDs) > 0 {
		var out []*metering.MeterReading
		for _, id := range bill.Metadata.MeterReadingIDs {
			reading, err := r.readings.GetByID(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, reading)
		}
		if len(out) > 0 {
			return out, "bill metadata"
		}
	}

	// Fall back to billed readings of the same contract created within a
	// day of the bill, with no detail of their own.
	from := bill.CreatedAt.Add(-24 * time.Hour)
	to := bill.CreatedAt.Add(time.Hour)
	window, err := r.readings.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, ""
	}
	var out []*metering.MeterReading
	for i := range window {
		reading := window[i]
		if reading.ContractID != bill.ContractID || !reading.IsBilled {
			continue
		}
		count, err := r.bills.CountDetailsByReading(ctx, reading.ID)
		if err != nil || count > 0 {
			continue
		}
		out = append(out, &reading)
	}
	return out, "creation time window"
}

func (r *Repairer) recalcDetailAmount(ctx context.Context, detailID string) (string, error) {
	detail, billID, err := r.findDetail(ctx, detailID)
	if err != nil {
		return "", err
	}
	detail.Amount = detail.Usage * detail.UnitPrice
	if err := r.bills.UpdateDetail(ctx, detail); err != nil {
		return "", err
	}
	// The bill total may now disagree with its details; resettle it too.
	if _, err := r.recalcBillAmounts(ctx, billID); err != nil {
		return "", err
	}
	return fmt.Sprintf("detail %s amount recalculated", detailID), nil
}

// findDetail locates a detail by scanning its bill's line items.
func (r *Repairer) findDetail(ctx context.Context, detailID string) (*billing.BillDetail, string, error) {
	bills, err := r.bills.List(ctx)
	if err != nil {
		return nil, "", err
	}
	for i := range bills {
		if bills[i].Type != billing.BillUtilities {
			continue
		}
		details, err := r.bills.ListDetailsByBill(ctx, bills[i].ID)
		if err != nil {
			return nil, "", err
		}
		for j := range details {
			if details[j].ID == detailID {
				return &details[j], bills[i].ID, nil
			}
		}
	}
	return nil, "", billing.ErrDetailNotFound
}

func categoryForMeterType(meterType metering.MeterType) string {
	switch meterType {
	case metering.MeterElectricity:
		return billing.CategoryElectricity
	case metering.MeterColdWater, metering.MeterHotWater:
		return billing.CategoryWater
	case metering.MeterGas:
		return billing.CategoryGas
	default:
		return string(meterType)
	}
}
