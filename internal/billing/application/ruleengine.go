package application

import (
	"context"
	"errors"
	"fmt"
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

// CacheInvalidator clears cache namespaces after mutations.
type CacheInvalidator interface {
	DeletePattern(pattern string) int
}

// CategoryReading is one utility category's input for bill generation.
type CategoryReading struct {
	ReadingID string
	Usage     float64
	// UnitPrice is the meter-specific price; nil falls back to the global
	// setting for the category.
	UnitPrice *float64
}

// UtilityReadingData is the trigger payload for utility bill generation.
type UtilityReadingData struct {
	// Period labels the billing period, e.g. "2026-08". Defaults to the
	// current month.
	Period      string
	Electricity *CategoryReading
	Water       *CategoryReading
	Gas         *CategoryReading
	// Strategy is AGGREGATE (one bill for all readings) or SINGLE.
	Strategy string
}

func (d UtilityReadingData) categories() map[string]*CategoryReading {
	out := make(map[string]*CategoryReading, 3)
	if d.Electricity != nil {
		out[billing.CategoryElectricity] = d.Electricity
	}
	if d.Water != nil {
		out[billing.CategoryWater] = d.Water
	}
	if d.Gas != nil {
		out[billing.CategoryGas] = d.Gas
	}
	return out
}

// RuleEngine derives bills from contract and meter-reading events. Every
// mutation runs through the transaction manager and idempotency is enforced
// by existence checks before each write, so retried operations are safe.
type RuleEngine struct {
	contracts tenancy.ContractRepository
	rooms     tenancy.RoomRepository
	bills     billing.Repository
	readings  metering.ReadingRepository
	tx        *txn.Manager
	settings  SettingsProvider
	cache     CacheInvalidator
	errs      *errorlog.Recorder
	clock     Clock
	log       zerolog.Logger
	newID     func() string
}

// EngineOption configures the rule engine.
type EngineOption func(*RuleEngine)

// WithClock overrides the default clock.
func WithClock(clock Clock) EngineOption {
	return func(e *RuleEngine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithCache assigns the cache to invalidate on mutations.
func WithCache(cache CacheInvalidator) EngineOption {
	return func(e *RuleEngine) {
		e.cache = cache
	}
}

// WithErrorRecorder assigns the structured error sink.
func WithErrorRecorder(errs *errorlog.Recorder) EngineOption {
	return func(e *RuleEngine) {
		e.errs = errs
	}
}

// WithIDGenerator overrides entity id generation.
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *RuleEngine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewRuleEngine constructs the billing rule engine.
func NewRuleEngine(
	contracts tenancy.ContractRepository,
	rooms tenancy.RoomRepository,
	bills billing.Repository,
	readings metering.ReadingRepository,
	tx *txn.Manager,
	settings SettingsProvider,
	log zerolog.Logger,
	opts ...EngineOption,
) (*RuleEngine, error) {
	if contracts == nil || rooms == nil || bills == nil || readings == nil {
		return nil, errors.New("billing engine: nil repository")
	}
	if tx == nil {
		return nil, errors.New("billing engine: nil transaction manager")
	}
	if settings == nil {
		return nil, errors.New("billing engine: nil settings provider")
	}
	e := &RuleEngine{
		contracts: contracts,
		rooms:     rooms,
		bills:     bills,
		readings:  readings,
		tx:        tx,
		settings:  settings,
		clock:     SystemClock{},
		log:       log,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// GenerateOnContractSigned creates the signing bill set for a contract:
// a DEPOSIT bill when deposit > 0, OTHER bills for non-zero key deposit and
// cleaning fee, and the first RENT bill. All four are due on the signing
// date. The room is flipped to OCCUPIED in the same transaction.
func (e *RuleEngine) GenerateOnContractSigned(ctx context.Context, contractID string) ([]billing.Bill, error) {
	result := e.tx.Execute(ctx, "billing.contract_signed", func(txCtx context.Context) (any, error) {
		contract, err := e.contracts.GetByID(txCtx, contractID)
		if err != nil {
			return nil, err
		}
		existing, err := e.bills.ListByContract(txCtx, contractID)
		if err != nil {
			return nil, err
		}

		billDate := contract.SignedAt
		if billDate.IsZero() {
			billDate = e.clock.Now()
		}

		var created []billing.Bill
		if contract.Deposit > 0 && !hasBill(existing, billing.BillDeposit, "") {
			bill := e.newBill(contract, billing.BillDeposit, contract.Deposit, billDate, billDate, "押金")
			if err := e.bills.Create(txCtx, bill); err != nil {
				return nil, err
			}
			created = append(created, *bill)
		}
		if contract.KeyDeposit > 0 && !hasBill(existing, billing.BillOther, remarkKeyDeposit) {
			bill := e.newBill(contract, billing.BillOther, contract.KeyDeposit, billDate, billDate, remarkKeyDeposit)
			if err := e.bills.Create(txCtx, bill); err != nil {
				return nil, err
			}
			created = append(created, *bill)
		}
		if contract.CleaningFee > 0 && !hasBill(existing, billing.BillOther, remarkCleaningFee) {
			bill := e.newBill(contract, billing.BillOther, contract.CleaningFee, billDate, billDate, remarkCleaningFee)
			if err := e.bills.Create(txCtx, bill); err != nil {
				return nil, err
			}
			created = append(created, *bill)
		}
		if !hasBill(existing, billing.BillRent, "") {
			rent := e.buildRentBill(contract, billDate)
			// First rent bill is payable at signing, not on the
			// period's regular due day.
			rent.DueDate = billDate
			if err := e.bills.Create(txCtx, rent); err != nil {
				return nil, err
			}
			created = append(created, *rent)
		}

		if err := e.occupyRoom(txCtx, contract); err != nil {
			return nil, err
		}
		return created, nil
	}, txn.DefaultOptions())

	if !result.Success {
		e.recordFailure("contract_signed", result.Err, map[string]any{"contract_id": contractID})
		metrics.BillGenerated(string(billing.BillRent), metrics.ResultError)
		return nil, result.Err
	}

	created := result.Data.([]billing.Bill)
	for _, bill := range created {
		metrics.BillGenerated(string(bill.Type), metrics.ResultSuccess)
	}
	e.invalidate("bills:*", "rooms:*", "contracts:*", "stats:*")
	e.errs.Observe()
	e.log.Info().
		Str("contract_id", contractID).
		Int("bills", len(created)).
		Msg("generated signing bills")
	return created, nil
}

// GeneratePeriodicRentBill creates the rent bill for the period containing
// billDate. The amount is monthlyRent times the cycle multiplier and the due
// date is the 15th of the period's start month.
func (e *RuleEngine) GeneratePeriodicRentBill(ctx context.Context, contract *tenancy.Contract, billDate time.Time) (*billing.Bill, error) {
	if contract == nil {
		return nil, txn.Validationf("billing: nil contract")
	}
	result := e.tx.Execute(ctx, "billing.periodic_rent", func(txCtx context.Context) (any, error) {
		bill := e.buildRentBill(contract, billDate)
		latest, err := e.bills.LatestByContractAndType(txCtx, contract.ID, billing.BillRent)
		if err != nil {
			return nil, err
		}
		if latest != nil && !bill.PeriodStart.After(latest.PeriodStart) {
			return nil, txn.BusinessRulef("billing: rent bill for period %s already exists", bill.PeriodStart.Format("2006-01-02"))
		}
		if err := e.bills.Create(txCtx, bill); err != nil {
			return nil, err
		}
		return bill, nil
	}, txn.DefaultOptions())

	if !result.Success {
		e.recordFailure("periodic_rent", result.Err, map[string]any{"contract_id": contract.ID})
		metrics.BillGenerated(string(billing.BillRent), metrics.ResultError)
		return nil, result.Err
	}
	metrics.BillGenerated(string(billing.BillRent), metrics.ResultSuccess)
	e.invalidate("bills:*", "stats:*")
	e.errs.Observe()
	return result.Data.(*billing.Bill), nil
}

// GenerateUtilityBillOnReading creates one UTILITIES bill from per-category
// usages. Unit prices come from the reading's meter when supplied, otherwise
// from the global settings. The linked readings are flipped to BILLED in the
// same transaction and the breakdown is stored as typed bill metadata.
func (e *RuleEngine) GenerateUtilityBillOnReading(ctx context.Context, contractID string, data UtilityReadingData) (*billing.Bill, error) {
	start := e.clock.Now()
	categories := data.categories()
	if len(categories) == 0 {
		return nil, txn.Validationf("billing: no utility usage supplied")
	}

	result := e.tx.Execute(ctx, "billing.utility_reading", func(txCtx context.Context) (any, error) {
		contract, err := e.contracts.GetByID(txCtx, contractID)
		if err != nil {
			return nil, err
		}

		for _, cat := range categories {
			if cat.ReadingID == "" {
				continue
			}
			count, err := e.bills.CountDetailsByReading(txCtx, cat.ReadingID)
			if err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, txn.BusinessRulef("billing: reading %s already has a bill detail", cat.ReadingID)
			}
		}

		now := e.clock.Now()
		period := data.Period
		if period == "" {
			period = now.Format("2006-01")
		}
		strategy := data.Strategy
		if strategy == "" {
			strategy = billing.StrategyAggregate
		}

		billID := e.newID()
		breakdown := make(map[string]billing.BreakdownEntry, len(categories))
		var details []billing.BillDetail
		var readingIDs []string
		var total float64
		for category, cat := range categories {
			if cat.Usage <= 0 {
				return nil, txn.Validationf("billing: non-positive %s usage", category)
			}
			price, source, err := e.resolveUnitPrice(txCtx, category, cat)
			if err != nil {
				return nil, err
			}
			amount := cat.Usage * price
			total += amount
			breakdown[category] = billing.BreakdownEntry{
				Usage:       cat.Usage,
				UnitPrice:   price,
				Amount:      amount,
				PriceSource: source,
			}
			details = append(details, billing.BillDetail{
				ID:             e.newID(),
				BillID:         billID,
				MeterReadingID: cat.ReadingID,
				MeterType:      category,
				Usage:          cat.Usage,
				UnitPrice:      price,
				Amount:         amount,
				PriceSource:    source,
			})
			if cat.ReadingID != "" {
				readingIDs = append(readingIDs, cat.ReadingID)
			}
		}

		bill := e.newBill(contract, billing.BillUtilities, total, now, now, "")
		bill.ID = billID
		bill.Metadata = &billing.UtilityMetadata{
			Version:            billing.MetadataVersion,
			Period:             period,
			Breakdown:          breakdown,
			MeterReadingIDs:    readingIDs,
			GenerationStrategy: strategy,
			GeneratedAt:        now,
		}
		if err := e.bills.CreateWithDetails(txCtx, bill, details); err != nil {
			return nil, err
		}

		for _, readingID := range readingIDs {
			reading, err := e.readings.GetByID(txCtx, readingID)
			if err != nil {
				return nil, err
			}
			reading.MarkBilled()
			if err := e.readings.Update(txCtx, reading); err != nil {
				return nil, err
			}
		}
		return bill, nil
	}, txn.DefaultOptions())

	if !result.Success {
		e.recordFailure("utility_reading", result.Err, map[string]any{"contract_id": contractID})
		metrics.BillGenerated(string(billing.BillUtilities), metrics.ResultError)
		return nil, result.Err
	}
	metrics.BillGenerated(string(billing.BillUtilities), metrics.ResultSuccess)
	metrics.ObserveBillGeneration(string(billing.BillUtilities), e.clock.Now().Sub(start))
	e.invalidate("bills:*", "readings:*", "stats:*")
	e.errs.Observe()
	return result.Data.(*billing.Bill), nil
}

// GenerateUtilityBillForReading runs the single-reading generation path used
// by the batch coordinator and the SINGLE fallback strategy.
func (e *RuleEngine) GenerateUtilityBillForReading(ctx context.Context, readingID string) (*billing.Bill, error) {
	reading, err := e.readings.GetByID(ctx, readingID)
	if err != nil {
		return nil, err
	}
	if err := e.validateReadingForBilling(ctx, reading); err != nil {
		return nil, err
	}

	cat := &CategoryReading{ReadingID: reading.ID, Usage: reading.Usage}
	if reading.UnitPrice > 0 {
		price := reading.UnitPrice
		cat.UnitPrice = &price
	}
	data := UtilityReadingData{
		Period:   reading.ReadingDate.Format("2006-01"),
		Strategy: billing.StrategySingle,
	}
	switch reading.MeterType {
	case metering.MeterElectricity:
		data.Electricity = cat
	case metering.MeterColdWater, metering.MeterHotWater:
		data.Water = cat
	case metering.MeterGas:
		data.Gas = cat
	default:
		return nil, txn.Validationf("billing: unknown meter type %q", reading.MeterType)
	}
	return e.GenerateUtilityBillOnReading(ctx, reading.ContractID, data)
}

// ValidateReadingForBilling is the dry-run check used by batch generation.
func (e *RuleEngine) ValidateReadingForBilling(ctx context.Context, readingID string) error {
	reading, err := e.readings.GetByID(ctx, readingID)
	if err != nil {
		return err
	}
	return e.validateReadingForBilling(ctx, reading)
}

func (e *RuleEngine) validateReadingForBilling(ctx context.Context, reading *metering.MeterReading) error {
	if reading.IsBilled || reading.Status == metering.ReadingBilled {
		return txn.BusinessRulef("billing: reading %s already billed", reading.ID)
	}
	if reading.ContractID == "" {
		return txn.BusinessRulef("billing: reading %s has no contract", reading.ID)
	}
	if reading.Usage <= 0 {
		return txn.Validationf("billing: reading %s has non-positive usage", reading.ID)
	}
	return nil
}

// CheckAndGenerateUpcomingBills scans ACTIVE contracts and generates the next
// rent bill for each once today is within the reminder window of its due
// date. Returns the number of bills generated.
func (e *RuleEngine) CheckAndGenerateUpcomingBills(ctx context.Context) (int, error) {
	settings, err := e.settings.BillingSettings(ctx)
	if err != nil {
		return 0, err
	}
	if !settings.AutoGenerateBills {
		return 0, nil
	}

	active, err := e.contracts.ListByStatus(ctx, tenancy.ContractActive)
	if err != nil {
		return 0, err
	}

	today := e.clock.Now()
	generated := 0
	for i := range active {
		contract := active[i]
		cycle := billing.ParseBillingCycle(contract.PaymentMethod)

		latest, err := e.bills.LatestByContractAndType(ctx, contract.ID, billing.BillRent)
		if err != nil {
			e.recordFailure("upcoming_scan", err, map[string]any{"contract_id": contract.ID})
			continue
		}

		var nextDate time.Time
		if latest == nil {
			nextDate = today
		} else {
			nextDate = latest.PeriodStart.AddDate(0, cycle.Months(), 0)
		}
		next := billing.ComputeRentPeriod(nextDate, cycle)
		if latest != nil && !next.Start.After(latest.PeriodStart) {
			continue
		}
		if !contract.EndDate.IsZero() && next.Start.After(contract.EndDate) {
			continue
		}
		window := next.DueDate.AddDate(0, 0, -settings.ReminderDays)
		if today.Before(window) {
			continue
		}

		if _, err := e.GeneratePeriodicRentBill(ctx, &contract, nextDate); err != nil {
			e.log.Warn().Err(err).Str("contract_id", contract.ID).Msg("upcoming rent bill generation failed")
			continue
		}
		generated++
	}
	return generated, nil
}

// ConfirmPayment credits a received amount against a bill and resettles its
// pending amount and status.
func (e *RuleEngine) ConfirmPayment(ctx context.Context, billID string, amount float64) (*billing.Bill, error) {
	result := e.tx.Execute(ctx, "billing.confirm_payment", func(txCtx context.Context) (any, error) {
		bill, err := e.bills.GetByID(txCtx, billID)
		if err != nil {
			return nil, err
		}
		if err := bill.ApplyPayment(amount); err != nil {
			return nil, txn.NewError(txn.ErrorBusinessRule, err)
		}
		if err := e.bills.Update(txCtx, bill); err != nil {
			return nil, err
		}
		return bill, nil
	}, txn.DefaultOptions())

	if !result.Success {
		e.recordFailure("confirm_payment", result.Err, map[string]any{"bill_id": billID})
		return nil, result.Err
	}
	e.invalidate("bills:*", "stats:*")
	e.errs.Observe()
	return result.Data.(*billing.Bill), nil
}

const (
	remarkKeyDeposit  = "钥匙押金"
	remarkCleaningFee = "保洁费"
)

func (e *RuleEngine) buildRentBill(contract *tenancy.Contract, billDate time.Time) *billing.Bill {
	cycle := billing.ParseBillingCycle(contract.PaymentMethod)
	period := billing.ComputeRentPeriod(billDate, cycle)
	amount := contract.MonthlyRent * float64(cycle.Months())

	bill := e.newBill(contract, billing.BillRent, amount, billDate, period.DueDate, "")
	bill.PeriodStart = period.Start
	bill.PeriodEnd = period.End
	return bill
}

func (e *RuleEngine) newBill(contract *tenancy.Contract, billType billing.BillType, amount float64, billDate, dueDate time.Time, remark string) *billing.Bill {
	return &billing.Bill{
		ID:            e.newID(),
		ContractID:    contract.ID,
		BillNumber:    billing.BuildBillNumber(contract.ContractNumber, billType, e.clock.Now()),
		Type:          billType,
		Amount:        amount,
		PendingAmount: amount,
		BillDate:      billDate,
		DueDate:       dueDate,
		Status:        billing.BillPending,
		Remark:        remark,
	}
}

func (e *RuleEngine) resolveUnitPrice(ctx context.Context, category string, cat *CategoryReading) (float64, billing.PriceSource, error) {
	if cat.UnitPrice != nil && *cat.UnitPrice > 0 {
		return *cat.UnitPrice, billing.PriceFromMeterConfig, nil
	}
	price, err := e.settings.GlobalUnitPrice(ctx, category)
	if err != nil {
		return 0, "", err
	}
	return price, billing.PriceFromGlobalSetting, nil
}

func (e *RuleEngine) occupyRoom(ctx context.Context, contract *tenancy.Contract) error {
	room, err := e.rooms.GetByID(ctx, contract.RoomID)
	if err != nil {
		return err
	}
	if room.Status == tenancy.RoomOccupied {
		return nil
	}
	room.Status = tenancy.RoomOccupied
	return e.rooms.Update(ctx, room)
}

func (e *RuleEngine) invalidate(patterns ...string) {
	if e.cache == nil {
		return
	}
	for _, p := range patterns {
		e.cache.DeletePattern(p)
	}
}

func (e *RuleEngine) recordFailure(op string, err error, context map[string]any) {
	if err == nil {
		return
	}
	if context == nil {
		context = map[string]any{}
	}
	context["operation"] = op
	e.errs.Record(errorlog.Entry{
		Type:     "BILL_GENERATION",
		Severity: errorlog.SeverityHigh,
		Message:  fmt.Sprintf("bill generation failed: %v", err),
		Context:  context,
	})
}

func hasBill(bills []billing.Bill, billType billing.BillType, remark string) bool {
	for _, b := range bills {
		if b.Type != billType {
			continue
		}
		if remark == "" || b.Remark == remark {
			return true
		}
	}
	return false
}
