package application

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	billing "rental-cloud/internal/billing/domain"
	billingmem "rental-cloud/internal/billing/infrastructure/memory"
	"rental-cloud/internal/logger"
	metering "rental-cloud/internal/metering/domain"
	meteringmem "rental-cloud/internal/metering/infrastructure/memory"
	tenancy "rental-cloud/internal/tenancy/domain"
	tenancymem "rental-cloud/internal/tenancy/infrastructure/memory"
	"rental-cloud/internal/txn"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type engineFixture struct {
	engine    *RuleEngine
	contracts *tenancymem.ContractRepository
	rooms     *tenancymem.RoomRepository
	bills     *billingmem.BillRepository
	readings  *meteringmem.ReadingRepository
	clock     *fixedClock
}

func newEngineFixture(t *testing.T, prices map[string]float64) *engineFixture {
	t.Helper()
	contracts := tenancymem.NewContractRepository()
	rooms := tenancymem.NewRoomRepository()
	bills := billingmem.NewBillRepository()
	readings := meteringmem.NewReadingRepository()
	log := logger.Nop()

	manager, err := txn.NewManager(txn.MemoryUnitOfWork{}, log)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if prices == nil {
		prices = map[string]float64{
			billing.CategoryElectricity: 0.6,
			billing.CategoryWater:       3.5,
			billing.CategoryGas:         2.5,
		}
	}
	settings := StaticSettings{
		Values: Settings{ReminderDays: 3, AutoGenerateBills: true},
		Prices: prices,
	}
	clock := &fixedClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}

	engine, err := NewRuleEngine(
		contracts, rooms, bills, readings, manager, settings, log,
		WithClock(clock),
		WithIDGenerator(sequentialIDs("id")),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return &engineFixture{
		engine:    engine,
		contracts: contracts,
		rooms:     rooms,
		bills:     bills,
		readings:  readings,
		clock:     clock,
	}
}

func (f *engineFixture) seedContract(t *testing.T, contract *tenancy.Contract) {
	t.Helper()
	ctx := context.Background()
	if err := f.rooms.Create(ctx, &tenancy.Room{ID: contract.RoomID, Status: tenancy.RoomVacant}); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	if err := f.contracts.Create(ctx, contract); err != nil {
		t.Fatalf("seed contract: %v", err)
	}
}

func TestGenerateOnContractSigned(t *testing.T) {
	f := newEngineFixture(t, nil)
	signDay := time.Date(2026, 8, 10, 11, 0, 0, 0, time.UTC)
	contract := &tenancy.Contract{
		ID:             "c-1",
		ContractNumber: "HT2026123",
		RoomID:         "room-1",
		MonthlyRent:    3000,
		Deposit:        3000,
		KeyDeposit:     100,
		CleaningFee:    200,
		PaymentMethod:  "月付",
		Status:         tenancy.ContractActive,
		SignedAt:       signDay,
	}
	f.seedContract(t, contract)

	created, err := f.engine.GenerateOnContractSigned(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("got %d bills, want 4 (deposit, key deposit, cleaning fee, first rent)", len(created))
	}

	byType := map[billing.BillType][]billing.Bill{}
	for _, b := range created {
		byType[b.Type] = append(byType[b.Type], b)
	}
	if len(byType[billing.BillDeposit]) != 1 || len(byType[billing.BillOther]) != 2 || len(byType[billing.BillRent]) != 1 {
		t.Fatalf("unexpected type split: %v", byType)
	}
	for _, b := range created {
		if !b.DueDate.Equal(signDay) {
			t.Fatalf("%s bill due %s, want signing day %s", b.Type, b.DueDate, signDay)
		}
		if b.Status != billing.BillPending {
			t.Fatalf("%s bill status %s, want PENDING", b.Type, b.Status)
		}
		if !billing.AmountsEqual(b.PendingAmount, b.Amount) {
			t.Fatalf("%s bill pending %.2f != amount %.2f", b.Type, b.PendingAmount, b.Amount)
		}
	}
	if got := byType[billing.BillDeposit][0].Amount; !billing.AmountsEqual(got, 3000) {
		t.Fatalf("deposit amount %.2f, want 3000", got)
	}
	rent := byType[billing.BillRent][0]
	if !billing.AmountsEqual(rent.Amount, 3000) {
		t.Fatalf("first rent amount %.2f, want one month 3000", rent.Amount)
	}
	if !strings.HasPrefix(rent.BillNumber, "BILL123R") {
		t.Fatalf("rent bill number %q should carry contract suffix and type letter", rent.BillNumber)
	}

	room, err := f.rooms.GetByID(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if room.Status != tenancy.RoomOccupied {
		t.Fatalf("room status %s, want OCCUPIED", room.Status)
	}
}

func TestGenerateOnContractSignedIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, nil)
	contract := &tenancy.Contract{
		ID:             "c-1",
		ContractNumber: "HT2026123",
		RoomID:         "room-1",
		MonthlyRent:    3000,
		Deposit:        3000,
		Status:         tenancy.ContractActive,
		SignedAt:       time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
	}
	f.seedContract(t, contract)
	ctx := context.Background()

	first, err := f.engine.GenerateOnContractSigned(ctx, "c-1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.engine.GenerateOnContractSigned(ctx, "c-1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second run created %d bills, want 0", len(second))
	}
	all, err := f.bills.ListByContract(ctx, "c-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != len(first) {
		t.Fatalf("bill count %d changed after replay, want %d", len(all), len(first))
	}
}

func TestGeneratePeriodicRentBillQuarterly(t *testing.T) {
	f := newEngineFixture(t, nil)
	contract := &tenancy.Contract{
		ID:             "c-1",
		ContractNumber: "HT2026777",
		RoomID:         "room-1",
		MonthlyRent:    2000,
		PaymentMethod:  "按季支付",
		Status:         tenancy.ContractActive,
	}
	f.seedContract(t, contract)

	billDate := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	bill, err := f.engine.GeneratePeriodicRentBill(context.Background(), contract, billDate)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !billing.AmountsEqual(bill.Amount, 6000) {
		t.Fatalf("quarterly rent %.2f, want 6000", bill.Amount)
	}
	if bill.PeriodStart.Month() != time.April || bill.PeriodEnd.Month() != time.June {
		t.Fatalf("period %s - %s, want Q2", bill.PeriodStart, bill.PeriodEnd)
	}
	if bill.DueDate.Day() != 15 || bill.DueDate.Month() != time.April {
		t.Fatalf("due %s, want April 15th", bill.DueDate)
	}

	// Same period again must be rejected.
	if _, err := f.engine.GeneratePeriodicRentBill(context.Background(), contract, billDate.AddDate(0, 1, 0)); err == nil {
		t.Fatalf("duplicate period should fail")
	}
}

func TestGenerateUtilityBillOnReading(t *testing.T) {
	f := newEngineFixture(t, map[string]float64{
		billing.CategoryElectricity: 0.5,
		billing.CategoryWater:       3.25,
	})
	contract := &tenancy.Contract{
		ID:             "c-1",
		ContractNumber: "HT2026001",
		RoomID:         "room-1",
		Status:         tenancy.ContractActive,
	}
	f.seedContract(t, contract)
	ctx := context.Background()

	elec, err := metering.NewMeterReading("r-e", "m-e", "c-1", "room-1", metering.MeterElectricity, 1000, 1150, 0, f.clock.now)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	water, err := metering.NewMeterReading("r-w", "m-w", "c-1", "room-1", metering.MeterColdWater, 50, 60, 0, f.clock.now)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	for _, r := range []*metering.MeterReading{elec, water} {
		if err := f.readings.Create(ctx, r); err != nil {
			t.Fatalf("seed reading: %v", err)
		}
	}

	bill, err := f.engine.GenerateUtilityBillOnReading(ctx, "c-1", UtilityReadingData{
		Period:      "2026-08",
		Electricity: &CategoryReading{ReadingID: "r-e", Usage: 150},
		Water:       &CategoryReading{ReadingID: "r-w", Usage: 10},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// 150 * 0.5 + 10 * 3.25 = 107.5
	if !billing.AmountsEqual(bill.Amount, 107.5) {
		t.Fatalf("amount %.2f, want 107.50", bill.Amount)
	}
	if bill.Type != billing.BillUtilities {
		t.Fatalf("type %s, want UTILITIES", bill.Type)
	}
	if bill.Metadata == nil {
		t.Fatalf("utility bill missing metadata")
	}
	if bill.Metadata.Version != billing.MetadataVersion || bill.Metadata.Period != "2026-08" {
		t.Fatalf("metadata header drifted: %+v", bill.Metadata)
	}
	if len(bill.Metadata.Breakdown) != 2 {
		t.Fatalf("breakdown has %d entries, want 2", len(bill.Metadata.Breakdown))
	}
	entry := bill.Metadata.Breakdown[billing.CategoryElectricity]
	if entry.PriceSource != billing.PriceFromGlobalSetting {
		t.Fatalf("price source %s, want GLOBAL_SETTING", entry.PriceSource)
	}
	if !billing.AmountsEqual(entry.Amount, 75) {
		t.Fatalf("electricity amount %.2f, want 75", entry.Amount)
	}

	details, err := f.bills.ListDetailsByBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("got %d details, want 2", len(details))
	}
	if sum := billing.SumDetailAmounts(details); !billing.AmountsEqual(sum, bill.Amount) {
		t.Fatalf("detail sum %.2f != bill amount %.2f", sum, bill.Amount)
	}

	for _, id := range []string{"r-e", "r-w"} {
		reading, err := f.readings.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("reading %s: %v", id, err)
		}
		if !reading.IsBilled || reading.Status != metering.ReadingBilled {
			t.Fatalf("reading %s not flipped to billed: %+v", id, reading)
		}
	}
}

func TestGenerateUtilityBillPrefersMeterPrice(t *testing.T) {
	f := newEngineFixture(t, map[string]float64{billing.CategoryElectricity: 0.5})
	contract := &tenancy.Contract{ID: "c-1", ContractNumber: "HT2026002", RoomID: "room-1", Status: tenancy.ContractActive}
	f.seedContract(t, contract)
	ctx := context.Background()

	reading, err := metering.NewMeterReading("r-1", "m-1", "c-1", "room-1", metering.MeterElectricity, 0, 100, 0.8, f.clock.now)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if err := f.readings.Create(ctx, reading); err != nil {
		t.Fatalf("seed: %v", err)
	}

	price := 0.8
	bill, err := f.engine.GenerateUtilityBillOnReading(ctx, "c-1", UtilityReadingData{
		Electricity: &CategoryReading{ReadingID: "r-1", Usage: 100, UnitPrice: &price},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	entry := bill.Metadata.Breakdown[billing.CategoryElectricity]
	if entry.PriceSource != billing.PriceFromMeterConfig {
		t.Fatalf("price source %s, want METER_CONFIG", entry.PriceSource)
	}
	if !billing.AmountsEqual(bill.Amount, 80) {
		t.Fatalf("amount %.2f, want 80", bill.Amount)
	}
}

func TestGenerateUtilityBillRejectsRebilledReading(t *testing.T) {
	f := newEngineFixture(t, nil)
	contract := &tenancy.Contract{ID: "c-1", ContractNumber: "HT2026003", RoomID: "room-1", Status: tenancy.ContractActive}
	f.seedContract(t, contract)
	ctx := context.Background()

	reading, err := metering.NewMeterReading("r-1", "m-1", "c-1", "room-1", metering.MeterGas, 0, 20, 2.5, f.clock.now)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if err := f.readings.Create(ctx, reading); err != nil {
		t.Fatalf("seed: %v", err)
	}

	data := UtilityReadingData{Gas: &CategoryReading{ReadingID: "r-1", Usage: 20}}
	if _, err := f.engine.GenerateUtilityBillOnReading(ctx, "c-1", data); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := f.engine.GenerateUtilityBillOnReading(ctx, "c-1", data); err == nil {
		t.Fatalf("second generation over the same reading should fail")
	}
}

func TestGenerateUtilityBillForReading(t *testing.T) {
	f := newEngineFixture(t, nil)
	contract := &tenancy.Contract{ID: "c-1", ContractNumber: "HT2026004", RoomID: "room-1", Status: tenancy.ContractActive}
	f.seedContract(t, contract)
	ctx := context.Background()

	reading, err := metering.NewMeterReading("r-1", "m-1", "c-1", "room-1", metering.MeterColdWater, 10, 22, 3.5, f.clock.now)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if err := f.readings.Create(ctx, reading); err != nil {
		t.Fatalf("seed: %v", err)
	}

	bill, err := f.engine.GenerateUtilityBillForReading(ctx, "r-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if bill.Metadata.GenerationStrategy != billing.StrategySingle {
		t.Fatalf("strategy %s, want SINGLE", bill.Metadata.GenerationStrategy)
	}
	if !billing.AmountsEqual(bill.Amount, 42) {
		t.Fatalf("amount %.2f, want 12 * 3.5 = 42", bill.Amount)
	}
}

func TestCheckAndGenerateUpcomingBills(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	contract := &tenancy.Contract{
		ID:             "c-1",
		ContractNumber: "HT2026005",
		RoomID:         "room-1",
		MonthlyRent:    3000,
		PaymentMethod:  "月付",
		Status:         tenancy.ContractActive,
	}
	f.seedContract(t, contract)

	// July's bill exists; August's due date (the 15th) minus the reminder
	// window is the 12th.
	july := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	if _, err := f.engine.GeneratePeriodicRentBill(ctx, contract, july); err != nil {
		t.Fatalf("seed july bill: %v", err)
	}

	f.clock.now = time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	generated, err := f.engine.CheckAndGenerateUpcomingBills(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if generated != 0 {
		t.Fatalf("outside the reminder window, generated %d, want 0", generated)
	}

	f.clock.now = time.Date(2026, 8, 13, 0, 0, 0, 0, time.UTC)
	generated, err = f.engine.CheckAndGenerateUpcomingBills(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if generated != 1 {
		t.Fatalf("inside the reminder window, generated %d, want 1", generated)
	}

	// A second scan must not duplicate the period.
	generated, err = f.engine.CheckAndGenerateUpcomingBills(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if generated != 0 {
		t.Fatalf("rescan generated %d, want 0", generated)
	}
}

func TestConfirmPayment(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	bill := &billing.Bill{
		ID:            "b-1",
		ContractID:    "c-1",
		BillNumber:    "BILL001R000001",
		Type:          billing.BillRent,
		Amount:        3000,
		PendingAmount: 3000,
		Status:        billing.BillPending,
	}
	if err := f.bills.Create(ctx, bill); err != nil {
		t.Fatalf("seed: %v", err)
	}

	updated, err := f.engine.ConfirmPayment(ctx, "b-1", 3000)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if updated.Status != billing.BillPaid || !billing.AmountsEqual(updated.PendingAmount, 0) {
		t.Fatalf("bill not settled: %+v", updated)
	}

	if _, err := f.engine.ConfirmPayment(ctx, "b-1", 1); err == nil {
		t.Fatalf("payment over a settled bill should fail")
	}
}
