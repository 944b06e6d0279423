package export

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	billing "rental-cloud/internal/billing/domain"
	billingmem "rental-cloud/internal/billing/infrastructure/memory"
)

func sampleBill() *billing.Bill {
	return &billing.Bill{
		ID:             "b-1",
		ContractID:     "c-1",
		BillNumber:     "BILL123U482913",
		Type:           billing.BillUtilities,
		Amount:         107.5,
		ReceivedAmount: 0,
		PendingAmount:  107.5,
		Status:         billing.BillPending,
		BillDate:       time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		DueDate:        time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		Metadata: &billing.UtilityMetadata{
			Version:     billing.MetadataVersion,
			Period:      "2026-08",
			GeneratedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		},
	}
}

func sampleDetails() []billing.BillDetail {
	return []billing.BillDetail{
		{ID: "d-1", BillID: "b-1", MeterReadingID: "r-1", MeterType: billing.CategoryElectricity, Usage: 150, UnitPrice: 0.5, Amount: 75, PriceSource: billing.PriceFromGlobalSetting},
		{ID: "d-2", BillID: "b-1", MeterReadingID: "r-2", MeterType: billing.CategoryWater, Usage: 10, UnitPrice: 3.25, Amount: 32.5, PriceSource: billing.PriceFromGlobalSetting},
	}
}

func TestBuildBillPDF(t *testing.T) {
	data, err := BuildBillPDF(sampleBill(), sampleDetails())
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("empty pdf")
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output is not a pdf, starts with %q", data[:8])
	}
}

func TestBuildBillPDFWithoutDetails(t *testing.T) {
	bill := sampleBill()
	bill.Type = billing.BillRent
	bill.Metadata = nil
	data, err := BuildBillPDF(bill, nil)
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output is not a pdf")
	}
}

func TestBuildBillRegisterXLSX(t *testing.T) {
	bill := sampleBill()
	data, err := BuildBillRegisterXLSX([]billing.Bill{*bill}, map[string][]billing.BillDetail{
		"b-1": sampleDetails(),
	})
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	number, err := f.GetCellValue("bills", "A2")
	if err != nil || number != "BILL123U482913" {
		t.Fatalf("bill number cell %q (%v)", number, err)
	}
	amount, err := f.GetCellValue("bills", "D2")
	if err != nil || !strings.HasPrefix(amount, "107.5") {
		t.Fatalf("amount cell %q (%v)", amount, err)
	}

	meter, err := f.GetCellValue("details", "B2")
	if err != nil || meter != string(billing.CategoryElectricity) {
		t.Fatalf("detail meter cell %q (%v)", meter, err)
	}
	source, err := f.GetCellValue("details", "F3")
	if err != nil || source != string(billing.PriceFromGlobalSetting) {
		t.Fatalf("detail source cell %q (%v)", source, err)
	}
}

func TestBillStatementFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := billingmem.NewBillRepository()
	if err := repo.CreateWithDetails(ctx, sampleBill(), sampleDetails()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	data, err := BillStatement(ctx, repo, "b-1")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output is not a pdf")
	}

	if _, err := BillStatement(ctx, repo, "missing"); err == nil {
		t.Fatalf("unknown bill id should fail")
	}
}

func TestBillRegisterFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := billingmem.NewBillRepository()
	if err := repo.CreateWithDetails(ctx, sampleBill(), sampleDetails()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	data, err := BillRegister(ctx, repo)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	number, err := f.GetCellValue("bills", "A2")
	if err != nil || number != "BILL123U482913" {
		t.Fatalf("bill number cell %q (%v)", number, err)
	}
	// Detail row order is not guaranteed; both rows belong to the bill.
	meters := map[string]bool{}
	for _, cell := range []string{"B2", "B3"} {
		meter, err := f.GetCellValue("details", cell)
		if err != nil {
			t.Fatalf("detail cell %s: %v", cell, err)
		}
		meters[meter] = true
	}
	if !meters[string(billing.CategoryElectricity)] || !meters[string(billing.CategoryWater)] {
		t.Fatalf("detail meters %v", meters)
	}
}

func TestBuildBillRegisterXLSXEmpty(t *testing.T) {
	data, err := BuildBillRegisterXLSX(nil, nil)
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	header, err := f.GetCellValue("bills", "A1")
	if err != nil || header != "Bill Number" {
		t.Fatalf("header cell %q (%v)", header, err)
	}
}
