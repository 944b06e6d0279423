package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	billing "rental-cloud/internal/billing/domain"
)

// BillStatement loads a bill with its line items and renders the PDF
// statement.
func BillStatement(ctx context.Context, repo billing.Repository, billID string) ([]byte, error) {
	bill, err := repo.GetByID(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("load bill %s: %w", billID, err)
	}
	details, err := repo.ListDetailsByBill(ctx, bill.ID)
	if err != nil {
		return nil, fmt.Errorf("load details for bill %s: %w", billID, err)
	}
	return BuildBillPDF(bill, details)
}

// BillRegister lists every bill in the repository and renders the XLSX
// register. Line items are pulled for utility bills only; rent and
// deposit bills have none.
func BillRegister(ctx context.Context, repo billing.Repository) ([]byte, error) {
	bills, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	detailsByBill := make(map[string][]billing.BillDetail)
	for _, bill := range bills {
		if bill.Type != billing.BillUtilities {
			continue
		}
		details, err := repo.ListDetailsByBill(ctx, bill.ID)
		if err != nil {
			return nil, fmt.Errorf("list details for bill %s: %w", bill.ID, err)
		}
		if len(details) > 0 {
			detailsByBill[bill.ID] = details
		}
	}
	return BuildBillRegisterXLSX(bills, detailsByBill)
}

// BuildBillPDF renders a minimal PDF for a bill and its line items.
func BuildBillPDF(bill *billing.Bill, details []billing.BillDetail) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Bill Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Bill Number: %s", bill.BillNumber))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Type: %s", bill.Type))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", bill.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Bill Date: %s", bill.BillDate.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Due Date: %s", bill.DueDate.Format("2006-01-02")))
	pdf.Ln(5)
	if !bill.PeriodStart.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s", bill.PeriodStart.Format("2006-01-02"), bill.PeriodEnd.Format("2006-01-02")))
		pdf.Ln(5)
	}
	if bill.Metadata != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Utility Period: %s", bill.Metadata.Period))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", bill.Metadata.GeneratedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Amount: %.2f", bill.Amount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Received: %.2f", bill.ReceivedAmount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Pending: %.2f", bill.PendingAmount))
	pdf.Ln(8)

	if len(details) > 0 {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 6, "Meter", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Usage", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Unit Price", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Amount", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, d := range details {
			pdf.CellFormat(40, 6, d.MeterType, "1", 0, "C", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", d.Usage), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", d.UnitPrice), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%.2f", d.Amount), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildBillRegisterXLSX renders an XLSX register of bills with one row per
// bill and a details sheet for utility line items.
func BuildBillRegisterXLSX(bills []billing.Bill, detailsByBill map[string][]billing.BillDetail) ([]byte, error) {
	f := excelize.NewFile()
	billsSheet := "bills"
	detailsSheet := "details"
	f.SetSheetName("Sheet1", billsSheet)
	f.NewSheet(detailsSheet)

	headers := []string{"Bill Number", "Type", "Status", "Amount", "Received", "Pending", "Bill Date", "Due Date"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(billsSheet, cell, h)
	}
	for i, bill := range bills {
		row := i + 2
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("A%d", row), bill.BillNumber)
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("B%d", row), string(bill.Type))
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("C%d", row), string(bill.Status))
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("D%d", row), bill.Amount)
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("E%d", row), bill.ReceivedAmount)
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("F%d", row), bill.PendingAmount)
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("G%d", row), bill.BillDate.Format("2006-01-02"))
		_ = f.SetCellValue(billsSheet, fmt.Sprintf("H%d", row), bill.DueDate.Format("2006-01-02"))
	}

	_ = f.SetCellValue(detailsSheet, "A1", "Bill Number")
	_ = f.SetCellValue(detailsSheet, "B1", "Meter")
	_ = f.SetCellValue(detailsSheet, "C1", "Usage")
	_ = f.SetCellValue(detailsSheet, "D1", "Unit Price")
	_ = f.SetCellValue(detailsSheet, "E1", "Amount")
	_ = f.SetCellValue(detailsSheet, "F1", "Price Source")
	row := 2
	for _, bill := range bills {
		for _, d := range detailsByBill[bill.ID] {
			_ = f.SetCellValue(detailsSheet, fmt.Sprintf("A%d", row), bill.BillNumber)
			_ = f.SetCellValue(detailsSheet, fmt.Sprintf("B%d", row), d.MeterType)
			_ = f.SetCellValue(detailsSheet, fmt.Sprintf("C%d", row), d.Usage)
			_ = f.SetCellValue(detailsSheet, fmt.Sprintf("D%d", row), d.UnitPrice)
			_ = f.SetCellValue(detailsSheet, fmt.Sprintf("E%d", row), d.Amount)
			_ = f.SetCellValue(detailsSheet, fmt.Sprintf("F%d", row), string(d.PriceSource))
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
