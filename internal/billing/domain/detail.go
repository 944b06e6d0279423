package billing

import "time"

// PriceSource records where a detail's unit price came from.
type PriceSource string

const (
	PriceFromMeterConfig   PriceSource = "METER_CONFIG"
	PriceFromGlobalSetting PriceSource = "GLOBAL_SETTING"
)

// BillDetail is one meter's line item within a UTILITIES bill.
// Invariants: Amount = Usage * UnitPrice; the sum of a bill's details equals
// the bill amount within MoneyTolerance.
type BillDetail struct {
	ID             string
	BillID         string
	MeterReadingID string
	MeterType      string
	Usage          float64
	UnitPrice      float64
	Amount         float64
	PriceSource    PriceSource
	CreatedAt      time.Time
}

// AmountConsistent reports whether Amount matches Usage * UnitPrice.
func (d *BillDetail) AmountConsistent() bool {
	return AmountsEqual(d.Amount, d.Usage*d.UnitPrice)
}

// SumDetailAmounts totals the line items of one bill.
func SumDetailAmounts(details []BillDetail) float64 {
	var sum float64
	for _, d := range details {
		sum += d.Amount
	}
	return sum
}
