package billing

import (
	"fmt"
	"strings"
	"time"
)

// BillingCycle is how often rent is billed.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "MONTHLY"
	CycleQuarterly BillingCycle = "QUARTERLY"
	CycleYearly    BillingCycle = "YEARLY"
)

// Months returns the rent multiplier for a cycle.
func (c BillingCycle) Months() int {
	switch c {
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	default:
		return 1
	}
}

// ParseBillingCycle derives the cycle from the contract's free-text payment
// method. Mentions of a quarter or a year select those cycles; anything else
// is monthly.
func ParseBillingCycle(paymentMethod string) BillingCycle {
	text := strings.ToLower(paymentMethod)
	switch {
	case strings.Contains(text, "季") || strings.Contains(text, "quarter"):
		return CycleQuarterly
	case strings.Contains(text, "年") || strings.Contains(text, "year") || strings.Contains(text, "annual"):
		return CycleYearly
	default:
		return CycleMonthly
	}
}

// RentPeriod is a billing period with its due date.
type RentPeriod struct {
	Start   time.Time
	End     time.Time
	DueDate time.Time
}

// ComputeRentPeriod returns the full month/quarter/year containing billDate.
// The due date is fixed to the 15th of the period's start month.
func ComputeRentPeriod(billDate time.Time, cycle BillingCycle) RentPeriod {
	year, month, _ := billDate.Date()
	loc := billDate.Location()

	var start time.Time
	switch cycle {
	case CycleQuarterly:
		quarterStart := time.Month(((int(month)-1)/3)*3 + 1)
		start = time.Date(year, quarterStart, 1, 0, 0, 0, 0, loc)
	case CycleYearly:
		start = time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	default:
		start = time.Date(year, month, 1, 0, 0, 0, 0, loc)
	}

	end := start.AddDate(0, cycle.Months(), 0).Add(-time.Nanosecond)
	due := time.Date(start.Year(), start.Month(), 15, 0, 0, 0, 0, loc)
	return RentPeriod{Start: start, End: end, DueDate: due}
}

// BuildBillNumber renders the bill number contract:
// BILL<last-3-chars-of-contractNumber><TypeLetter><6-digit-time-suffix>.
func BuildBillNumber(contractNumber string, billType BillType, at time.Time) string {
	suffix := contractNumber
	if len(suffix) > 3 {
		suffix = suffix[len(suffix)-3:]
	}
	return fmt.Sprintf("BILL%s%s%06d", suffix, billType.Letter(), at.UnixMilli()%1000000)
}
