package metering

import (
	"errors"
	"testing"
	"time"
)

func TestNewMeterReadingComputesUsageAndAmount(t *testing.T) {
	date := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	r, err := NewMeterReading("r-1", "m-1", "c-1", "room-1", MeterElectricity, 1200, 1350, 0.6, date)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r.Usage != 150 {
		t.Fatalf("usage %v, want 150", r.Usage)
	}
	if r.Amount != 90 {
		t.Fatalf("amount %v, want 90", r.Amount)
	}
	if r.Status != ReadingPending || r.IsBilled {
		t.Fatalf("new reading should be pending and unbilled: %+v", r)
	}
}

func TestNewMeterReadingRejectsRegression(t *testing.T) {
	_, err := NewMeterReading("r-1", "m-1", "c-1", "room-1", MeterColdWater, 500, 480, 3.5, time.Now())
	if !errors.Is(err, ErrReadingRegressed) {
		t.Fatalf("got %v, want ErrReadingRegressed", err)
	}
}

func TestMarkBilledAndReset(t *testing.T) {
	r, err := NewMeterReading("r-1", "m-1", "c-1", "room-1", MeterGas, 0, 10, 2.5, time.Now())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.MarkBilled()
	if !r.IsBilled || r.Status != ReadingBilled {
		t.Fatalf("mark billed: %+v", r)
	}
	r.ResetToPending()
	if r.IsBilled || r.Status != ReadingPending {
		t.Fatalf("reset: %+v", r)
	}
}

func TestMeterTypeValid(t *testing.T) {
	for _, mt := range []MeterType{MeterElectricity, MeterColdWater, MeterHotWater, MeterGas} {
		if !mt.Valid() {
			t.Fatalf("%s should be valid", mt)
		}
	}
	if MeterType("STEAM").Valid() {
		t.Fatalf("unknown type should be invalid")
	}
}
