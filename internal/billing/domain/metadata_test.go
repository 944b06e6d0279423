package billing

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMetadataRoundTripKeepsWireKeys(t *testing.T) {
	generated := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	meta := &UtilityMetadata{
		Period: "2026-08",
		Breakdown: map[string]BreakdownEntry{
			CategoryElectricity: {Usage: 125, UnitPrice: 0.6, Amount: 75, PriceSource: PriceFromMeterConfig},
			CategoryWater:       {Usage: 10, UnitPrice: 3.25, Amount: 32.5, PriceSource: PriceFromGlobalSetting},
		},
		MeterReadingIDs:    []string{"r-1", "r-2"},
		GenerationStrategy: StrategyAggregate,
		GeneratedAt:        generated,
	}

	raw, err := EncodeMetadata(meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if meta.Version != MetadataVersion {
		t.Fatalf("encode should stamp version %d, got %d", MetadataVersion, meta.Version)
	}

	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal wire form: %v", err)
	}
	for _, key := range []string{"version", "period", "breakdown", "meterReadingIds", "generationStrategy", "generatedAt"} {
		if _, ok := wire[key]; !ok {
			t.Fatalf("wire form missing key %q", key)
		}
	}
	breakdown := wire["breakdown"].(map[string]any)
	entry := breakdown["electricity"].(map[string]any)
	for _, key := range []string{"usage", "unitPrice", "amount", "priceSource"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("breakdown entry missing key %q", key)
		}
	}

	decoded, err := DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Period != "2026-08" || decoded.GenerationStrategy != StrategyAggregate {
		t.Fatalf("decoded fields drifted: %+v", decoded)
	}
	if len(decoded.MeterReadingIDs) != 2 {
		t.Fatalf("decoded reading ids = %v", decoded.MeterReadingIDs)
	}
	if !decoded.GeneratedAt.Equal(generated) {
		t.Fatalf("decoded generatedAt = %s, want %s", decoded.GeneratedAt, generated)
	}
}

func TestDecodeMetadataEmptyAndInvalid(t *testing.T) {
	if m, err := DecodeMetadata(nil); err != nil || m != nil {
		t.Fatalf("nil input should decode to nil, got %v %v", m, err)
	}
	if _, err := DecodeMetadata([]byte("{not json")); err == nil {
		t.Fatalf("invalid input should fail")
	}
}

func TestEncodeMetadataNil(t *testing.T) {
	raw, err := EncodeMetadata(nil)
	if err != nil || raw != nil {
		t.Fatalf("nil metadata should encode to nil, got %v %v", raw, err)
	}
}
