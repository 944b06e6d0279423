package billing

import (
	"encoding/json"
	"errors"
	"time"
)

// MetadataVersion is bumped when the serialized shape changes.
const MetadataVersion = 1

// Generation strategies for utility bills.
const (
	StrategyAggregate = "AGGREGATE"
	StrategySingle    = "SINGLE"
)

// Breakdown categories used as keys in the metadata breakdown map.
const (
	CategoryElectricity = "electricity"
	CategoryWater       = "water"
	CategoryGas         = "gas"
)

// BreakdownEntry is one utility category inside the metadata blob.
type BreakdownEntry struct {
	Usage       float64     `json:"usage"`
	UnitPrice   float64     `json:"unitPrice"`
	Amount      float64     `json:"amount"`
	PriceSource PriceSource `json:"priceSource"`
}

// UtilityMetadata is the typed, versioned payload stored on UTILITIES bills.
// The repair engine reconstructs lost detail rows from it, so the serialized
// shape is a durability contract, not incidental.
type UtilityMetadata struct {
	Version            int                       `json:"version"`
	Period             string                    `json:"period"`
	Breakdown          map[string]BreakdownEntry `json:"breakdown"`
	MeterReadingIDs    []string                  `json:"meterReadingIds"`
	GenerationStrategy string                    `json:"generationStrategy"`
	GeneratedAt        time.Time                 `json:"generatedAt"`
}

// EncodeMetadata serializes metadata for storage. Nil encodes to nil.
func EncodeMetadata(m *UtilityMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	if m.Version == 0 {
		m.Version = MetadataVersion
	}
	return json.Marshal(m)
}

// DecodeMetadata parses a stored metadata blob. Empty input yields nil.
func DecodeMetadata(raw []byte) (*UtilityMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m UtilityMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Join(errors.New("billing: undecodable bill metadata"), err)
	}
	return &m, nil
}
