// Package telemetry maps the battery state onto the BATTERY_STATUS record.
package telemetry

import (
	"fmt"
	"math"

	"github.com/vbat-sim/vbat-go/pkg/battery"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

// Record layout constants.
const (
	// MessageName is the schema message the encoder produces.
	MessageName = "BATTERY_STATUS"

	// CellCount is the length of the per-cell voltage array.
	CellCount = 10

	// CellUnused marks a voltage slot with no cell behind it.
	CellUnused uint16 = math.MaxUint16

	// BatteryID is the index of the simulated battery.
	BatteryID = 0

	// TemperatureUnknown is sent when the temperature is not a number.
	TemperatureUnknown int16 = math.MaxInt16

	// RemainingUnknown is sent when the state of charge is not a number.
	RemainingUnknown int8 = -1
)

// StatusRecord is the outbound battery status in protocol units.
type StatusRecord struct {
	ID               uint8
	Function         uint8
	Type             uint8
	TemperatureCdeg  int16
	Voltages         [CellCount]uint16
	CurrentCA        int16
	CurrentConsumed  int32
	EnergyConsumed   int32
	BatteryRemaining int8
}

// Fields returns the record keyed by schema field name.
func (r StatusRecord) Fields() map[string]any {
	return map[string]any{
		"id":                r.ID,
		"battery_function":  r.Function,
		"type":              r.Type,
		"temperature":       r.TemperatureCdeg,
		"voltages":          r.Voltages[:],
		"current_battery":   r.CurrentCA,
		"current_consumed":  r.CurrentConsumed,
		"energy_consumed":   r.EnergyConsumed,
		"battery_remaining": r.BatteryRemaining,
	}
}

// Encoder turns battery state into status records and messages.
// The classification constants are resolved once from the message set.
type Encoder struct {
	set      *schema.MessageSet
	function uint8
	kind     uint8
}

// NewEncoder resolves the enum constants the record needs. It fails if the
// message set lacks them or the BATTERY_STATUS message.
func NewEncoder(set *schema.MessageSet) (*Encoder, error) {
	if _, err := set.Definition(MessageName); err != nil {
		return nil, err
	}

	function, err := set.Enum("MAV_BATTERY_FUNCTION_ALL")
	if err != nil {
		return nil, err
	}
	kind, err := set.Enum("MAV_BATTERY_TYPE_LIPO")
	if err != nil {
		return nil, err
	}

	return &Encoder{
		set:      set,
		function: uint8(function),
		kind:     uint8(kind),
	}, nil
}

// Record maps a state onto a status record. It has no side effects.
func (e *Encoder) Record(s battery.State) StatusRecord {
	r := StatusRecord{
		ID:               BatteryID,
		Function:         e.function,
		Type:             e.kind,
		TemperatureCdeg:  int16(clamp(math.Round(s.TemperatureC*100), math.MinInt16, math.MaxInt16, float64(TemperatureUnknown))),
		CurrentCA:        int16(clamp(math.Round(s.CurrentA*100), math.MinInt16, math.MaxInt16, 0)),
		CurrentConsumed:  int32(clamp(s.ConsumedMAh, 0, math.MaxInt32, 0)),
		EnergyConsumed:   int32(clamp(s.ConsumedMAh, 0, math.MaxInt32, 0)),
		BatteryRemaining: int8(clamp(s.StateOfCharge, 0, 100, float64(RemainingUnknown))),
	}

	r.Voltages[0] = uint16(clamp(math.Round(s.VoltageV*1000), 0, float64(CellUnused-1), float64(CellUnused)))
	for i := 1; i < CellCount; i++ {
		r.Voltages[i] = CellUnused
	}
	return r
}

// Encode builds the BATTERY_STATUS message for a state.
func (e *Encoder) Encode(s battery.State) (*schema.Message, error) {
	msg, err := e.set.Create(MessageName)
	if err != nil {
		return nil, err
	}
	if _, err := msg.SetFromMap(e.Record(s).Fields()); err != nil {
		return nil, fmt.Errorf("encode battery status: %w", err)
	}
	return msg, nil
}

// clamp limits v to [lo, hi] and maps NaN to unknown.
func clamp(v, lo, hi, unknown float64) float64 {
	if math.IsNaN(v) {
		return unknown
	}
	return math.Min(hi, math.Max(lo, v))
}
