package peer

import (
	"fmt"
	"math"

	"github.com/vbat-sim/vbat-go/pkg/schema"
)

// BatteryStatus is a BATTERY_STATUS converted back to physical units.
type BatteryStatus struct {
	VoltageV     float64
	CurrentA     float64
	ConsumedMAh  float64
	Remaining    int
	TemperatureC float64
}

// DecodeBatteryStatus reads a BATTERY_STATUS message. Cells reported as
// 65535 are not present and are not summed.
func DecodeBatteryStatus(msg *schema.Message) (BatteryStatus, error) {
	var s BatteryStatus
	if msg.Name() != BatteryStatusMessage {
		return s, fmt.Errorf("not a battery status: %s", msg.Name())
	}

	raw, _ := msg.Get("voltages")
	cells, ok := raw.([]uint16)
	if !ok {
		return s, fmt.Errorf("voltages: unexpected %T", raw)
	}
	for _, mv := range cells {
		if mv == math.MaxUint16 {
			continue
		}
		s.VoltageV += float64(mv) / 1000
	}

	current, err := msg.Int("current_battery")
	if err != nil {
		return s, err
	}
	s.CurrentA = float64(current) / 100

	consumed, err := msg.Int("current_consumed")
	if err != nil {
		return s, err
	}
	s.ConsumedMAh = float64(consumed)

	remaining, err := msg.Int("battery_remaining")
	if err != nil {
		return s, err
	}
	s.Remaining = int(remaining)

	temp, err := msg.Int("temperature")
	if err != nil {
		return s, err
	}
	s.TemperatureC = float64(temp) / 100

	return s, nil
}

func (s BatteryStatus) String() string {
	return fmt.Sprintf("%.3fV %.2fA %.0fmAh %d%% %.1fC",
		s.VoltageV, s.CurrentA, s.ConsumedMAh, s.Remaining, s.TemperatureC)
}
