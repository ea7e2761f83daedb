package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbat-sim/vbat-go/pkg/battery"
	"github.com/vbat-sim/vbat-go/pkg/param"
	"github.com/vbat-sim/vbat-go/pkg/schema"
)

func newEncoder(t *testing.T) *Encoder {
	t.Helper()
	set, err := schema.Default()
	require.NoError(t, err)
	enc, err := NewEncoder(set)
	require.NoError(t, err)
	return enc
}

func TestRecordVoltageCells(t *testing.T) {
	enc := newEncoder(t)

	tests := []struct {
		name    string
		voltage float64
		want    uint16
	}{
		{"nominal", 12.0, 12000},
		{"rounds up", 11.9996, 12000},
		{"rounds down", 3.7004, 3700},
		{"zero", 0, 0},
		{"negative clamps", -1, 0},
		{"never reaches sentinel", 80, CellUnused - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := enc.Record(battery.State{VoltageV: tt.voltage})

			require.Len(t, r.Voltages, 10)
			assert.Equal(t, tt.want, r.Voltages[0])
			for i := 1; i < len(r.Voltages); i++ {
				assert.Equal(t, uint16(65535), r.Voltages[i], "cell %d", i)
			}
		})
	}
}

func TestRecordFields(t *testing.T) {
	enc := newEncoder(t)

	r := enc.Record(battery.State{
		VoltageV:      12.0,
		CurrentA:      1.234,
		ConsumedMAh:   17.8,
		StateOfHealth: 99,
		StateOfCharge: 49.6,
		TemperatureC:  25.0,
	})

	assert.Equal(t, uint8(0), r.ID)
	assert.Equal(t, uint8(1), r.Function)
	assert.Equal(t, uint8(1), r.Type)
	assert.Equal(t, int16(2500), r.TemperatureCdeg)
	assert.Equal(t, int16(123), r.CurrentCA)
	assert.Equal(t, int32(17), r.CurrentConsumed)
	assert.Equal(t, r.CurrentConsumed, r.EnergyConsumed)
	assert.Equal(t, int8(49), r.BatteryRemaining)
}

func TestRecordClampsExtremes(t *testing.T) {
	enc := newEncoder(t)

	r := enc.Record(battery.State{
		CurrentA:      1e6,
		TemperatureC:  -1e6,
		ConsumedMAh:   math.MaxFloat64,
		StateOfCharge: 250,
	})

	assert.Equal(t, int16(math.MaxInt16), r.CurrentCA)
	assert.Equal(t, int16(math.MinInt16), r.TemperatureCdeg)
	assert.Equal(t, int32(math.MaxInt32), r.CurrentConsumed)
	assert.Equal(t, int8(100), r.BatteryRemaining)
}

func TestRecordNaN(t *testing.T) {
	enc := newEncoder(t)

	r := enc.Record(battery.State{
		VoltageV:      math.NaN(),
		CurrentA:      math.NaN(),
		TemperatureC:  math.NaN(),
		ConsumedMAh:   math.NaN(),
		StateOfCharge: math.NaN(),
	})

	assert.Equal(t, TemperatureUnknown, r.TemperatureCdeg)
	assert.Equal(t, RemainingUnknown, r.BatteryRemaining)
	assert.Equal(t, int16(0), r.CurrentCA)
	assert.Equal(t, int32(0), r.CurrentConsumed)
	assert.Equal(t, int32(0), r.EnergyConsumed)
	assert.Equal(t, CellUnused, r.Voltages[0])
}

func TestRecordNaNTemperatureFromModel(t *testing.T) {
	enc := newEncoder(t)
	cfg := battery.DefaultConfig()
	cfg.Temperature = func(battery.State) float64 { return math.NaN() }

	state := battery.NewModel(cfg).Tick(param.NewStore(nil))

	assert.Equal(t, TemperatureUnknown, enc.Record(state).TemperatureCdeg)
}

func TestRecordIsPure(t *testing.T) {
	enc := newEncoder(t)
	state := battery.State{VoltageV: 12, StateOfCharge: 50, StateOfHealth: 100, TemperatureC: 25}
	before := state

	first := enc.Record(state)
	second := enc.Record(state)

	assert.Equal(t, first, second)
	assert.Equal(t, before, state)
}

func TestEncodeMessage(t *testing.T) {
	enc := newEncoder(t)
	model := battery.NewModel(battery.DefaultConfig())

	msg, err := enc.Encode(model.State())
	require.NoError(t, err)
	assert.Equal(t, "BATTERY_STATUS", msg.Name())

	v, _ := msg.Get("voltages")
	cells, ok := v.([]uint16)
	require.True(t, ok)
	require.Len(t, cells, 10)
	assert.Equal(t, uint16(12000), cells[0])
	for _, c := range cells[1:] {
		assert.Equal(t, uint16(65535), c)
	}

	temp, err := msg.Int("temperature")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), temp)

	remaining, err := msg.Int("battery_remaining")
	require.NoError(t, err)
	assert.Equal(t, int64(50), remaining)
}

func TestNewEncoderMissingDefinitions(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "no battery status",
			data: "enums: {MAV_BATTERY_FUNCTION_ALL: 1, MAV_BATTERY_TYPE_LIPO: 1}\nmessages:\n  - {name: HEARTBEAT, id: 0}\n",
		},
		{
			name: "no enums",
			data: "messages:\n  - {name: BATTERY_STATUS, id: 147}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := schema.Parse([]byte(tt.data))
			require.NoError(t, err)

			_, err = NewEncoder(set)
			assert.Error(t, err)
		})
	}
}
