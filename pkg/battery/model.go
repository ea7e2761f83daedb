// Package battery models the simulated battery pack.
//
// The model is intentionally simple: it keeps just enough physical state for
// the telemetry stream to be meaningful and advances it once per scheduler
// tick. Only the parameter store is consulted during a tick, so the model
// itself needs no locking.
package battery

import (
	"math"

	"github.com/vbat-sim/vbat-go/pkg/param"
)

// Default model values.
const (
	DefaultNominalVoltage     = 12.0
	DefaultStateOfCharge      = 50.0
	DefaultStateOfHealth      = 100.0
	DefaultCapacityMAh        = 100.0
	DefaultLoadCurrentA       = 0.0
	DefaultDegradationPerTick = 0.001
	DefaultTemperatureC       = 25.0
)

// State is a snapshot of the simulated pack.
type State struct {
	// VoltageV is the pack voltage in volts.
	VoltageV float64

	// CurrentA is the current draw in amps.
	CurrentA float64

	// ConsumedMAh is the cumulative consumed charge. Never decreases.
	ConsumedMAh float64

	// StateOfHealth is in [0,100]. Never increases.
	StateOfHealth float64

	// StateOfCharge is in [0,100].
	StateOfCharge float64

	// TemperatureC is the pack temperature in degrees Celsius.
	TemperatureC float64
}

// TemperatureFunc derives the pack temperature from the state after a tick.
type TemperatureFunc func(State) float64

// ConstantTemperature returns a TemperatureFunc that always reports c.
func ConstantTemperature(c float64) TemperatureFunc {
	return func(State) float64 { return c }
}

// Config holds the initial values and fixed inputs of the model.
type Config struct {
	// NominalVoltage is the full-charge pack voltage the model holds.
	NominalVoltage float64

	// StateOfCharge is the initial state of charge.
	StateOfCharge float64

	// StateOfHealth is the initial state of health.
	StateOfHealth float64

	// CapacityMAh is used until BAT1_CAPACITY is received.
	CapacityMAh float64

	// LoadCurrentA is the constant load placed on the pack.
	LoadCurrentA float64

	// DegradationPerTick is subtracted from state of health on every tick
	// that draws current.
	DegradationPerTick float64

	// Temperature computes the pack temperature. Defaults to a constant
	// DefaultTemperatureC.
	Temperature TemperatureFunc
}

// DefaultConfig returns the model defaults.
func DefaultConfig() Config {
	return Config{
		NominalVoltage:     DefaultNominalVoltage,
		StateOfCharge:      DefaultStateOfCharge,
		StateOfHealth:      DefaultStateOfHealth,
		CapacityMAh:        DefaultCapacityMAh,
		LoadCurrentA:       DefaultLoadCurrentA,
		DegradationPerTick: DefaultDegradationPerTick,
		Temperature:        ConstantTemperature(DefaultTemperatureC),
	}
}

// Model advances the battery state.
type Model struct {
	config Config
	state  State
	ticks  uint64
}

// NewModel creates a model in its initial state.
func NewModel(config Config) *Model {
	if config.Temperature == nil {
		config.Temperature = ConstantTemperature(DefaultTemperatureC)
	}

	m := &Model{
		config: config,
		state: State{
			VoltageV:      config.NominalVoltage,
			CurrentA:      config.LoadCurrentA,
			StateOfHealth: clampPercent(config.StateOfHealth),
			StateOfCharge: clampPercent(config.StateOfCharge),
		},
	}
	m.state.TemperatureC = config.Temperature(m.state)
	return m
}

// State returns a copy of the current state.
func (m *Model) State() State {
	return m.state
}

// Ticks returns the number of completed ticks.
func (m *Model) Ticks() uint64 {
	return m.ticks
}

// Capacity returns the capacity the next tick will use.
func (m *Model) Capacity(params param.Reader) float64 {
	if params != nil {
		if c, ok := params.Lookup(param.Capacity); ok {
			return c
		}
	}
	return m.config.CapacityMAh
}

// Tick advances the model by one step and returns the new state.
func (m *Model) Tick(params param.Reader) State {
	load := m.config.LoadCurrentA

	discharge := 0.0
	if capacity := m.Capacity(params); capacity > 0 && load > 0 {
		discharge = load / capacity
	}

	s := m.state
	s.CurrentA = load
	s.ConsumedMAh += discharge

	if discharge > 0 {
		s.StateOfHealth = math.Max(0, s.StateOfHealth-m.config.DegradationPerTick)

		// A fully degraded pack has no meaningful charge ratio left.
		if s.StateOfHealth > 0 {
			s.StateOfCharge = math.Max(0, s.StateOfCharge-discharge/s.StateOfHealth)
		}
	}

	s.VoltageV = m.config.NominalVoltage
	s.TemperatureC = m.config.Temperature(s)

	m.state = s
	m.ticks++
	return s
}

func clampPercent(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}
