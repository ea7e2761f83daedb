package param

import (
	"log/slog"
	"sort"
	"sync"
)

// Parameter identifiers understood by the device.
const (
	LowThreshold       = "BAT_LOW_THR"
	CriticalThreshold  = "BAT_CRIT_THR"
	EmergencyThreshold = "BAT_EMERGEN_THR"
	AverageCurrent     = "BAT_AVRG_CURRENT"

	NumCells        = "BAT1_N_CELLS"
	VoltageDivider  = "BAT1_V_DIV"
	VoltageEmpty    = "BAT1_V_EMPTY"
	InternalResist  = "BAT1_R_INTERNAL"
	Capacity        = "BAT1_CAPACITY"
	CurrentChannel  = "BAT1_I_CHANNEL"
	Source          = "BAT1_SOURCE"
	VoltageChannel  = "BAT1_V_CHANNEL"
	VoltageCharged  = "BAT1_V_CHARGED"
	VoltageLoadDrop = "BAT1_V_LOAD_DROP"
	VoltageLoadRef  = "BAT1_V_LOAD_REF"
)

// vocabulary is the set of identifiers accepted by Write.
var vocabulary = map[string]struct{}{
	LowThreshold:       {},
	CriticalThreshold:  {},
	EmergencyThreshold: {},
	AverageCurrent:     {},
	NumCells:           {},
	VoltageDivider:     {},
	VoltageEmpty:       {},
	InternalResist:     {},
	Capacity:           {},
	CurrentChannel:     {},
	Source:             {},
	VoltageChannel:     {},
	VoltageCharged:     {},
	VoltageLoadDrop:    {},
	VoltageLoadRef:     {},
}

// IsKnown reports whether id belongs to the parameter vocabulary.
func IsKnown(id string) bool {
	_, ok := vocabulary[id]
	return ok
}

// Known returns the parameter vocabulary in sorted order.
func Known() []string {
	ids := make([]string, 0, len(vocabulary))
	for id := range vocabulary {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reader is the read side of a Store.
type Reader interface {
	Read(id string) float64
	Lookup(id string) (float64, bool)
}

// Writer is the write side of a Store.
type Writer interface {
	Write(id string, value float64) bool
}

// Store maps parameter identifiers to their last written value.
type Store struct {
	mu     sync.RWMutex
	values map[string]float64
	logger *slog.Logger
}

// NewStore creates an empty store. A nil logger uses slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		values: make(map[string]float64),
		logger: logger,
	}
}

// Write stores value under id, replacing any previous value.
// Unknown identifiers are ignored and Write returns false.
func (s *Store) Write(id string, value float64) bool {
	if !IsKnown(id) {
		s.logger.Info("ignoring unknown parameter", "param", id, "value", value)
		return false
	}

	s.mu.Lock()
	s.values[id] = value
	s.mu.Unlock()

	s.logger.Info("parameter updated", "param", id, "value", value)
	return true
}

// Read returns the value stored under id, or 0 if it was never written.
func (s *Store) Read(id string) float64 {
	v, _ := s.Lookup(id)
	return v
}

// Lookup returns the value stored under id and whether it was ever written.
func (s *Store) Lookup(id string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok
}

// Len returns the number of parameters written so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a copy of all written parameters.
func (s *Store) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.values))
	for id, v := range s.values {
		out[id] = v
	}
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ Reader = (*Store)(nil)
	_ Writer = (*Store)(nil)
)
