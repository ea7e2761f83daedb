package peer

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultParamType is used for entries without an explicit type.
const DefaultParamType = "MAV_PARAM_TYPE_REAL32"

// MaxParamIDLen is the length of the param_id field.
const MaxParamIDLen = 16

// Table errors.
var (
	ErrEmptyParamID   = errors.New("empty parameter id")
	ErrParamIDTooLong = errors.New("parameter id too long")
	ErrDuplicateParam = errors.New("duplicate parameter")
	ErrUnknownParam   = errors.New("unknown parameter")
)

//go:embed params.yaml
var defaultTableYAML []byte

// ParamEntry is one row of the parameter table.
type ParamEntry struct {
	ID    string  `yaml:"id"`
	Value float64 `yaml:"value"`
	Type  string  `yaml:"type,omitempty"`
}

type tableFile struct {
	Params []ParamEntry `yaml:"params"`
}

// Table is the ordered parameter table served to devices. Order defines
// param_index.
type Table struct {
	mu      sync.RWMutex
	entries []ParamEntry
	index   map[string]int
}

// DefaultTable returns a fresh copy of the embedded table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultTableYAML)
}

// LoadTable reads a table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameter table: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTable parses a YAML table.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse parameter table: %w", err)
	}
	return NewTable(f.Params)
}

// NewTable validates entries and builds a table.
func NewTable(entries []ParamEntry) (*Table, error) {
	t := &Table{
		entries: make([]ParamEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if err := validateID(e.ID); err != nil {
			return nil, err
		}
		if _, dup := t.index[e.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParam, e.ID)
		}
		if e.Type == "" {
			e.Type = DefaultParamType
		}
		t.index[e.ID] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	return t, nil
}

func validateID(id string) error {
	if id == "" {
		return ErrEmptyParamID
	}
	if len(id) > MaxParamIDLen {
		return fmt.Errorf("%w: %q", ErrParamIDTooLong, id)
	}
	return nil
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy of the table in order.
func (t *Table) Entries() []ParamEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ParamEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lookup returns the entry for id and its index.
func (t *Table) Lookup(id string) (ParamEntry, int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[id]
	if !ok {
		return ParamEntry{}, -1, false
	}
	return t.entries[i], i, true
}

// Set updates an existing entry, or appends a new REAL32 entry when create
// is true.
func (t *Table) Set(id string, value float64, create bool) (ParamEntry, int, error) {
	if err := validateID(id); err != nil {
		return ParamEntry{}, -1, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		if !create {
			return ParamEntry{}, -1, fmt.Errorf("%w: %s", ErrUnknownParam, id)
		}
		i = len(t.entries)
		t.index[id] = i
		t.entries = append(t.entries, ParamEntry{ID: id, Type: DefaultParamType})
	}
	t.entries[i].Value = value
	return t.entries[i], i, nil
}
