package schema

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed definitions/*.yaml
var definitionsFS embed.FS

// DefaultDefinitions is the embedded definition file used when no path is
// configured.
const DefaultDefinitions = "definitions/common.yaml"

// Schema errors.
var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrUnknownEnum    = errors.New("unknown enum")
	ErrUnknownField   = errors.New("unknown field")
	ErrDuplicate      = errors.New("duplicate definition")
	ErrNoMessages     = errors.New("definition file has no messages")
)

// definitionFile is the YAML structure of a definition file.
type definitionFile struct {
	Version  int              `yaml:"version"`
	Enums    map[string]int64 `yaml:"enums"`
	Messages []messageDefYAML `yaml:"messages"`
}

type messageDefYAML struct {
	Name   string         `yaml:"name"`
	ID     uint32         `yaml:"id"`
	Fields []fieldDefYAML `yaml:"fields"`
}

type fieldDefYAML struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Len  int    `yaml:"len"`
}

// Field is one field of a message definition.
type Field struct {
	Name string
	Key  uint16
	Type FieldType
}

// Definition describes a message.
type Definition struct {
	Name   string
	ID     uint32
	Fields []Field

	byName map[string]int
	byKey  map[uint16]int
}

// Field returns the named field.
func (d *Definition) Field(name string) (Field, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Field{}, false
	}
	return d.Fields[i], true
}

// FieldByKey returns the field with the given wire key.
func (d *Definition) FieldByKey(key uint16) (Field, bool) {
	i, ok := d.byKey[key]
	if !ok {
		return Field{}, false
	}
	return d.Fields[i], true
}

// MessageSet is a loaded, immutable set of message definitions and enums.
type MessageSet struct {
	version int
	byName  map[string]*Definition
	byID    map[uint32]*Definition
	enums   map[string]int64
}

var (
	defaultOnce sync.Once
	defaultSet  *MessageSet
	defaultErr  error
)

// Default returns the message set built from the embedded definitions.
func Default() (*MessageSet, error) {
	defaultOnce.Do(func() {
		data, err := definitionsFS.ReadFile(DefaultDefinitions)
		if err != nil {
			defaultErr = fmt.Errorf("embedded definitions: %w", err)
			return
		}
		defaultSet, defaultErr = Parse(data)
	})
	return defaultSet, defaultErr
}

// Load reads a definition file from disk. An empty path loads the embedded
// definitions.
func Load(path string) (*MessageSet, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse builds a message set from YAML definition data.
func Parse(data []byte) (*MessageSet, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if len(f.Messages) == 0 {
		return nil, ErrNoMessages
	}

	set := &MessageSet{
		version: f.Version,
		byName:  make(map[string]*Definition, len(f.Messages)),
		byID:    make(map[uint32]*Definition, len(f.Messages)),
		enums:   make(map[string]int64, len(f.Enums)),
	}
	for name, v := range f.Enums {
		set.enums[name] = v
	}

	for _, m := range f.Messages {
		if m.Name == "" {
			return nil, fmt.Errorf("message with id %d has no name", m.ID)
		}
		if _, exists := set.byName[m.Name]; exists {
			return nil, fmt.Errorf("%w: message %s", ErrDuplicate, m.Name)
		}
		if other, exists := set.byID[m.ID]; exists {
			return nil, fmt.Errorf("%w: id %d used by %s and %s", ErrDuplicate, m.ID, other.Name, m.Name)
		}

		def := &Definition{
			Name:   m.Name,
			ID:     m.ID,
			Fields: make([]Field, 0, len(m.Fields)),
			byName: make(map[string]int, len(m.Fields)),
			byKey:  make(map[uint16]int, len(m.Fields)),
		}
		for i, fd := range m.Fields {
			if _, exists := def.byName[fd.Name]; exists {
				return nil, fmt.Errorf("%w: field %s.%s", ErrDuplicate, m.Name, fd.Name)
			}
			ft, err := ParseFieldType(fd.Type, fd.Len)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", m.Name, fd.Name, err)
			}
			field := Field{Name: fd.Name, Key: uint16(i + 1), Type: ft}
			def.byName[field.Name] = len(def.Fields)
			def.byKey[field.Key] = len(def.Fields)
			def.Fields = append(def.Fields, field)
		}

		set.byName[def.Name] = def
		set.byID[def.ID] = def
	}

	return set, nil
}

// Version returns the definition file version.
func (s *MessageSet) Version() int {
	return s.version
}

// Definition returns the named message definition.
func (s *MessageSet) Definition(name string) (*Definition, error) {
	def, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}
	return def, nil
}

// DefinitionByID returns the message definition with the given ID.
func (s *MessageSet) DefinitionByID(id uint32) (*Definition, error) {
	def, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownMessage, id)
	}
	return def, nil
}

// Messages returns the names of all defined messages, sorted.
func (s *MessageSet) Messages() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enum returns the value of a named enum constant.
func (s *MessageSet) Enum(name string) (int64, error) {
	v, ok := s.enums[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEnum, name)
	}
	return v, nil
}

// Create returns an empty message of the named type. Unset fields encode
// as their zero value.
func (s *MessageSet) Create(name string) (*Message, error) {
	def, err := s.Definition(name)
	if err != nil {
		return nil, err
	}
	return newMessage(def), nil
}
