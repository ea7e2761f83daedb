package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vbat-sim/vbat-go/pkg/wire"
)

// Message is an instance of a message definition with typed field values.
// A Message is not safe for concurrent mutation; build it, then send it.
type Message struct {
	def    *Definition
	values map[string]any
}

func newMessage(def *Definition) *Message {
	return &Message{
		def:    def,
		values: make(map[string]any, len(def.Fields)),
	}
}

// Name returns the message name, e.g. "PARAM_VALUE".
func (m *Message) Name() string {
	return m.def.Name
}

// ID returns the message ID.
func (m *Message) ID() uint32 {
	return m.def.ID
}

// Definition returns the message definition.
func (m *Message) Definition() *Definition {
	return m.def
}

// Set assigns a single field after coercing it to the field type.
func (m *Message) Set(name string, v any) error {
	f, ok := m.def.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, m.def.Name, name)
	}
	cv, err := f.Type.Coerce(v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", m.def.Name, name, err)
	}
	m.values[name] = cv
	return nil
}

// SetFromMap assigns every entry of fields. It stops at the first invalid
// entry and returns the message so calls can be chained after Create.
func (m *Message) SetFromMap(fields map[string]any) (*Message, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.Set(name, fields[name]); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Get returns the value of a field. Unset fields report their zero value.
func (m *Message) Get(name string) (any, bool) {
	f, ok := m.def.Field(name)
	if !ok {
		return nil, false
	}
	if v, set := m.values[name]; set {
		return v, true
	}
	return f.Type.Zero(), true
}

// Float returns a numeric field as float64.
func (m *Message) Float(name string) (float64, error) {
	v, ok := m.Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownField, m.def.Name, name)
	}
	f, ok := toFloat64(v)
	if !ok {
		return 0, fmt.Errorf("%s.%s: %w", m.def.Name, name, ErrTypeMismatch)
	}
	return f, nil
}

// Int returns an integer field as int64.
func (m *Message) Int(name string) (int64, error) {
	v, ok := m.Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownField, m.def.Name, name)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %w", m.def.Name, name, err)
	}
	return n, nil
}

// Text returns a string field.
func (m *Message) Text(name string) (string, error) {
	v, ok := m.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, m.def.Name, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s.%s: %w", m.def.Name, name, ErrTypeMismatch)
	}
	return s, nil
}

// Fields returns all field values by name, including zero values for
// unset fields.
func (m *Message) Fields() map[string]any {
	out := make(map[string]any, len(m.def.Fields))
	for _, f := range m.def.Fields {
		out[f.Name], _ = m.Get(f.Name)
	}
	return out
}

// Summary renders the message as "NAME{field=value ...}" in field order.
func (m *Message) Summary() string {
	var b strings.Builder
	b.WriteString(m.def.Name)
	b.WriteByte('{')
	for i, f := range m.def.Fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		v, _ := m.Get(f.Name)
		fmt.Fprintf(&b, "%s=%v", f.Name, v)
	}
	b.WriteByte('}')
	return b.String()
}

// Packet encodes the message into a wire packet from the given sender.
func (m *Message) Packet(systemID, componentID, seq uint8) *wire.Packet {
	payload := make(map[uint16]any, len(m.def.Fields))
	for _, f := range m.def.Fields {
		payload[f.Key], _ = m.Get(f.Name)
	}
	return &wire.Packet{
		MessageID:   m.def.ID,
		SystemID:    systemID,
		ComponentID: componentID,
		Sequence:    seq,
		Payload:     payload,
	}
}

// Decode converts a wire packet back into a message. Payload keys that the
// definition does not know are skipped so newer peers can add fields.
func (s *MessageSet) Decode(pkt *wire.Packet) (*Message, error) {
	def, err := s.DefinitionByID(pkt.MessageID)
	if err != nil {
		return nil, err
	}

	m := newMessage(def)
	for key, raw := range pkt.Payload {
		f, ok := def.FieldByKey(key)
		if !ok {
			continue
		}
		v, err := f.Type.Coerce(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
		}
		m.values[f.Name] = v
	}
	return m, nil
}
