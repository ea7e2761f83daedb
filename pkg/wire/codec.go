package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for link frames.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for link frames.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical, // Deterministic key ordering
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Configure decoder to be lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet, // Ignore duplicate keys (last wins)
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodePacket encodes a packet to CBOR bytes.
func EncodePacket(p *Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid packet: %w", err)
	}
	return Marshal(p)
}

// DecodePacket decodes CBOR bytes into a packet.
func DecodePacket(data []byte) (*Packet, error) {
	var p Packet
	if err := Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid packet: %w", err)
	}
	return &p, nil
}

// EncodeControlMessage encodes a control message (ping/pong/close) to CBOR bytes.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("%w: type %d", ErrNotAControl, msg.Type)
	}
	return Marshal(msg)
}

// DecodeControlMessage decodes CBOR bytes into a control message.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode control message: %w", err)
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("%w: type %d", ErrNotAControl, msg.Type)
	}
	return &msg, nil
}

// MessageType represents the type of a decoded frame.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypePacket
	MessageTypeControl
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypePacket:
		return "packet"
	case MessageTypeControl:
		return "control"
	default:
		return "unknown"
	}
}

// PeekMessageType examines CBOR data to determine the frame type
// without fully decoding it.
//
// Detection logic:
//   - Control: key 0 present with a valid control type
//   - Packet: key 0 absent and system ID (key 2) present
func PeekMessageType(data []byte) (MessageType, error) {
	var peek struct {
		ControlType *uint8 `cbor:"0,keyasint"`
		SystemID    *uint8 `cbor:"2,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return MessageTypeUnknown, fmt.Errorf("failed to peek message: %w", err)
	}

	if peek.ControlType != nil {
		if ControlMessageType(*peek.ControlType).IsValid() {
			return MessageTypeControl, nil
		}
		return MessageTypeUnknown, fmt.Errorf("%w: control type %d", ErrUnknownFormat, *peek.ControlType)
	}

	if peek.SystemID != nil {
		return MessageTypePacket, nil
	}

	return MessageTypeUnknown, ErrUnknownFormat
}

// Clone creates a deep copy of the CBOR data by re-encoding.
// Useful for copying messages without shared references.
func Clone[T any](v T) (T, error) {
	var result T
	data, err := Marshal(v)
	if err != nil {
		return result, err
	}
	err = Unmarshal(data, &result)
	return result, err
}

// Equal compares two values by their CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
